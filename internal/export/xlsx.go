package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"triagesync/internal/models"

	"github.com/xuri/excelize/v2"
)

// QueueReporter supplies the data the report is built from.
type QueueReporter interface {
	GetStats(ctx context.Context) (*models.QueueStats, error)
	ListFailed(ctx context.Context, limit int) ([]models.SyncTask, error)
	ListRecentIntegrationErrors(ctx context.Context, limit int) ([]models.IntegrationError, error)
}

const failedTasksLimit = 500

// WriteQueueReport renders queue statistics, dead-lettered tasks and the
// recent error log into an Excel workbook and returns the file path.
func WriteQueueReport(ctx context.Context, reporter QueueReporter, exportPath string) (string, error) {
	if err := os.MkdirAll(exportPath, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	stats, err := reporter.GetStats(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting queue stats: %w", err)
	}
	failed, err := reporter.ListFailed(ctx, failedTasksLimit)
	if err != nil {
		return "", fmt.Errorf("error listing failed tasks: %w", err)
	}
	errorLog, err := reporter.ListRecentIntegrationErrors(ctx, failedTasksLimit)
	if err != nil {
		return "", fmt.Errorf("error listing integration errors: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writeStatsSheet(f, stats); err != nil {
		return "", err
	}
	writeFailedSheet(f, failed)
	writeErrorLogSheet(f, errorLog)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("queue_report_%s.xlsx", time.Now().Format("2006-01-02_150405"))
	filePath := filepath.Join(exportPath, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return filePath, nil
}

func writeStatsSheet(f *excelize.File, stats *models.QueueStats) error {
	const sheetName = "Overview"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"Integration", "Total", "Queued", "Processing", "Completed", "Failed"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	row := 2
	for name, entry := range stats.ByIntegration {
		values := []interface{}{name, entry.Total, entry.Queued, entry.Processing, entry.Completed, entry.Failed}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		row++
	}

	totals := []interface{}{"TOTAL", stats.Total, stats.Queued, stats.Processing, stats.Completed, stats.Failed}
	for i, v := range totals {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheetName, cell, v)
	}

	style, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	_ = f.SetCellStyle(sheetName, "A1", "F1", style)
	_ = f.SetColWidth(sheetName, "A", "A", 25)
	return nil
}

func writeFailedSheet(f *excelize.File, failed []models.SyncTask) {
	const sheetName = "Dead Letter"
	_, _ = f.NewSheet(sheetName)

	headers := []string{"Task ID", "Integration", "Operation", "Entity", "Retries", "Error", "Failed At"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	for i, task := range failed {
		errMsg := ""
		if task.ErrorMessage != nil {
			errMsg = *task.ErrorMessage
		}
		failedAt := ""
		if task.CompletedAt != nil {
			failedAt = task.CompletedAt.Format("2006-01-02 15:04:05")
		}
		values := []interface{}{
			task.ID,
			task.IntegrationType,
			string(task.Operation),
			task.EntityType + "/" + task.EntityID,
			task.RetryCount,
			errMsg,
			failedAt,
		}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "F", "F", 50)
}

func writeErrorLogSheet(f *excelize.File, entries []models.IntegrationError) {
	const sheetName = "Error Log"
	_, _ = f.NewSheet(sheetName)

	headers := []string{"Integration", "Operation", "Entity", "Error", "At"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	for i, entry := range entries {
		values := []interface{}{
			entry.IntegrationType,
			entry.Operation,
			entry.EntityType + "/" + entry.EntityID,
			entry.ErrorMessage,
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "D", "D", 50)
}
