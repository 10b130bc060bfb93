package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"triagesync/internal/config"
	"triagesync/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const sheetTab = "Sync"

// SheetsAdapter mirrors entities into a Google spreadsheet, one row per
// entity keyed by "entityType:entityID" in column A. Row positions are cached
// so repeated updates avoid a full column scan.
type SheetsAdapter struct {
	name          string
	service       *sheets.Service
	spreadsheetID string

	rowCache map[string]int
	cacheMu  sync.RWMutex
}

func NewSheetsAdapter(ctx context.Context, cfg config.IntegrationConfig) (*SheetsAdapter, error) {
	credentialsJSON, err := os.ReadFile(cfg.Sheets.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return &SheetsAdapter{
		name:          cfg.Name,
		service:       srv,
		spreadsheetID: cfg.Sheets.SpreadsheetID,
		rowCache:      make(map[string]int),
	}, nil
}

func (a *SheetsAdapter) Name() string { return a.name }

// TestConnection reads the header cell to verify credentials and sharing.
func (a *SheetsAdapter) TestConnection(ctx context.Context) error {
	_, err := a.service.Spreadsheets.Values.Get(a.spreadsheetID, sheetTab+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

func (a *SheetsAdapter) Create(ctx context.Context, task *models.SyncTask) (string, error) {
	key := rowKey(task)
	if err := a.upsertRow(ctx, key, task); err != nil {
		return "", err
	}
	return key, nil
}

func (a *SheetsAdapter) Update(ctx context.Context, task *models.SyncTask) error {
	return a.upsertRow(ctx, rowKey(task), task)
}

// Sync verifies the entity row exists, appending it when missing.
func (a *SheetsAdapter) Sync(ctx context.Context, task *models.SyncTask) (string, error) {
	key := rowKey(task)
	if _, err := a.findRow(ctx, key); err != nil {
		if err := a.appendRow(ctx, key, task); err != nil {
			return "", err
		}
	}
	return key, nil
}

func (a *SheetsAdapter) upsertRow(ctx context.Context, key string, task *models.SyncTask) error {
	rowIdx, err := a.findRow(ctx, key)
	if err != nil {
		return a.appendRow(ctx, key, task)
	}

	rangeData := fmt.Sprintf("%s!A%d:E%d", sheetTab, rowIdx, rowIdx)
	_, err = a.service.Spreadsheets.Values.Update(a.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{rowValues(key, task)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update sheet row: %w", err)
	}
	return nil
}

func (a *SheetsAdapter) appendRow(ctx context.Context, key string, task *models.SyncTask) error {
	_, err := a.service.Spreadsheets.Values.Append(a.spreadsheetID, sheetTab+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{rowValues(key, task)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append sheet row: %w", err)
	}
	a.invalidateRow(key)
	return nil
}

// findRow locates the 1-based row index for a key in column A.
func (a *SheetsAdapter) findRow(ctx context.Context, key string) (int, error) {
	if row, ok := a.cachedRow(key); ok {
		return row, nil
	}

	resp, err := a.service.Spreadsheets.Values.Get(a.spreadsheetID, sheetTab+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if v, ok := row[0].(string); ok && v == key {
			rowIdx := i + 1
			a.setCachedRow(key, rowIdx)
			return rowIdx, nil
		}
	}
	return 0, fmt.Errorf("row not found for %s", key)
}

func (a *SheetsAdapter) cachedRow(key string) (int, bool) {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	row, ok := a.rowCache[key]
	return row, ok
}

func (a *SheetsAdapter) setCachedRow(key string, row int) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	a.rowCache[key] = row
}

func (a *SheetsAdapter) invalidateRow(key string) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	delete(a.rowCache, key)
}

func rowKey(task *models.SyncTask) string {
	return task.EntityType + ":" + task.EntityID
}

func rowValues(key string, task *models.SyncTask) []interface{} {
	return []interface{}{
		key,
		string(task.Operation),
		task.EntityType,
		task.Payload,
		time.Now().UTC().Format("2006-01-02 15:04:05"),
	}
}
