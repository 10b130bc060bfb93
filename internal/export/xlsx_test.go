package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"triagesync/internal/database"
	"triagesync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteQueueReport(t *testing.T) {
	logger := zerolog.New(zerolog.NewConsoleWriter())
	db, err := database.NewDB(filepath.Join(t.TempDir(), "sync.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	okTask := &models.SyncTask{IntegrationType: "crm", Operation: models.OpCreate, EntityType: "ticket", EntityID: "TR-1"}
	_, err = db.EnqueueTask(ctx, okTask)
	require.NoError(t, err)
	require.NoError(t, db.MarkCompleted(ctx, okTask.ID))

	deadTask := &models.SyncTask{IntegrationType: "helpdesk", Operation: models.OpUpdate, EntityType: "ticket", EntityID: "TR-2"}
	_, err = db.EnqueueTask(ctx, deadTask)
	require.NoError(t, err)
	require.NoError(t, db.MarkFailed(ctx, deadTask.ID, "remote rejected payload"))
	require.NoError(t, db.RecordIntegrationError(ctx, &models.IntegrationError{
		IntegrationType: "helpdesk",
		Operation:       "update",
		EntityType:      "ticket",
		EntityID:        "TR-2",
		ErrorMessage:    "remote rejected payload",
		CreatedAt:       time.Now(),
	}))

	exportDir := t.TempDir()
	path, err := WriteQueueReport(ctx, db, exportDir)
	require.NoError(t, err)
	assert.FileExists(t, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	assert.Contains(t, sheets, "Overview")
	assert.Contains(t, sheets, "Dead Letter")
	assert.Contains(t, sheets, "Error Log")

	rows, err := f.GetRows("Dead Letter")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, deadTask.ID, rows[1][0])
	assert.Equal(t, "helpdesk", rows[1][1])
	assert.Contains(t, rows[1][5], "remote rejected payload")

	rows, err = f.GetRows("Error Log")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ticket/TR-2", rows[1][2])
}
