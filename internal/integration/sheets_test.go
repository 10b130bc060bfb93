package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"triagesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupSheetsAdapter(t *testing.T) (*http.ServeMux, *SheetsAdapter) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	return mux, &SheetsAdapter{
		name:          "sheets-mirror",
		service:       srv,
		spreadsheetID: "sheet_tid",
		rowCache:      make(map[string]int),
	}
}

func sheetsTask(op models.Operation, entityID string) *models.SyncTask {
	return &models.SyncTask{
		IntegrationType: "sheets-mirror",
		Operation:       op,
		EntityType:      "ticket",
		EntityID:        entityID,
		Payload:         `{"subject":"vpn down"}`,
	}
}

func TestSheetsAdapterCreateAppendsRow(t *testing.T) {
	mux, adapter := setupSheetsAdapter(t)

	// Empty column scan, then the append.
	mux.HandleFunc("/v4/spreadsheets/sheet_tid/values/Sync!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{})
	})
	appended := false
	mux.HandleFunc("/v4/spreadsheets/sheet_tid/values/Sync!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		appended = true
		var vr sheets.ValueRange
		require.NoError(t, json.NewDecoder(r.Body).Decode(&vr))
		require.Len(t, vr.Values, 1)
		assert.Equal(t, "ticket:TR-1", vr.Values[0][0])
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})
	})

	externalID, err := adapter.Create(context.Background(), sheetsTask(models.OpCreate, "TR-1"))
	require.NoError(t, err)
	assert.Equal(t, "ticket:TR-1", externalID)
	assert.True(t, appended)
}

func TestSheetsAdapterUpdateExistingRow(t *testing.T) {
	mux, adapter := setupSheetsAdapter(t)

	mux.HandleFunc("/v4/spreadsheets/sheet_tid/values/Sync!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{
			Values: [][]interface{}{{"key"}, {"ticket:TR-1"}},
		})
	})
	updated := false
	mux.HandleFunc("/v4/spreadsheets/sheet_tid/values/Sync!A2:E2", func(w http.ResponseWriter, r *http.Request) {
		updated = true
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})

	require.NoError(t, adapter.Update(context.Background(), sheetsTask(models.OpUpdate, "TR-1")))
	assert.True(t, updated)

	// Second update hits the cached row index without a rescan.
	require.NoError(t, adapter.Update(context.Background(), sheetsTask(models.OpUpdate, "TR-1")))
	row, ok := adapter.cachedRow("ticket:TR-1")
	assert.True(t, ok)
	assert.Equal(t, 2, row)
}

func TestSheetsAdapterSyncAppendsMissingRow(t *testing.T) {
	mux, adapter := setupSheetsAdapter(t)

	mux.HandleFunc("/v4/spreadsheets/sheet_tid/values/Sync!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"other:row"}}})
	})
	mux.HandleFunc("/v4/spreadsheets/sheet_tid/values/Sync!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})
	})

	externalID, err := adapter.Sync(context.Background(), sheetsTask(models.OpSync, "TR-2"))
	require.NoError(t, err)
	assert.Equal(t, "ticket:TR-2", externalID)
}
