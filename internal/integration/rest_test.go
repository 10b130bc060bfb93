package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"triagesync/internal/config"
	"triagesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRESTAdapter(t *testing.T, handler http.Handler) *RESTAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewRESTAdapter(config.IntegrationConfig{
		Name:         "crm",
		Kind:         config.KindREST,
		BaseURL:      server.URL,
		APIKey:       "secret",
		RateLimitRPS: 100,
	})
}

func restTask(op models.Operation) *models.SyncTask {
	return &models.SyncTask{
		IntegrationType: "crm",
		Operation:       op,
		EntityType:      "ticket",
		EntityID:        "TR-1",
		Payload:         `{"subject":"vpn down"}`,
	}
}

func TestRESTAdapterCreate(t *testing.T) {
	var gotMethod, gotPath, gotKey, gotBody string
	adapter := newRESTAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ext-77"})
	}))

	externalID, err := adapter.Create(context.Background(), restTask(models.OpCreate))
	require.NoError(t, err)
	assert.Equal(t, "ext-77", externalID)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/ticket", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.JSONEq(t, `{"subject":"vpn down"}`, gotBody)
}

func TestRESTAdapterUpdate(t *testing.T) {
	var gotMethod, gotPath string
	adapter := newRESTAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, adapter.Update(context.Background(), restTask(models.OpUpdate)))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/ticket/TR-1", gotPath)
}

func TestRESTAdapterSync(t *testing.T) {
	adapter := newRESTAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ext-5", "status": "open"})
	}))

	externalID, err := adapter.Sync(context.Background(), restTask(models.OpSync))
	require.NoError(t, err)
	assert.Equal(t, "ext-5", externalID)
}

func TestRESTAdapterCreateLargeResponseKeepsExternalID(t *testing.T) {
	// JSON object keys are encoded in sorted order, so the id field lands
	// after the padding, well past the 4KB mark.
	padding := strings.Repeat("x", 16*1024)
	adapter := newRESTAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"description": padding, "id": "ext-big"})
	}))

	externalID, err := adapter.Create(context.Background(), restTask(models.OpCreate))
	require.NoError(t, err)
	assert.Equal(t, "ext-big", externalID)
}

func TestRESTAdapterErrorSnippetTruncated(t *testing.T) {
	adapter := newRESTAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("y", 64*1024)))
	}))

	_, err := adapter.Create(context.Background(), restTask(models.OpCreate))
	require.Error(t, err)
	assert.Less(t, len(err.Error()), 8*1024, "error message carries a snippet, not the whole body")
}

func TestRESTAdapterErrorStatus(t *testing.T) {
	adapter := newRESTAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))

	_, err := adapter.Create(context.Background(), restTask(models.OpCreate))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRESTAdapterNonJSONResponseKeepsLocalID(t *testing.T) {
	adapter := newRESTAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	externalID, err := adapter.Create(context.Background(), restTask(models.OpCreate))
	require.NoError(t, err)
	assert.Empty(t, externalID)
}
