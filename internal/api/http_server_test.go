package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"triagesync/internal/config"
	"triagesync/internal/database"
	"triagesync/internal/deadletter"
	"triagesync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		Port:    0,
		Auth: config.APIAuthConfig{
			Enabled:      boolPtr(true),
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: "ops-key", Extra: "ops-extra", Name: "ops"},
				{Key: "ro-key", Extra: "ro-extra", Name: "readonly", Permissions: []string{"read:queue"}},
			},
		},
	}
}

func setupServer(t *testing.T, cfg config.APIConfig) (*httptest.Server, *database.DB, *deadletter.MemorySink) {
	t.Helper()
	logger := zerolog.New(zerolog.NewConsoleWriter())
	db, err := database.NewDB(filepath.Join(t.TempDir(), "sync.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sink := deadletter.NewMemorySink(100)
	srv := NewHTTPServer(cfg, db, sink, t.TempDir(), &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, db, sink
}

func doRequest(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	var reqBody *strings.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	} else {
		reqBody = strings.NewReader("")
	}
	req, err := http.NewRequest(method, url, reqBody)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func opsHeaders() map[string]string {
	return map[string]string{"x-api-key": "ops-key", "x-api-extra": "ops-extra"}
}

func TestHealthEndpointSkipsAuth(t *testing.T) {
	ts, _, _ := setupServer(t, testAPIConfig())

	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRejectsMissingAndInvalidKeys(t *testing.T) {
	ts, _, _ := setupServer(t, testAPIConfig())

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/v1/stats", "", map[string]string{
		"x-api-key": "wrong", "x-api-extra": "ops-extra",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/v1/stats", "", map[string]string{
		"x-api-key": "ops-key", "x-api-extra": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthPermissions(t *testing.T) {
	ts, _, _ := setupServer(t, testAPIConfig())
	roHeaders := map[string]string{"x-api-key": "ro-key", "x-api-extra": "ro-extra"}

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/stats", "", roHeaders)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/v1/tasks", `{}`, roHeaders)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 1, Burst: 2}
	ts, _, _ := setupServer(t, cfg)

	limited := false
	for i := 0; i < 5; i++ {
		resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/stats", "", opsHeaders())
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst of requests should trip the limiter")
}

func TestEnqueueAndFetchTask(t *testing.T) {
	ts, _, _ := setupServer(t, testAPIConfig())

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/tasks",
		`{"integration_type":"crm","operation":"create","entity_type":"ticket","entity_id":"TR-1","payload":"{}","priority":2}`,
		opsHeaders())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/v1/tasks/"+created.ID, "", opsHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var task models.SyncTask
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&task))
	assert.Equal(t, "crm", task.IntegrationType)
	assert.Equal(t, 2, task.Priority)
	assert.Equal(t, models.TaskQueued, task.Status)
}

func TestEnqueueValidation(t *testing.T) {
	ts, _, _ := setupServer(t, testAPIConfig())

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/tasks",
		`{"integration_type":"crm","operation":"delete","entity_type":"ticket","entity_id":"TR-1"}`,
		opsHeaders())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/v1/tasks", `not json`, opsHeaders())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetryEndpoint(t *testing.T) {
	ts, db, _ := setupServer(t, testAPIConfig())
	ctx := context.Background()

	task := &models.SyncTask{IntegrationType: "crm", Operation: models.OpCreate, EntityType: "ticket", EntityID: "TR-1"}
	_, err := db.EnqueueTask(ctx, task)
	require.NoError(t, err)
	require.NoError(t, db.MarkFailed(ctx, task.ID, "boom"))

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/tasks/"+task.ID+"/retry", "", opsHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskQueued, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/v1/tasks/nope/retry", "", opsHeaders())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatsAndFailedEndpoints(t *testing.T) {
	ts, db, _ := setupServer(t, testAPIConfig())
	ctx := context.Background()

	task := &models.SyncTask{IntegrationType: "crm", Operation: models.OpCreate, EntityType: "ticket", EntityID: "TR-1"}
	_, err := db.EnqueueTask(ctx, task)
	require.NoError(t, err)
	require.NoError(t, db.MarkFailed(ctx, task.ID, "boom"))

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/stats", "", opsHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats models.QueueStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Failed)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/v1/tasks/failed", "", opsHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var failed struct {
		Tasks []models.SyncTask `json:"tasks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failed))
	require.Len(t, failed.Tasks, 1)
	assert.Equal(t, task.ID, failed.Tasks[0].ID)
}

func TestDeadLetterEndpoint(t *testing.T) {
	ts, _, sink := setupServer(t, testAPIConfig())

	require.NoError(t, sink.Push(context.Background(), &models.SyncTask{
		ID: "dead-1", IntegrationType: "crm", Status: models.TaskFailed,
	}))

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/deadletter", "", opsHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Tasks []models.SyncTask `json:"tasks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, "dead-1", body.Tasks[0].ID)
}

func TestCleanupEndpoint(t *testing.T) {
	ts, _, _ := setupServer(t, testAPIConfig())

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/cleanup?days=0", "", opsHeaders())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/v1/cleanup?days=30", "", opsHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Removed int64 `json:"removed"`
		Days    int   `json:"days"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(0), body.Removed)
	assert.Equal(t, 30, body.Days)
}

func TestReportsEndpoint(t *testing.T) {
	ts, db, _ := setupServer(t, testAPIConfig())
	ctx := context.Background()

	task := &models.SyncTask{IntegrationType: "crm", Operation: models.OpCreate, EntityType: "ticket", EntityID: "TR-1"}
	_, err := db.EnqueueTask(ctx, task)
	require.NoError(t, err)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/reports", "", opsHeaders())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body struct {
		Path string `json:"path"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.FileExists(t, body.Path)
}
