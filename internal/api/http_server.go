package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"triagesync/internal/config"
	"triagesync/internal/database"
	"triagesync/internal/deadletter"
	"triagesync/internal/export"
	"triagesync/internal/metrics"
	"triagesync/internal/models"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the operations API: enqueue, inspect and repair the
// sync queue.
type HTTPServer struct {
	cfg        config.APIConfig
	db         *database.DB
	sink       deadletter.Sink
	exportPath string
	logger     *zerolog.Logger
	server     *http.Server
	auth       *HTTPAuth
}

func NewHTTPServer(cfg config.APIConfig, db *database.DB, sink deadletter.Sink, exportPath string, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, db: db, sink: sink, exportPath: exportPath, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/v1/tasks", srv.handleTasks)
	mux.HandleFunc("/api/v1/tasks/failed", srv.handleFailedTasks)
	mux.HandleFunc("/api/v1/tasks/", srv.handleTaskByID)
	mux.HandleFunc("/api/v1/stats", srv.handleStats)
	mux.HandleFunc("/api/v1/errors", srv.handleErrors)
	mux.HandleFunc("/api/v1/deadletter", srv.handleDeadLetter)
	mux.HandleFunc("/api/v1/cleanup", srv.handleCleanup)
	mux.HandleFunc("/api/v1/reports", srv.handleReports)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler returns the composed handler, used by tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("operations API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTasks accepts a new sync task.
func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("/api/v1/tasks")

	type request struct {
		IntegrationType string `json:"integration_type"`
		Operation       string `json:"operation"`
		EntityType      string `json:"entity_type"`
		EntityID        string `json:"entity_id"`
		Payload         string `json:"payload"`
		Priority        int    `json:"priority"`
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	var body request
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	task := &models.SyncTask{
		IntegrationType: body.IntegrationType,
		Operation:       models.Operation(body.Operation),
		EntityType:      body.EntityType,
		EntityID:        body.EntityID,
		Payload:         body.Payload,
		Priority:        body.Priority,
	}
	id, err := s.db.EnqueueTask(r.Context(), task)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.IncEnqueued(task.IntegrationType)

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":           id,
		"status":       task.Status,
		"priority":     task.Priority,
		"scheduled_at": task.ScheduledAt,
	})
}

func (s *HTTPServer) handleFailedTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("/api/v1/tasks/failed")

	tasks, err := s.db.ListFailed(r.Context(), limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// handleTaskByID serves GET /api/v1/tasks/{id} and POST /api/v1/tasks/{id}/retry.
func (s *HTTPServer) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/retry"); ok {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		metrics.IncHTTP("/api/v1/tasks/retry")
		if err := s.db.RetryTask(r.Context(), id); err != nil {
			if errors.Is(err, database.ErrTaskNotFound) {
				writeError(w, http.StatusNotFound, "task not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to retry task")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(models.TaskQueued)})
		return
	}

	if r.Method != http.MethodGet || strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	metrics.IncHTTP("/api/v1/tasks/get")

	task, err := s.db.GetTask(r.Context(), rest)
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("/api/v1/stats")

	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleErrors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("/api/v1/errors")

	entries, err := s.db.ListRecentIntegrationErrors(r.Context(), limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list errors")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": entries})
}

func (s *HTTPServer) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("/api/v1/deadletter")

	if s.sink == nil {
		writeError(w, http.StatusNotFound, "dead letter sink not configured")
		return
	}
	tasks, err := s.sink.List(r.Context(), limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dead letter tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("/api/v1/cleanup")

	days := models.DefaultRetentionDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}

	removed, err := s.db.CleanupOldTasks(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "days": days})
}

func (s *HTTPServer) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("/api/v1/reports")

	path, err := export.WriteQueueReport(r.Context(), s.db, s.exportPath)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to write queue report")
		writeError(w, http.StatusInternalServerError, "failed to write report")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return def
	}
	return limit
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
