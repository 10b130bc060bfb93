package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"triagesync/internal/models"

	"github.com/google/uuid"
)

const taskColumns = `id, integration_type, operation, entity_type, entity_id, payload, priority, status,
              retry_count, max_retries, scheduled_at, started_at, completed_at, error_message, created_at`

// EnqueueTask validates and inserts a new queued task. Safe for concurrent
// producers. The task ID, status, retry counters and timestamps are assigned
// here; a zero priority is defaulted.
func (db *DB) EnqueueTask(ctx context.Context, task *models.SyncTask) (string, error) {
	if task.IntegrationType == "" {
		return "", errors.New("integration type is required")
	}
	if task.EntityType == "" {
		return "", errors.New("entity type is required")
	}
	if task.EntityID == "" {
		return "", errors.New("entity id is required")
	}
	switch task.Operation {
	case models.OpCreate, models.OpUpdate, models.OpSync:
	default:
		return "", fmt.Errorf("unknown operation: %q", task.Operation)
	}

	if task.Priority == 0 {
		task.Priority = models.DefaultPriority
	}

	now := time.Now().UTC()
	task.ID = uuid.NewString()
	task.Status = models.TaskQueued
	task.RetryCount = 0
	task.MaxRetries = db.defaultMaxRetries
	task.ScheduledAt = now
	task.CreatedAt = now

	query := `INSERT INTO sync_queue (id, integration_type, operation, entity_type, entity_id, payload,
              priority, status, retry_count, max_retries, scheduled_at, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		task.ID,
		task.IntegrationType,
		string(task.Operation),
		task.EntityType,
		task.EntityID,
		task.Payload,
		task.Priority,
		string(task.Status),
		task.RetryCount,
		task.MaxRetries,
		task.ScheduledAt,
		task.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue sync task: %w", err)
	}

	return task.ID, nil
}

// ClaimNext atomically claims the most urgent eligible task: lowest priority
// value first, earliest scheduled_at on ties. The claim is a single
// conditional UPDATE, so two concurrent dispatchers never receive the same
// row. Returns (nil, nil) when no task is eligible.
func (db *DB) ClaimNext(ctx context.Context) (*models.SyncTask, error) {
	now := time.Now().UTC()
	query := `UPDATE sync_queue
              SET status = ?, started_at = ?
              WHERE id = (
                  SELECT id FROM sync_queue
                  WHERE status = ? AND scheduled_at <= ?
                  ORDER BY priority ASC, scheduled_at ASC
                  LIMIT 1
              ) AND status = ?
              RETURNING ` + taskColumns

	row := db.QueryRowContext(ctx, query,
		string(models.TaskProcessing), now,
		string(models.TaskQueued), now,
		string(models.TaskQueued),
	)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim sync task: %w", err)
	}
	return task, nil
}

// MarkCompleted transitions a processing task to its successful terminal state.
func (db *DB) MarkCompleted(ctx context.Context, id string) error {
	query := `UPDATE sync_queue SET status = ?, completed_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, string(models.TaskCompleted), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to mark task completed: %w", err)
	}
	return nil
}

// MarkRetry returns a failed attempt to the queue with a bumped retry count
// and a backoff-deferred eligibility time.
func (db *DB) MarkRetry(ctx context.Context, id, errMsg string, newRetryCount int, scheduledAt time.Time) error {
	query := `UPDATE sync_queue
              SET status = ?, retry_count = ?, error_message = ?, scheduled_at = ?, started_at = NULL
              WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, string(models.TaskQueued), newRetryCount, errMsg, scheduledAt.UTC(), id); err != nil {
		return fmt.Errorf("failed to mark task for retry: %w", err)
	}
	return nil
}

// MarkFailed dead-letters a task. Only an operator RetryTask call can bring it
// back.
func (db *DB) MarkFailed(ctx context.Context, id, errMsg string) error {
	query := `UPDATE sync_queue SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, string(models.TaskFailed), errMsg, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return nil
}

// RetryTask is the operator-triggered reset. Valid regardless of the current
// status, including failed.
func (db *DB) RetryTask(ctx context.Context, id string) error {
	query := `UPDATE sync_queue
              SET status = ?, retry_count = 0, error_message = NULL,
                  scheduled_at = ?, started_at = NULL, completed_at = NULL
              WHERE id = ?`
	result, err := db.ExecContext(ctx, query, string(models.TaskQueued), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to retry task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read retry result: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// CleanupOldTasks removes completed tasks older than maxAgeDays. Queued,
// processing and failed rows survive regardless of age.
func (db *DB) CleanupOldTasks(ctx context.Context, maxAgeDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	query := `DELETE FROM sync_queue WHERE status = ? AND completed_at < ?`
	result, err := db.ExecContext(ctx, query, string(models.TaskCompleted), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old tasks: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read cleanup result: %w", err)
	}
	return removed, nil
}

// GetTask returns one task by ID.
func (db *DB) GetTask(ctx context.Context, id string) (*models.SyncTask, error) {
	query := `SELECT ` + taskColumns + ` FROM sync_queue WHERE id = ?`
	task, err := scanTask(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get sync task: %w", err)
	}
	return task, nil
}

// ListFailed returns dead-lettered tasks, most recent first.
func (db *DB) ListFailed(ctx context.Context, limit int) ([]models.SyncTask, error) {
	query := `SELECT ` + taskColumns + ` FROM sync_queue WHERE status = ? ORDER BY completed_at DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, string(models.TaskFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan failed task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// GetStats aggregates task counts by status, overall and per integration. The
// per-integration counts always sum to the top-level ones because both come
// from the same grouped query.
func (db *DB) GetStats(ctx context.Context) (*models.QueueStats, error) {
	query := `SELECT integration_type, status, COUNT(*) FROM sync_queue GROUP BY integration_type, status`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer rows.Close()

	stats := &models.QueueStats{ByIntegration: make(map[string]models.IntegrationStats)}
	for rows.Next() {
		var integration, status string
		var count int
		if err := rows.Scan(&integration, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}

		entry := stats.ByIntegration[integration]
		entry.Total += count
		stats.Total += count
		switch models.TaskStatus(status) {
		case models.TaskQueued:
			entry.Queued += count
			stats.Queued += count
		case models.TaskProcessing:
			entry.Processing += count
			stats.Processing += count
		case models.TaskCompleted:
			entry.Completed += count
			stats.Completed += count
		case models.TaskFailed:
			entry.Failed += count
			stats.Failed += count
		}
		stats.ByIntegration[integration] = entry
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.SyncTask, error) {
	var t models.SyncTask
	var operation, status string
	err := row.Scan(
		&t.ID,
		&t.IntegrationType,
		&operation,
		&t.EntityType,
		&t.EntityID,
		&t.Payload,
		&t.Priority,
		&status,
		&t.RetryCount,
		&t.MaxRetries,
		&t.ScheduledAt,
		&t.StartedAt,
		&t.CompletedAt,
		&t.ErrorMessage,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Operation = models.Operation(operation)
	t.Status = models.TaskStatus(status)
	return &t, nil
}
