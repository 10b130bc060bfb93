package deadletter

import (
	"context"

	"triagesync/internal/models"
)

// Sink mirrors dead-lettered tasks for operator tooling. The SQLite failed
// row remains the source of truth; a sink is a convenience view, so Push
// errors are surfaced but never block the queue.
type Sink interface {
	Push(ctx context.Context, task *models.SyncTask) error
	List(ctx context.Context, limit int) ([]models.SyncTask, error)
}
