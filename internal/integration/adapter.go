package integration

import (
	"context"
	"errors"

	"triagesync/internal/models"
)

var (
	ErrUnknownIntegration = errors.New("unknown integration")
	ErrUnsupported        = errors.New("unsupported")
)

// Adapter delivers one operation to one integration target. Implementations
// must be safe for concurrent use: the dispatcher executes tasks in parallel.
//
// Create and Sync return the external ID the target assigned to the entity;
// an empty string means the target reuses the local ID.
type Adapter interface {
	Name() string
	Create(ctx context.Context, task *models.SyncTask) (string, error)
	Update(ctx context.Context, task *models.SyncTask) error
	Sync(ctx context.Context, task *models.SyncTask) (string, error)
}
