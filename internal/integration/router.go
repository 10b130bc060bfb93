package integration

import (
	"context"
	"fmt"
	"time"

	"triagesync/internal/models"

	"github.com/rs/zerolog"
)

// RecordStore persists the entity-to-external-ID mappings the router consults.
type RecordStore interface {
	GetSyncRecord(ctx context.Context, integration, entityType, entityID string) (*models.SyncRecord, error)
	UpsertSyncRecord(ctx context.Context, rec *models.SyncRecord) error
}

// routeKey pairs an entity type with an operation; only registered pairs are
// dispatched, everything else is an ordinary "unsupported" failure that the
// retry policy handles like any other.
type routeKey struct {
	entityType string
	operation  models.Operation
}

var supportedRoutes = map[routeKey]bool{
	{"ticket", models.OpCreate}:  true,
	{"ticket", models.OpUpdate}:  true,
	{"ticket", models.OpSync}:    true,
	{"contact", models.OpCreate}: true,
	{"contact", models.OpUpdate}: true,
	{"contact", models.OpSync}:   true,
	{"deal", models.OpCreate}:    true,
	{"deal", models.OpUpdate}:    true,
	{"deal", models.OpSync}:      true,
	{"note", models.OpCreate}:    true,
}

// Router dispatches claimed tasks to the adapter registered for their
// integration and keeps sync records current on success.
type Router struct {
	adapters map[string]Adapter
	records  RecordStore
	logger   *zerolog.Logger
}

func NewRouter(records RecordStore, logger *zerolog.Logger, adapters ...Adapter) *Router {
	byName := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Router{adapters: byName, records: records, logger: logger}
}

// Route executes one task attempt. A create for an entity that already has a
// sync record is a no-op success: the work was done by an earlier attempt or
// a duplicate task.
func (r *Router) Route(ctx context.Context, task *models.SyncTask) error {
	adapter, ok := r.adapters[task.IntegrationType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownIntegration, task.IntegrationType)
	}
	if !supportedRoutes[routeKey{task.EntityType, task.Operation}] {
		return fmt.Errorf("%w: %s/%s", ErrUnsupported, task.EntityType, task.Operation)
	}

	switch task.Operation {
	case models.OpCreate:
		return r.routeCreate(ctx, adapter, task)
	case models.OpUpdate:
		return r.routeUpdate(ctx, adapter, task)
	case models.OpSync:
		return r.routeSync(ctx, adapter, task)
	default:
		return fmt.Errorf("unknown operation: %q", task.Operation)
	}
}

func (r *Router) routeCreate(ctx context.Context, adapter Adapter, task *models.SyncTask) error {
	existing, err := r.records.GetSyncRecord(ctx, task.IntegrationType, task.EntityType, task.EntityID)
	if err != nil {
		return fmt.Errorf("failed to check sync record: %w", err)
	}
	if existing != nil {
		r.logger.Debug().
			Str("task_id", task.ID).
			Str("integration", task.IntegrationType).
			Str("entity", task.EntityType+"/"+task.EntityID).
			Str("external_id", existing.ExternalID).
			Msg("entity already synced, skipping create")
		return nil
	}

	externalID, err := adapter.Create(ctx, task)
	if err != nil {
		return err
	}
	return r.upsertRecord(ctx, task, externalID, models.SourceLocal)
}

func (r *Router) routeUpdate(ctx context.Context, adapter Adapter, task *models.SyncTask) error {
	if err := adapter.Update(ctx, task); err != nil {
		return err
	}

	// Preserve the external ID a prior create established.
	externalID := ""
	if existing, err := r.records.GetSyncRecord(ctx, task.IntegrationType, task.EntityType, task.EntityID); err == nil && existing != nil {
		externalID = existing.ExternalID
	}
	return r.upsertRecord(ctx, task, externalID, models.SourceLocal)
}

func (r *Router) routeSync(ctx context.Context, adapter Adapter, task *models.SyncTask) error {
	externalID, err := adapter.Sync(ctx, task)
	if err != nil {
		return err
	}
	return r.upsertRecord(ctx, task, externalID, models.SourceRemote)
}

func (r *Router) upsertRecord(ctx context.Context, task *models.SyncTask, externalID, source string) error {
	if externalID == "" {
		externalID = task.EntityID
	}
	err := r.records.UpsertSyncRecord(ctx, &models.SyncRecord{
		IntegrationType:    task.IntegrationType,
		EntityType:         task.EntityType,
		EntityID:           task.EntityID,
		ExternalID:         externalID,
		SyncStatus:         models.SyncStatusSynced,
		LastSyncedAt:       time.Now().UTC(),
		LastModifiedSource: source,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert sync record: %w", err)
	}
	return nil
}
