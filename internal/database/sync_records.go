package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"triagesync/internal/models"
)

// GetSyncRecord returns the mapping for an internal entity, or (nil, nil)
// when the entity has never been synced to the integration.
func (db *DB) GetSyncRecord(ctx context.Context, integrationType, entityType, entityID string) (*models.SyncRecord, error) {
	query := `SELECT integration_type, entity_type, entity_id, external_id, sync_status, last_synced_at, last_modified_source
              FROM sync_records
              WHERE integration_type = ? AND entity_type = ? AND entity_id = ?`

	var rec models.SyncRecord
	err := db.QueryRowContext(ctx, query, integrationType, entityType, entityID).Scan(
		&rec.IntegrationType,
		&rec.EntityType,
		&rec.EntityID,
		&rec.ExternalID,
		&rec.SyncStatus,
		&rec.LastSyncedAt,
		&rec.LastModifiedSource,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}
	return &rec, nil
}

// UpsertSyncRecord creates or refreshes the entity mapping. Records are never
// deleted; every successful create/update/sync passes through here.
func (db *DB) UpsertSyncRecord(ctx context.Context, rec *models.SyncRecord) error {
	if rec.SyncStatus == "" {
		rec.SyncStatus = models.SyncStatusSynced
	}
	if rec.LastSyncedAt.IsZero() {
		rec.LastSyncedAt = time.Now().UTC()
	}

	query := `INSERT INTO sync_records (integration_type, entity_type, entity_id, external_id, sync_status, last_synced_at, last_modified_source)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(integration_type, entity_type, entity_id) DO UPDATE SET
                  external_id = excluded.external_id,
                  sync_status = excluded.sync_status,
                  last_synced_at = excluded.last_synced_at,
                  last_modified_source = excluded.last_modified_source`

	_, err := db.ExecContext(ctx, query,
		rec.IntegrationType,
		rec.EntityType,
		rec.EntityID,
		rec.ExternalID,
		rec.SyncStatus,
		rec.LastSyncedAt,
		rec.LastModifiedSource,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync record: %w", err)
	}
	return nil
}
