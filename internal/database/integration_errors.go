package database

import (
	"context"
	"fmt"
	"time"

	"triagesync/internal/models"
)

// RecordIntegrationError appends one row to the integration error audit log.
// The log is advisory; callers treat write failures as non-fatal.
func (db *DB) RecordIntegrationError(ctx context.Context, e *models.IntegrationError) error {
	now := time.Now().UTC()
	query := `INSERT INTO integration_errors (integration_type, operation, entity_type, entity_id, error_message, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		e.IntegrationType,
		e.Operation,
		e.EntityType,
		e.EntityID,
		e.ErrorMessage,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to record integration error: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	e.CreatedAt = now
	return nil
}

// ListRecentIntegrationErrors returns the newest audit entries.
func (db *DB) ListRecentIntegrationErrors(ctx context.Context, limit int) ([]models.IntegrationError, error) {
	query := `SELECT id, integration_type, operation, entity_type, entity_id, error_message, created_at
              FROM integration_errors ORDER BY id DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list integration errors: %w", err)
	}
	defer rows.Close()

	var entries []models.IntegrationError
	for rows.Next() {
		var e models.IntegrationError
		err := rows.Scan(&e.ID, &e.IntegrationType, &e.Operation, &e.EntityType, &e.EntityID, &e.ErrorMessage, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration error: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
