package models

import "time"

const (
	// SourceLocal marks an entity last modified on our side, SourceRemote one
	// last refreshed from the integration target.
	SourceLocal  = "local"
	SourceRemote = "remote"

	SyncStatusSynced = "synced"
)

// SyncRecord maps a local entity to its external counterpart in one
// integration. Its presence lets duplicate create operations short-circuit.
type SyncRecord struct {
	IntegrationType    string    `json:"integration_type"`
	EntityType         string    `json:"entity_type"`
	EntityID           string    `json:"entity_id"`
	ExternalID         string    `json:"external_id"`
	SyncStatus         string    `json:"sync_status"`
	LastSyncedAt       time.Time `json:"last_synced_at"`
	LastModifiedSource string    `json:"last_modified_source"`
}

// IntegrationError is one row of the delivery failure audit log.
type IntegrationError struct {
	ID              int64     `json:"id"`
	IntegrationType string    `json:"integration_type"`
	Operation       string    `json:"operation"`
	EntityType      string    `json:"entity_type"`
	EntityID        string    `json:"entity_id"`
	ErrorMessage    string    `json:"error_message"`
	CreatedAt       time.Time `json:"created_at"`
}
