package models

import "time"

type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpSync   Operation = "sync"
)

// SyncTask represents one unit of outbound synchronization work targeting a
// single integration/entity/operation triple.
type SyncTask struct {
	ID              string     `json:"id"`
	IntegrationType string     `json:"integration_type"`
	Operation       Operation  `json:"operation"`
	EntityType      string     `json:"entity_type"`
	EntityID        string     `json:"entity_id"`
	Payload         string     `json:"payload"`
	Priority        int        `json:"priority"`
	Status          TaskStatus `json:"status"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	ErrorMessage    *string    `json:"error_message"`
	CreatedAt       time.Time  `json:"created_at"`
}

// QueueStats aggregates task counts by status, overall and per integration.
type QueueStats struct {
	Total         int                         `json:"total"`
	Queued        int                         `json:"queued"`
	Processing    int                         `json:"processing"`
	Completed     int                         `json:"completed"`
	Failed        int                         `json:"failed"`
	ByIntegration map[string]IntegrationStats `json:"by_integration"`
}

type IntegrationStats struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
