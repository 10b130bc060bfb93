package models

import "time"

const (
	// DefaultPriority is assigned when a producer omits the priority.
	// 1 is the most urgent, larger values are served later.
	DefaultPriority = 5

	DefaultMaxRetries    = 3
	DefaultMaxConcurrent = 5
	DefaultPollInterval  = 5 * time.Second
	DefaultTaskTimeout   = 30 * time.Second

	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = time.Minute

	DefaultRetentionDays = 7
)
