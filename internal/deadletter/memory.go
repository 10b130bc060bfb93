package deadletter

import (
	"context"
	"sync"

	"triagesync/internal/models"
)

// MemorySink is the in-process fallback used when Redis is unavailable or not
// configured. Bounded; oldest entries drop first.
type MemorySink struct {
	mu      sync.Mutex
	tasks   []models.SyncTask
	maxSize int
}

func NewMemorySink(maxSize int) *MemorySink {
	if maxSize <= 0 {
		maxSize = redisMaxEntries
	}
	return &MemorySink{maxSize: maxSize}
}

func (s *MemorySink) Push(_ context.Context, task *models.SyncTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Newest first, mirroring the Redis LPUSH order.
	s.tasks = append([]models.SyncTask{*task}, s.tasks...)
	if len(s.tasks) > s.maxSize {
		s.tasks = s.tasks[:s.maxSize]
	}
	return nil
}

func (s *MemorySink) List(_ context.Context, limit int) ([]models.SyncTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.tasks) {
		limit = len(s.tasks)
	}
	out := make([]models.SyncTask, limit)
	copy(out, s.tasks[:limit])
	return out, nil
}
