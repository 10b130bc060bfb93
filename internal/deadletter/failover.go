package deadletter

import (
	"context"
	"sync/atomic"
	"time"

	"triagesync/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverSink writes to the primary sink and falls back to the secondary
// when the primary errors. The primary is retried once per recovery interval.
type FailoverSink struct {
	primary  Sink
	fallback Sink
	logger   *zerolog.Logger

	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverSink(primary, fallback Sink, logger *zerolog.Logger) *FailoverSink {
	return &FailoverSink{primary: primary, fallback: fallback, logger: logger}
}

func (s *FailoverSink) Push(ctx context.Context, task *models.SyncTask) error {
	if s.primaryAvailable() {
		err := s.primary.Push(ctx, task)
		if err == nil {
			s.isDown.Store(false)
			return nil
		}
		s.markDown(err)
	}
	return s.fallback.Push(ctx, task)
}

func (s *FailoverSink) List(ctx context.Context, limit int) ([]models.SyncTask, error) {
	if s.primaryAvailable() {
		tasks, err := s.primary.List(ctx, limit)
		if err == nil {
			s.isDown.Store(false)
			return tasks, nil
		}
		s.markDown(err)
	}
	return s.fallback.List(ctx, limit)
}

func (s *FailoverSink) primaryAvailable() bool {
	if !s.isDown.Load() {
		return true
	}
	// Retry the primary once per interval.
	last := s.lastCheck.Load()
	if time.Since(time.Unix(0, last)) > recoveryInterval {
		return s.lastCheck.CompareAndSwap(last, time.Now().UnixNano())
	}
	return false
}

func (s *FailoverSink) markDown(err error) {
	s.isDown.Store(true)
	s.lastCheck.Store(time.Now().UnixNano())
	s.logger.Error().Err(err).Msg("primary dead letter sink failed, falling back to memory")
}
