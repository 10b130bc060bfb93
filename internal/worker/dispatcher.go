package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"triagesync/internal/metrics"
	"triagesync/internal/models"

	"github.com/rs/zerolog"
)

// Store is the queue persistence surface the dispatcher drives.
type Store interface {
	ClaimNext(ctx context.Context) (*models.SyncTask, error)
	GetTask(ctx context.Context, id string) (*models.SyncTask, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id, errMsg string, newRetryCount int, scheduledAt time.Time) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	RecordIntegrationError(ctx context.Context, entry *models.IntegrationError) error
}

// Router delivers a claimed task to its integration target.
type Router interface {
	Route(ctx context.Context, task *models.SyncTask) error
}

// DeadLetter receives tasks that exhausted their retry budget. Push failures
// are logged, never fatal: the SQLite failed row remains the source of truth.
type DeadLetter interface {
	Push(ctx context.Context, task *models.SyncTask) error
}

const (
	stateStopped int32 = iota
	stateRunning
	stateStopping
)

var (
	ErrAlreadyRunning = errors.New("dispatcher already running")
	ErrNotRunning     = errors.New("dispatcher not running")
)

// Options tune the dispatcher loop. Zero values fall back to the defaults in
// the models package.
type Options struct {
	MaxConcurrent int
	PollInterval  time.Duration
	TaskTimeout   time.Duration
	Policy        Policy
}

func (o *Options) applyDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = models.DefaultMaxConcurrent
	}
	if o.PollInterval <= 0 {
		o.PollInterval = models.DefaultPollInterval
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = models.DefaultTaskTimeout
	}
}

// Dispatcher polls the queue and executes claimed tasks on a bounded pool of
// goroutines. One dispatcher per process; claims are atomic at the store
// level, so running several is safe but usually pointless.
type Dispatcher struct {
	store      Store
	router     Router
	deadLetter DeadLetter
	logger     *zerolog.Logger
	opts       Options

	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sem    chan struct{}
}

func NewDispatcher(store Store, router Router, deadLetter DeadLetter, logger *zerolog.Logger, opts Options) *Dispatcher {
	opts.applyDefaults()
	return &Dispatcher{
		store:      store,
		router:     router,
		deadLetter: deadLetter,
		logger:     logger,
		opts:       opts,
		sem:        make(chan struct{}, opts.MaxConcurrent),
	}
}

// Start launches the poll loop. Idempotent in the sense that a second call
// while running fails with ErrAlreadyRunning instead of spawning a twin.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.state.CompareAndSwap(stateStopped, stateRunning) {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go d.loop(loopCtx)

	d.logger.Info().
		Int("max_concurrent", d.opts.MaxConcurrent).
		Dur("poll_interval", d.opts.PollInterval).
		Dur("task_timeout", d.opts.TaskTimeout).
		Msg("dispatcher started")
	return nil
}

// Stop halts claiming and waits for in-flight tasks to finish. In-flight
// tasks are never cancelled mid-call; ctx only bounds how long Stop waits
// for them.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if !d.state.CompareAndSwap(stateRunning, stateStopping) {
		return ErrNotRunning
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("dispatcher drain interrupted: %w", ctx.Err())
	}

	d.state.Store(stateStopped)
	d.logger.Info().Msg("dispatcher stopped")
	return err
}

// Running reports whether the poll loop is active.
func (d *Dispatcher) Running() bool {
	return d.state.Load() == stateRunning
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		d.drainEligible(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drainEligible claims tasks until the queue has nothing eligible or every
// worker slot is busy.
func (d *Dispatcher) drainEligible(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d.sem <- struct{}{}:
		}

		task, err := d.store.ClaimNext(ctx)
		if err != nil {
			<-d.sem
			if ctx.Err() == nil {
				d.logger.Error().Err(err).Msg("failed to claim next task")
			}
			return
		}
		if task == nil {
			<-d.sem
			return
		}

		d.wg.Add(1)
		go d.execute(task)
	}
}

func (d *Dispatcher) execute(task *models.SyncTask) {
	defer d.wg.Done()
	defer func() { <-d.sem }()

	metrics.TaskStarted()
	defer metrics.TaskFinished()

	// Shutdown must not abort a call already on the wire, so the attempt
	// runs under its own timeout rather than the loop context.
	routeCtx, cancelRoute := context.WithTimeout(context.Background(), d.opts.TaskTimeout)
	defer cancelRoute()

	started := time.Now()
	err := d.router.Route(routeCtx, task)
	metrics.ObserveTaskDuration(task.IntegrationType, time.Since(started))

	// Bookkeeping gets its own deadline so an attempt that burned the whole
	// task timeout can still be recorded.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err == nil {
		if markErr := d.store.MarkCompleted(ctx, task.ID); markErr != nil {
			d.logger.Error().Err(markErr).Str("task_id", task.ID).Msg("failed to mark task completed")
			return
		}
		metrics.IncCompleted(task.IntegrationType)
		d.logger.Info().
			Str("task_id", task.ID).
			Str("integration", task.IntegrationType).
			Str("operation", string(task.Operation)).
			Str("entity", task.EntityType+"/"+task.EntityID).
			Dur("duration", time.Since(started)).
			Msg("task completed")
		return
	}

	d.handleFailure(ctx, task, err)
}

func (d *Dispatcher) handleFailure(ctx context.Context, task *models.SyncTask, taskErr error) {
	// An operator reset can land while the attempt is in flight, so the retry
	// budget is read back from the store instead of the claimed snapshot.
	current, err := d.store.GetTask(ctx, task.ID)
	if err != nil {
		d.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to reload task after failed attempt")
		return
	}
	newRetryCount := current.RetryCount + 1

	if d.opts.Policy.Terminal(newRetryCount, current.MaxRetries) {
		if markErr := d.store.MarkFailed(ctx, task.ID, taskErr.Error()); markErr != nil {
			d.logger.Error().Err(markErr).Str("task_id", task.ID).Msg("failed to mark task failed")
			return
		}
		metrics.IncDeadLettered(task.IntegrationType)
		d.logger.Error().
			Err(taskErr).
			Str("task_id", task.ID).
			Str("integration", task.IntegrationType).
			Int("retry_count", newRetryCount).
			Msg("task moved to dead letter")

		if auditErr := d.store.RecordIntegrationError(ctx, &models.IntegrationError{
			IntegrationType: task.IntegrationType,
			Operation:       string(task.Operation),
			EntityType:      task.EntityType,
			EntityID:        task.EntityID,
			ErrorMessage:    taskErr.Error(),
		}); auditErr != nil {
			d.logger.Warn().Err(auditErr).Str("task_id", task.ID).Msg("failed to record integration error")
		}

		if d.deadLetter != nil {
			if pushErr := d.deadLetter.Push(ctx, task); pushErr != nil {
				d.logger.Warn().Err(pushErr).Str("task_id", task.ID).Msg("failed to push task to dead letter sink")
			}
		}
		return
	}

	delay := d.opts.Policy.Backoff(newRetryCount)
	scheduledAt := time.Now().UTC().Add(delay)
	if markErr := d.store.MarkRetry(ctx, task.ID, taskErr.Error(), newRetryCount, scheduledAt); markErr != nil {
		d.logger.Error().Err(markErr).Str("task_id", task.ID).Msg("failed to schedule task retry")
		return
	}
	metrics.IncRetried(task.IntegrationType)
	d.logger.Warn().
		Err(taskErr).
		Str("task_id", task.ID).
		Str("integration", task.IntegrationType).
		Int("retry_count", newRetryCount).
		Dur("backoff", delay).
		Msg("task scheduled for retry")
}
