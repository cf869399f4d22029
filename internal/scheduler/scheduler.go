package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/kanghyki/badang-post-office/pkg/config"
	"github.com/kanghyki/badang-post-office/pkg/db/models"
	"github.com/kanghyki/badang-post-office/pkg/enums"
	"github.com/kanghyki/badang-post-office/pkg/logger"
	"github.com/kanghyki/badang-post-office/pkg/metrics"
)

// Runner executes the delivery pipeline for a fired job.
type Runner interface {
	RunSend(ctx context.Context, postcardID, userID uuid.UUID, from ...enums.PostcardStatus) error
}

// Store is the slice of the postcard repository the scheduler needs: pending
// rows to restore at boot and a fresh status check at fire time.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Postcard, error)
	ListPendingScheduled(ctx context.Context) ([]models.Postcard, error)
}

type entry struct {
	timer  *time.Timer
	fireAt time.Time
}

// Scheduler keeps one in-memory timer per deferred postcard and hands fired
// jobs to a bounded worker pool. Timers do not survive a restart; Restore
// rebuilds them from the pending rows in the store.
type Scheduler struct {
	store  Store
	runner Runner
	logg   *logger.Logger
	met    *metrics.SchedulerMetrics
	now    func() time.Time

	mu      sync.Mutex
	timers  map[uuid.UUID]*entry
	queue   chan uuid.UUID
	started bool
	closed  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	workers int
}

type Params struct {
	Store   Store
	Runner  Runner
	Logger  *logger.Logger
	Metrics *metrics.SchedulerMetrics
	Config  config.SchedulerConfig
}

func New(params Params) *Scheduler {
	workers := params.Config.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := params.Config.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:   params.Store,
		runner:  params.Runner,
		logg:    params.Logger,
		met:     params.Metrics,
		now:     time.Now,
		timers:  map[uuid.UUID]*entry{},
		queue:   make(chan uuid.UUID, queueSize),
		baseCtx: ctx,
		cancel:  cancel,
		workers: workers,
	}
}

// Start launches the worker pool. It may be called exactly once.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("scheduler is stopped")
	}
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.logg.Info(s.logg.WithField(s.baseCtx, "workers", s.workers), "scheduler started")
	return nil
}

// Schedule registers (or replaces) the timer for one postcard. A fire time in
// the past fires immediately. It returns false only when the scheduler cannot
// accept work, never for an unknown postcard.
func (s *Scheduler) Schedule(postcardID uuid.UUID, fireAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.started {
		return false
	}

	if existing, ok := s.timers[postcardID]; ok {
		existing.timer.Stop()
	}

	delay := fireAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	e := &entry{fireAt: fireAt}
	e.timer = time.AfterFunc(delay, func() { s.fire(postcardID, e) })
	s.timers[postcardID] = e
	s.met.IncRegistered()
	return true
}

// Cancel removes the timer for one postcard. It returns false when no timer
// exists, which callers treat as informational.
func (s *Scheduler) Cancel(postcardID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.timers[postcardID]
	if !ok {
		return false
	}
	existing.timer.Stop()
	delete(s.timers, postcardID)
	s.met.IncCancelled()
	return true
}

// Reschedule moves the timer to a new fire time. A missing timer is not an
// error: the job is simply scheduled fresh.
func (s *Scheduler) Reschedule(postcardID uuid.UUID, fireAt time.Time) bool {
	return s.Schedule(postcardID, fireAt)
}

// Restore rebuilds timers from the store's pending rows. Jobs already past
// their fire time are dispatched immediately. Call after Start and before
// accepting new schedule requests.
func (s *Scheduler) Restore(ctx context.Context) error {
	rows, err := s.store.ListPendingScheduled(ctx)
	if err != nil {
		return err
	}

	var errs error
	restored, overdue := 0, 0
	for _, row := range rows {
		if row.ScheduledAt == nil {
			continue
		}
		fireAt := *row.ScheduledAt
		if !fireAt.After(s.now()) {
			s.met.IncOverdue()
			overdue++
			rowCtx := s.logg.WithPostcardID(ctx, row.ID.String())
			s.logg.Warn(s.logg.WithField(rowCtx, "scheduled_at", fireAt),
				"scheduled send missed its fire time, dispatching now")
			fireAt = s.now()
		}
		if !s.Schedule(row.ID, fireAt) {
			errs = multierr.Append(errs, fmt.Errorf("restore postcard %s: scheduler rejected job", row.ID))
			continue
		}
		restored++
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"restored": restored,
		"overdue":  overdue,
	}), "scheduler restore complete")
	return errs
}

// PendingCount reports how many timers are currently registered.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels all timers and drains the worker pool, honoring the context
// deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire(postcardID uuid.UUID, e *entry) {
	s.mu.Lock()
	// An upsert or cancel can land between the timer expiring and this
	// callback taking the lock; only the entry that registered this timer
	// may remove the bookkeeping and enqueue.
	if current, ok := s.timers[postcardID]; !ok || current != e {
		s.mu.Unlock()
		return
	}
	delete(s.timers, postcardID)
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.met.IncFired()
	select {
	case s.queue <- postcardID:
	case <-s.baseCtx.Done():
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case postcardID := <-s.queue:
			s.handleFire(postcardID)
		}
	}
}

// handleFire re-reads the row before running: a cancel or manual send that
// raced the timer leaves the postcard out of pending, and the run is skipped.
func (s *Scheduler) handleFire(postcardID uuid.UUID) {
	ctx := s.logg.WithPostcardID(s.baseCtx, postcardID.String())

	pc, err := s.store.Get(ctx, postcardID)
	if err != nil {
		s.logg.Error(ctx, "fired job lookup failed", err)
		return
	}
	if pc.Status != enums.PostcardStatusPending {
		s.logg.Debug(ctx, "fired job no longer pending, skipping")
		return
	}
	if err := s.runner.RunSend(ctx, postcardID, pc.UserID, enums.PostcardStatusPending); err != nil {
		s.logg.Error(ctx, "scheduled send failed", err)
	}
}
