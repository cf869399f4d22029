package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanghyki/badang-post-office/pkg/config"
	"github.com/kanghyki/badang-post-office/pkg/db/models"
	"github.com/kanghyki/badang-post-office/pkg/enums"
	"github.com/kanghyki/badang-post-office/pkg/logger"
)

type stubStore struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*models.Postcard
	pending []models.Postcard
}

func newStubStore() *stubStore {
	return &stubStore{rows: map[uuid.UUID]*models.Postcard{}}
}

func (s *stubStore) put(pc *models.Postcard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[pc.ID] = pc
}

func (s *stubStore) Get(_ context.Context, id uuid.UUID) (*models.Postcard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.rows[id]
	if !ok {
		return nil, errors.New("postcard not found")
	}
	copied := *pc
	return &copied, nil
}

func (s *stubStore) ListPendingScheduled(context.Context) ([]models.Postcard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, nil
}

type recordingRunner struct {
	mu    sync.Mutex
	runs  []uuid.UUID
	froms [][]enums.PostcardStatus
	done  chan uuid.UUID
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{done: make(chan uuid.UUID, 16)}
}

func (r *recordingRunner) RunSend(_ context.Context, postcardID, _ uuid.UUID, from ...enums.PostcardStatus) error {
	r.mu.Lock()
	r.runs = append(r.runs, postcardID)
	r.froms = append(r.froms, from)
	r.mu.Unlock()
	r.done <- postcardID
	return nil
}

func (r *recordingRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func newTestScheduler(t *testing.T, store Store, runner Runner) *Scheduler {
	t.Helper()
	s := New(Params{
		Store:  store,
		Runner: runner,
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Config: config.SchedulerConfig{Workers: 2, QueueSize: 16},
	})
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func pendingPostcard(store *stubStore) *models.Postcard {
	pc := &models.Postcard{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Status: enums.PostcardStatusPending,
	}
	store.put(pc)
	return pc
}

func waitForRun(t *testing.T, runner *recordingRunner, want uuid.UUID) {
	t.Helper()
	select {
	case got := <-runner.done:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job to run")
	}
}

func TestScheduleFiresAndRuns(t *testing.T) {
	store := newStubStore()
	runner := newRecordingRunner()
	s := newTestScheduler(t, store, runner)

	pc := pendingPostcard(store)
	assert.True(t, s.Schedule(pc.ID, time.Now().Add(10*time.Millisecond)))

	waitForRun(t, runner, pc.ID)
	assert.Equal(t, [][]enums.PostcardStatus{{enums.PostcardStatusPending}}, runner.froms)
	assert.Equal(t, 0, s.PendingCount())
}

func TestScheduleUpsertsExistingTimer(t *testing.T) {
	store := newStubStore()
	runner := newRecordingRunner()
	s := newTestScheduler(t, store, runner)

	pc := pendingPostcard(store)
	assert.True(t, s.Schedule(pc.ID, time.Now().Add(time.Hour)))
	assert.Equal(t, 1, s.PendingCount())

	// Replacing moves the fire time; the map holds one entry per postcard.
	assert.True(t, s.Schedule(pc.ID, time.Now().Add(10*time.Millisecond)))
	assert.Equal(t, 1, s.PendingCount())

	waitForRun(t, runner, pc.ID)
}

func TestUpsertSurvivesStaleFire(t *testing.T) {
	store := newStubStore()
	runner := newRecordingRunner()
	s := newTestScheduler(t, store, runner)

	pc := pendingPostcard(store)
	require.True(t, s.Schedule(pc.ID, time.Now().Add(time.Hour)))
	s.mu.Lock()
	stale := s.timers[pc.ID]
	s.mu.Unlock()

	// A replacement can land between the old timer expiring and its callback
	// taking the lock; the replacement's bookkeeping must survive the stale
	// callback.
	require.True(t, s.Schedule(pc.ID, time.Now().Add(2*time.Hour)))
	s.fire(pc.ID, stale)

	assert.Equal(t, 1, s.PendingCount())
	assert.True(t, s.Cancel(pc.ID), "the live timer stays cancellable")
	assert.Equal(t, 0, runner.runCount())
}

func TestCancelStopsTimer(t *testing.T) {
	store := newStubStore()
	runner := newRecordingRunner()
	s := newTestScheduler(t, store, runner)

	pc := pendingPostcard(store)
	require.True(t, s.Schedule(pc.ID, time.Now().Add(50*time.Millisecond)))
	assert.True(t, s.Cancel(pc.ID))
	assert.False(t, s.Cancel(pc.ID), "second cancel finds nothing")

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, runner.runCount())
}

func TestPastFireTimeRunsImmediately(t *testing.T) {
	store := newStubStore()
	runner := newRecordingRunner()
	s := newTestScheduler(t, store, runner)

	pc := pendingPostcard(store)
	assert.True(t, s.Schedule(pc.ID, time.Now().Add(-time.Hour)))
	waitForRun(t, runner, pc.ID)
}

func TestFireSkipsWhenNoLongerPending(t *testing.T) {
	store := newStubStore()
	runner := newRecordingRunner()
	s := newTestScheduler(t, store, runner)

	pc := &models.Postcard{ID: uuid.New(), UserID: uuid.New(), Status: enums.PostcardStatusWriting}
	store.put(pc)

	require.True(t, s.Schedule(pc.ID, time.Now().Add(10*time.Millisecond)))
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, runner.runCount(), "cancelled postcard must not send")
}

func TestRestoreRebuildsTimersAndFlagsOverdue(t *testing.T) {
	store := newStubStore()
	runner := newRecordingRunner()
	s := newTestScheduler(t, store, runner)

	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	upcoming := pendingPostcard(store)
	upcoming.ScheduledAt = &future
	missed := pendingPostcard(store)
	missed.ScheduledAt = &past

	store.pending = []models.Postcard{*upcoming, *missed}

	require.NoError(t, s.Restore(context.Background()))
	waitForRun(t, runner, missed.ID)
	assert.Equal(t, 1, s.PendingCount(), "future timer stays registered")
}

func TestStartTwiceFails(t *testing.T) {
	s := New(Params{
		Store:  newStubStore(),
		Runner: newRecordingRunner(),
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Config: config.SchedulerConfig{Workers: 1, QueueSize: 1},
	})
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestScheduleAfterStopReturnsFalse(t *testing.T) {
	store := newStubStore()
	runner := newRecordingRunner()
	s := New(Params{
		Store:  store,
		Runner: runner,
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Config: config.SchedulerConfig{Workers: 1, QueueSize: 1},
	})
	require.NoError(t, s.Start())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	assert.False(t, s.Schedule(uuid.New(), time.Now().Add(time.Minute)))
}
