package orchestrator

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-pipeline/config"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/events"
)

// memoryStatusStore records worker status transitions in memory
type memoryStatusStore struct {
	mu       sync.Mutex
	statuses map[string]*database.WorkerStatus
}

func newMemoryStatusStore() *memoryStatusStore {
	return &memoryStatusStore{statuses: make(map[string]*database.WorkerStatus)}
}

func (s *memoryStatusStore) UpsertWorkerStatus(ctx context.Context, status *database.WorkerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *status
	s.statuses[status.Name] = &copied
	return nil
}

// fakeWorker is a controllable worker for lifecycle tests
type fakeWorker struct {
	name     string
	priority int
	deps     []string
	startErr error

	mu      sync.Mutex
	started []time.Time
	stopped []time.Time
	healthy error
}

func (f *fakeWorker) Name() string           { return f.name }
func (f *fakeWorker) Priority() int          { return f.priority }
func (f *fakeWorker) Dependencies() []string { return f.deps }

func (f *fakeWorker) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, time.Now())
	return nil
}

func (f *fakeWorker) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, time.Now())
	return nil
}

func (f *fakeWorker) Healthy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeWorker) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func (f *fakeWorker) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stopped)
}

func testConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		StartDelay:         time.Millisecond,
		HealthInterval:     10 * time.Millisecond,
		MaxHealthFailures:  2,
		RestartBackoffBase: 10 * time.Millisecond,
		RestartBackoffMax:  50 * time.Millisecond,
	}
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// ============================================================================
// TEST: Start and stop ordering
// ============================================================================

func TestOrchestrator_StartStopLifecycle(t *testing.T) {
	first := &fakeWorker{name: "first", priority: 1}
	second := &fakeWorker{name: "second", priority: 2, deps: []string{"first"}}
	store := newMemoryStatusStore()

	orch := New(testConfig(), store, events.NewEventBus(), testLogger(), second, first)
	ctx := context.Background()

	if orch.State() != StateStopped {
		t.Fatalf("Expected initial state STOPPED, got %s", orch.State())
	}

	if err := orch.Start(ctx); err != nil {
		t.Fatalf("Expected start to succeed, got %v", err)
	}
	if orch.State() != StateRunning {
		t.Errorf("Expected RUNNING, got %s", orch.State())
	}
	if orch.RunID() == "" {
		t.Error("Expected a run id while running")
	}
	if first.startCount() != 1 || second.startCount() != 1 {
		t.Errorf("Expected both workers started once, got %d/%d", first.startCount(), second.startCount())
	}
	if !first.started[0].Before(second.started[0]) {
		t.Error("Expected lower priority worker to start first")
	}

	// start-all while already running is an idempotent no-op
	if err := orch.Start(ctx); err != nil {
		t.Errorf("Expected start while running to be a no-op, got %v", err)
	}
	if orch.State() != StateRunning {
		t.Errorf("Expected RUNNING after no-op start, got %s", orch.State())
	}
	if first.startCount() != 1 || second.startCount() != 1 {
		t.Errorf("Expected workers untouched by no-op start, got %d/%d", first.startCount(), second.startCount())
	}

	if err := orch.Stop(ctx); err != nil {
		t.Fatalf("Expected stop to succeed, got %v", err)
	}
	if orch.State() != StateStopped {
		t.Errorf("Expected STOPPED, got %s", orch.State())
	}
	if first.stopCount() != 1 || second.stopCount() != 1 {
		t.Errorf("Expected both workers stopped once, got %d/%d", first.stopCount(), second.stopCount())
	}
	if !second.stopped[0].Before(first.stopped[0]) {
		t.Error("Expected shutdown in reverse priority order")
	}

	// stop-all while already stopped is an idempotent no-op
	if err := orch.Stop(ctx); err != nil {
		t.Errorf("Expected stop while stopped to be a no-op, got %v", err)
	}
	if first.stopCount() != 1 || second.stopCount() != 1 {
		t.Errorf("Expected workers untouched by no-op stop, got %d/%d", first.stopCount(), second.stopCount())
	}
}

// ============================================================================
// TEST: Dependency gating
// ============================================================================

func TestOrchestrator_DependencyUnavailable(t *testing.T) {
	broken := &fakeWorker{name: "broken", priority: 1, startErr: errors.New("boom")}
	dependent := &fakeWorker{name: "dependent", priority: 2, deps: []string{"broken"}}
	store := newMemoryStatusStore()

	orch := New(testConfig(), store, events.NewEventBus(), testLogger(), broken, dependent)
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("Expected start to succeed overall, got %v", err)
	}
	defer orch.Stop(context.Background())

	status := orch.Status()
	byName := make(map[string]WorkerView)
	for _, w := range status.Workers {
		byName[w.Name] = w
	}

	if byName["broken"].State != WorkerFailed || byName["broken"].Reason != ReasonStartError {
		t.Errorf("Expected broken FAILED/START_ERROR, got %s/%s", byName["broken"].State, byName["broken"].Reason)
	}
	if byName["dependent"].State != WorkerFailed || byName["dependent"].Reason != ReasonDependencyUnavailable {
		t.Errorf("Expected dependent FAILED/DEPENDENCY_UNAVAILABLE, got %s/%s",
			byName["dependent"].State, byName["dependent"].Reason)
	}
	if dependent.startCount() != 0 {
		t.Error("Expected dependent worker to never start")
	}

	// Transitions were persisted
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.statuses["dependent"] == nil || store.statuses["dependent"].State != WorkerFailed {
		t.Error("Expected persisted FAILED status for dependent worker")
	}
}

// ============================================================================
// TEST: Unhealthy worker restart
// ============================================================================

func TestOrchestrator_RestartsUnhealthyWorker(t *testing.T) {
	worker := &fakeWorker{name: "flaky", priority: 1}
	store := newMemoryStatusStore()

	orch := New(testConfig(), store, events.NewEventBus(), testLogger(), worker)
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("Expected start to succeed, got %v", err)
	}
	defer orch.Stop(context.Background())

	worker.mu.Lock()
	worker.healthy = errors.New("stalled")
	worker.mu.Unlock()

	// Wait for probes to stop the worker, then let it recover
	deadline := time.After(2 * time.Second)
	for worker.stopCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("Worker was never stopped for being unhealthy")
		case <-time.After(5 * time.Millisecond):
		}
	}

	worker.mu.Lock()
	worker.healthy = nil
	worker.mu.Unlock()

	deadline = time.After(2 * time.Second)
	for worker.startCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("Worker was never restarted")
		case <-time.After(5 * time.Millisecond):
		}
	}

	status := orch.Status()
	if status.Workers[0].RestartCount == 0 {
		t.Error("Expected restart count to be recorded")
	}
}

// ============================================================================
// TEST: Restart backoff growth
// ============================================================================

func TestRestartBackoff(t *testing.T) {
	orch := New(config.OrchestratorConfig{
		RestartBackoffBase: time.Second,
		RestartBackoffMax:  10 * time.Second,
	}, newMemoryStatusStore(), events.NewEventBus(), testLogger())

	testCases := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}

	for _, tc := range testCases {
		if got := orch.restartBackoff(tc.attempt); got != tc.expected {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.expected, got)
		}
	}
}
