// Package orchestrator manages the lifecycle of the pipeline workers:
// ordered startup, reverse-order shutdown, liveness probing and bounded
// restart of failed workers.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-pipeline/config"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/events"
)

// stopTimeout bounds how long one worker may take to stop
const stopTimeout = 30 * time.Second

// StatusStore persists worker state transitions. Satisfied by
// *database.Repository.
type StatusStore interface {
	UpsertWorkerStatus(ctx context.Context, status *database.WorkerStatus) error
}

type managedWorker struct {
	worker         Worker
	state          string
	reason         string
	startedAt      time.Time
	restartCount   int
	healthFailures int
	nextRestartAt  time.Time
}

// Orchestrator runs the worker set as one unit
type Orchestrator struct {
	cfg    config.OrchestratorConfig
	repo   StatusStore
	bus    *events.EventBus
	logger zerolog.Logger

	mu        sync.Mutex
	state     string
	runID     string
	startedAt time.Time
	workers   []*managedWorker

	healthStop chan struct{}
	healthWG   sync.WaitGroup
}

// New creates an orchestrator managing the given workers. Workers are
// started in ascending priority order.
func New(cfg config.OrchestratorConfig, repo StatusStore, bus *events.EventBus, logger zerolog.Logger, workers ...Worker) *Orchestrator {
	managed := make([]*managedWorker, 0, len(workers))
	for _, w := range workers {
		managed = append(managed, &managedWorker{worker: w, state: WorkerPending})
	}
	sort.SliceStable(managed, func(i, j int) bool {
		return managed[i].worker.Priority() < managed[j].worker.Priority()
	})

	return &Orchestrator{
		cfg:     cfg,
		repo:    repo,
		bus:     bus,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
		state:   StateStopped,
		workers: managed,
	}
}

// State returns the orchestrator state
func (o *Orchestrator) State() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// RunID returns the identifier of the current run, empty when stopped
func (o *Orchestrator) RunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID
}

// WorkerView is a point-in-time snapshot of one managed worker
type WorkerView struct {
	Name         string     `json:"name"`
	Priority     int        `json:"priority"`
	State        string     `json:"state"`
	Reason       string     `json:"reason,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	RestartCount int        `json:"restart_count"`
}

// StatusView is a point-in-time snapshot of the orchestrator
type StatusView struct {
	State     string       `json:"state"`
	RunID     string       `json:"run_id,omitempty"`
	StartedAt *time.Time   `json:"started_at,omitempty"`
	Workers   []WorkerView `json:"workers"`
}

// Status returns a snapshot of the orchestrator and every worker
func (o *Orchestrator) Status() StatusView {
	o.mu.Lock()
	defer o.mu.Unlock()

	view := StatusView{State: o.state, RunID: o.runID}
	if !o.startedAt.IsZero() {
		t := o.startedAt
		view.StartedAt = &t
	}
	for _, mw := range o.workers {
		wv := WorkerView{
			Name:         mw.worker.Name(),
			Priority:     mw.worker.Priority(),
			State:        mw.state,
			Reason:       mw.reason,
			RestartCount: mw.restartCount,
		}
		if !mw.startedAt.IsZero() {
			t := mw.startedAt
			wv.StartedAt = &t
		}
		view.Workers = append(view.Workers, wv)
	}
	return view
}

// Start brings the pipeline up in priority order. Starting a pipeline
// that is already running is a no-op; a start or stop still in flight is
// an error.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateRunning {
		o.mu.Unlock()
		o.logger.Info().Msg("start requested while already running")
		return nil
	}
	if o.state != StateStopped {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is %s", state)
	}
	o.state = StateStarting
	o.runID = uuid.New().String()
	o.startedAt = time.Now()
	runID := o.runID
	o.mu.Unlock()

	o.logger.Info().Str("run_id", runID).Msg("starting pipeline")
	o.bus.PublishOrchestratorState(StateStarting, runID)

	for i, mw := range o.workers {
		if i > 0 {
			select {
			case <-ctx.Done():
				o.logger.Warn().Msg("startup cancelled, stopping started workers")
				o.stopAll()
				o.setState(StateStopped)
				return ctx.Err()
			case <-time.After(o.cfg.StartDelay):
			}
		}
		o.startWorker(ctx, mw)
	}

	o.setState(StateRunning)
	o.logger.Info().Str("run_id", runID).Msg("pipeline running")

	o.healthStop = make(chan struct{})
	o.healthWG.Add(1)
	go o.healthLoop()
	return nil
}

// Stop brings the pipeline down in reverse priority order. Stopping a
// pipeline that is already stopped is a no-op.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateStopped {
		o.mu.Unlock()
		o.logger.Info().Msg("stop requested while already stopped")
		return nil
	}
	if o.state != StateRunning && o.state != StateStarting {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is %s", state)
	}
	o.state = StateStopping
	runID := o.runID
	healthStop := o.healthStop
	o.mu.Unlock()

	o.logger.Info().Str("run_id", runID).Msg("stopping pipeline")
	o.bus.PublishOrchestratorState(StateStopping, runID)

	if healthStop != nil {
		close(healthStop)
		o.healthWG.Wait()
	}

	o.stopAll()

	o.mu.Lock()
	o.state = StateStopped
	o.runID = ""
	o.mu.Unlock()
	o.bus.PublishOrchestratorState(StateStopped, "")
	o.logger.Info().Msg("pipeline stopped")
	return nil
}

// Restart stops and starts the pipeline with a fresh run id
func (o *Orchestrator) Restart(ctx context.Context) error {
	if err := o.Stop(ctx); err != nil {
		return err
	}
	return o.Start(ctx)
}

// startWorker transitions one worker to RUNNING, or FAILED when a
// dependency is down or Start errors
func (o *Orchestrator) startWorker(ctx context.Context, mw *managedWorker) {
	name := mw.worker.Name()

	if missing := o.missingDependency(mw); missing != "" {
		o.logger.Error().Str("worker", name).Str("dependency", missing).Msg("dependency not running")
		o.transition(mw, WorkerFailed, ReasonDependencyUnavailable)
		return
	}

	o.transition(mw, WorkerStarting, "")
	if err := mw.worker.Start(ctx); err != nil {
		o.logger.Error().Err(err).Str("worker", name).Msg("worker failed to start")
		o.transition(mw, WorkerFailed, ReasonStartError)
		return
	}

	o.mu.Lock()
	mw.startedAt = time.Now()
	mw.healthFailures = 0
	o.mu.Unlock()
	o.transition(mw, WorkerRunning, "")
	o.logger.Info().Str("worker", name).Int("priority", mw.worker.Priority()).Msg("worker started")
}

// missingDependency returns the name of the first declared dependency not
// currently RUNNING, or empty
func (o *Orchestrator) missingDependency(mw *managedWorker) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, dep := range mw.worker.Dependencies() {
		found := false
		for _, other := range o.workers {
			if other.worker.Name() == dep && other.state == WorkerRunning {
				found = true
				break
			}
		}
		if !found {
			return dep
		}
	}
	return ""
}

// stopAll stops workers in reverse priority order
func (o *Orchestrator) stopAll() {
	for i := len(o.workers) - 1; i >= 0; i-- {
		mw := o.workers[i]
		o.mu.Lock()
		running := mw.state == WorkerRunning || mw.state == WorkerStarting
		o.mu.Unlock()
		if !running {
			if mw.state != WorkerStopped {
				o.transition(mw, WorkerStopped, "")
			}
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := mw.worker.Stop(ctx); err != nil {
			o.logger.Error().Err(err).Str("worker", mw.worker.Name()).Msg("worker stop error")
		}
		cancel()
		o.transition(mw, WorkerStopped, "")
		o.logger.Info().Str("worker", mw.worker.Name()).Msg("worker stopped")
	}
}

// healthLoop probes worker liveness and restarts failed workers with
// exponential backoff
func (o *Orchestrator) healthLoop() {
	defer o.healthWG.Done()

	ticker := time.NewTicker(o.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.healthStop:
			return
		case <-ticker.C:
			o.probe()
		}
	}
}

func (o *Orchestrator) probe() {
	for _, mw := range o.workers {
		o.mu.Lock()
		state := mw.state
		o.mu.Unlock()

		switch state {
		case WorkerRunning:
			o.probeRunning(mw)
		case WorkerFailed:
			o.maybeRestart(mw)
		}
	}
}

func (o *Orchestrator) probeRunning(mw *managedWorker) {
	name := mw.worker.Name()
	err := mw.worker.Healthy()
	if err == nil {
		o.mu.Lock()
		mw.healthFailures = 0
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	mw.healthFailures++
	failures := mw.healthFailures
	o.mu.Unlock()

	o.logger.Warn().Err(err).Str("worker", name).Int("failures", failures).Msg("liveness probe failed")
	if failures < o.cfg.MaxHealthFailures {
		return
	}

	o.logger.Error().Str("worker", name).Msg("worker unhealthy, stopping for restart")
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	if stopErr := mw.worker.Stop(ctx); stopErr != nil {
		o.logger.Error().Err(stopErr).Str("worker", name).Msg("stop of unhealthy worker failed")
	}
	cancel()

	o.mu.Lock()
	mw.restartCount++
	mw.nextRestartAt = time.Now().Add(o.restartBackoff(mw.restartCount))
	o.mu.Unlock()
	o.transition(mw, WorkerFailed, ReasonUnhealthy)
}

// maybeRestart restarts a FAILED worker once its backoff has elapsed and
// its dependencies are running
func (o *Orchestrator) maybeRestart(mw *managedWorker) {
	o.mu.Lock()
	ready := time.Now().After(mw.nextRestartAt)
	o.mu.Unlock()
	if !ready {
		return
	}
	if missing := o.missingDependency(mw); missing != "" {
		return
	}

	o.logger.Info().Str("worker", mw.worker.Name()).Int("attempt", mw.restartCount).Msg("restarting worker")
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	o.startWorker(ctx, mw)
	cancel()

	o.mu.Lock()
	if mw.state == WorkerFailed {
		mw.restartCount++
		mw.nextRestartAt = time.Now().Add(o.restartBackoff(mw.restartCount))
	}
	o.mu.Unlock()
}

// restartBackoff returns the delay before restart attempt n
func (o *Orchestrator) restartBackoff(attempt int) time.Duration {
	backoff := o.cfg.RestartBackoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= o.cfg.RestartBackoffMax {
			return o.cfg.RestartBackoffMax
		}
	}
	if backoff > o.cfg.RestartBackoffMax {
		backoff = o.cfg.RestartBackoffMax
	}
	return backoff
}

func (o *Orchestrator) setState(state string) {
	o.mu.Lock()
	o.state = state
	runID := o.runID
	o.mu.Unlock()
	o.bus.PublishOrchestratorState(state, runID)
}

// transition records a worker state change in memory, in the database and
// on the event bus
func (o *Orchestrator) transition(mw *managedWorker, state, reason string) {
	o.mu.Lock()
	mw.state = state
	mw.reason = reason
	runID := o.runID
	status := &database.WorkerStatus{
		Name:         mw.worker.Name(),
		State:        state,
		RestartCount: mw.restartCount,
	}
	if runID != "" {
		status.RunID = &runID
	}
	if reason != "" {
		r := reason
		status.Reason = &r
	}
	if !mw.startedAt.IsZero() {
		t := mw.startedAt
		status.StartedAt = &t
	}
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := o.repo.UpsertWorkerStatus(ctx, status); err != nil {
		o.logger.Error().Err(err).Str("worker", status.Name).Msg("failed to persist worker status")
	}
	cancel()
	o.bus.PublishWorkerStateChanged(status.Name, state, reason)
}
