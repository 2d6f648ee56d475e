package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signal-pipeline/config"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/logging"
)

// Executor receives accepted signals for fan-out. Implemented by the
// execution manager.
type Executor interface {
	Execute(ctx context.Context, sig *database.Signal)
}

// DrainWorker hands accepted, undispatched signals to the executor.
// Dispatch state lives in the database, so signals accepted while the
// pipeline was down are drained on the next start.
type DrainWorker struct {
	cfg      config.SignalConfig
	repo     *database.Repository
	executor Executor
	logger   *logging.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	lastTick sync.Map
}

// NewDrainWorker creates the signal drain worker
func NewDrainWorker(cfg config.SignalConfig, repo *database.Repository, executor Executor) *DrainWorker {
	return &DrainWorker{
		cfg:      cfg,
		repo:     repo,
		executor: executor,
		logger:   logging.WithComponent("signal-drain"),
		stopChan: make(chan struct{}),
	}
}

// Name implements the orchestrator worker contract
func (w *DrainWorker) Name() string { return "signal-intake" }

// Priority implements the orchestrator worker contract
func (w *DrainWorker) Priority() int { return 2 }

// Dependencies implements the orchestrator worker contract
func (w *DrainWorker) Dependencies() []string { return []string{"regime-gate"} }

// Start launches the drain loop
func (w *DrainWorker) Start(ctx context.Context) error {
	w.stopChan = make(chan struct{})
	w.stopOnce = sync.Once{}
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop halts the drain loop
func (w *DrainWorker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy reports whether the drain loop has ticked recently
func (w *DrainWorker) Healthy() error {
	if tick, ok := w.lastTick.Load("tick"); ok {
		if time.Since(tick.(time.Time)) < 5*w.cfg.DrainInterval {
			return nil
		}
		return fmt.Errorf("signal drain stalled since %v", tick)
	}
	return fmt.Errorf("signal drain has not ticked yet")
}

func (w *DrainWorker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		w.lastTick.Store("tick", time.Now())
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.drain()
		}
	}
}

// drain dispatches one batch of accepted signals. A signal is marked
// dispatched before fan-out so a crash re-runs at most the marking, never
// the execution.
func (w *DrainWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	signals, err := w.repo.GetUndispatchedSignals(ctx, w.cfg.DrainBatch)
	if err != nil {
		w.logger.Error("Failed to fetch undispatched signals", "error", err)
		return
	}

	for _, sig := range signals {
		if err := w.repo.MarkSignalDispatched(ctx, sig.ID); err != nil {
			w.logger.Error("Failed to mark signal dispatched", "signal_id", sig.ID, "error", err)
			continue
		}
		w.logger.Debug("Dispatching signal",
			"signal_id", sig.ID,
			"direction", sig.Direction,
			"symbol", sig.Symbol,
			"price", sig.Price)
		w.executor.Execute(ctx, sig)
	}
}
