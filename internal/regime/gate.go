// Package regime polls the Fear & Greed index and derives the set of trade
// directions the market regime currently permits.
package regime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"signal-pipeline/config"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/events"
	"signal-pipeline/internal/logging"
	"signal-pipeline/internal/settings"
)

// Regime value boundaries. Inclusive as stated: 30 and 80 both allow both
// directions.
const (
	extremeFearBelow  = 30
	extremeGreedAbove = 80
)

// Directions is the set of trade directions the current regime allows
type Directions struct {
	Long  bool `json:"long"`
	Short bool `json:"short"`
}

// Allows reports whether a direction is in the set
func (d Directions) Allows(direction string) bool {
	switch direction {
	case database.DirectionLong:
		return d.Long
	case database.DirectionShort:
		return d.Short
	}
	return false
}

func (d Directions) String() string {
	switch {
	case d.Long && d.Short:
		return "LONG,SHORT"
	case d.Long:
		return "LONG"
	case d.Short:
		return "SHORT"
	}
	return "NONE"
}

// AllowedDirections derives the permitted direction set from a regime value.
// value < 30: extreme fear, longs only. value > 80: extreme greed, shorts
// only. Everything between (inclusive) allows both.
func AllowedDirections(value int) Directions {
	switch {
	case value < extremeFearBelow:
		return Directions{Long: true}
	case value > extremeGreedAbove:
		return Directions{Short: true}
	default:
		return Directions{Long: true, Short: true}
	}
}

// fngResponse is the alternative.me Fear & Greed API payload
type fngResponse struct {
	Name string `json:"name"`
	Data []struct {
		Value               string `json:"value"`
		ValueClassification string `json:"value_classification"`
		Timestamp           string `json:"timestamp"`
	} `json:"data"`
}

// SnapshotStore persists regime snapshots. Satisfied by
// *database.Repository.
type SnapshotStore interface {
	CreateRegimeSnapshot(ctx context.Context, snapshot *database.RegimeSnapshot) error
}

// Gate is the market regime worker. Callers read the cached snapshot
// through Current; the poll loop refreshes it in the background so reads
// never block on the sentiment source.
type Gate struct {
	cfg        config.RegimeConfig
	settings   settings.Reader
	store      SnapshotStore
	bus        *events.EventBus
	logger     *logging.Logger
	httpClient *http.Client

	mu       sync.RWMutex
	current  *database.RegimeSnapshot
	lastLive time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	heartbeat sync.Map // single "tick" key, last loop activity
}

// NewGate creates the regime gate worker
func NewGate(cfg config.RegimeConfig, settingsReader settings.Reader, store SnapshotStore, bus *events.EventBus) *Gate {
	return &Gate{
		cfg:        cfg,
		settings:   settingsReader,
		store:      store,
		bus:        bus,
		logger:     logging.WithComponent("regime-gate"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		stopChan:   make(chan struct{}),
	}
}

// Name implements the orchestrator worker contract
func (g *Gate) Name() string { return "regime-gate" }

// Priority implements the orchestrator worker contract
func (g *Gate) Priority() int { return 1 }

// Dependencies implements the orchestrator worker contract
func (g *Gate) Dependencies() []string { return nil }

// Start launches the poll loop. The first refresh happens inline so the
// pipeline has a snapshot before dependent workers start.
func (g *Gate) Start(ctx context.Context) error {
	g.stopChan = make(chan struct{})
	g.stopOnce = sync.Once{}

	if err := g.refresh(ctx); err != nil {
		g.logger.Warn("Initial refresh failed, starting with fallback value", "error", err)
		g.applyFallback(ctx)
	}

	g.wg.Add(1)
	go g.loop()
	return nil
}

// Stop halts the poll loop
func (g *Gate) Stop(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.stopChan) })
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy reports whether the poll loop has ticked recently
func (g *Gate) Healthy() error {
	interval := g.pollInterval()
	if tick, ok := g.heartbeat.Load("tick"); ok {
		if time.Since(tick.(time.Time)) < 2*interval {
			return nil
		}
		return fmt.Errorf("regime gate stalled since %v", tick)
	}
	return fmt.Errorf("regime gate has not ticked yet")
}

func (g *Gate) pollInterval() time.Duration {
	return g.settings.GetDuration(context.Background(), settings.KeyRegimePollInterval, g.cfg.PollInterval)
}

func (g *Gate) loop() {
	defer g.wg.Done()

	for {
		g.heartbeat.Store("tick", time.Now())
		interval := g.pollInterval()

		select {
		case <-g.stopChan:
			return
		case <-time.After(interval):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := g.refresh(ctx); err != nil {
			g.logger.Error("Refresh failed", "error", err)
			// Retain the previous live snapshot for one cycle; after
			// that the fallback value takes over.
			g.mu.RLock()
			stale := time.Since(g.lastLive) > interval
			g.mu.RUnlock()
			if stale {
				g.applyFallback(ctx)
			}
		}
		cancel()
	}
}

// refresh fetches a live snapshot, caches it and persists it
func (g *Gate) refresh(ctx context.Context) error {
	value, classification, err := g.fetch(ctx)
	if err != nil {
		return err
	}

	snapshot := &database.RegimeSnapshot{
		Value:          value,
		Classification: classification,
		Source:         database.RegimeSourceLive,
		CapturedAt:     time.Now(),
	}
	if g.store != nil {
		if err := g.store.CreateRegimeSnapshot(ctx, snapshot); err != nil {
			g.logger.Error("Failed to persist snapshot", "error", err)
		}
	}

	g.mu.Lock()
	g.current = snapshot
	g.lastLive = snapshot.CapturedAt
	g.mu.Unlock()

	g.logger.Info("Regime refreshed",
		"value", value,
		"classification", classification,
		"allowed", AllowedDirections(value).String())
	if g.bus != nil {
		g.bus.PublishRegimeUpdate(value, classification, database.RegimeSourceLive)
	}
	return nil
}

// applyFallback installs the configured neutral snapshot
func (g *Gate) applyFallback(ctx context.Context) {
	fallback := g.settings.GetInt(ctx, settings.KeyRegimeFallback, g.cfg.FallbackValue)

	snapshot := &database.RegimeSnapshot{
		Value:          fallback,
		Classification: "Neutral",
		Source:         database.RegimeSourceFallback,
		CapturedAt:     time.Now(),
	}
	if g.store != nil {
		if err := g.store.CreateRegimeSnapshot(ctx, snapshot); err != nil {
			g.logger.Error("Failed to persist fallback snapshot", "error", err)
		}
	}

	g.mu.Lock()
	g.current = snapshot
	g.mu.Unlock()

	g.logger.Warn("Using fallback regime value", "value", fallback)
	if g.bus != nil {
		g.bus.PublishRegimeUpdate(fallback, "Neutral", database.RegimeSourceFallback)
	}
}

func (g *Gate) fetch(ctx context.Context) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.SourceURL, nil)
	if err != nil {
		return 0, "", err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("fear & greed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("fear & greed source returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}

	var parsed fngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, "", fmt.Errorf("fear & greed parse failed: %w", err)
	}
	if len(parsed.Data) == 0 {
		return 0, "", fmt.Errorf("fear & greed response had no data")
	}

	value, err := strconv.Atoi(parsed.Data[0].Value)
	if err != nil || value < 0 || value > 100 {
		return 0, "", fmt.Errorf("fear & greed value out of range: %q", parsed.Data[0].Value)
	}

	return value, parsed.Data[0].ValueClassification, nil
}

// Current returns the latest snapshot without blocking. Before the first
// refresh completes it returns the configured fallback.
func (g *Gate) Current() *database.RegimeSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.current != nil {
		snapshot := *g.current
		return &snapshot
	}
	return &database.RegimeSnapshot{
		Value:          g.cfg.FallbackValue,
		Classification: "Neutral",
		Source:         database.RegimeSourceFallback,
		CapturedAt:     time.Now(),
	}
}

// Allowed returns the direction set for the current snapshot
func (g *Gate) Allowed() Directions {
	return AllowedDirections(g.Current().Value)
}
