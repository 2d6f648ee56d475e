// Package monitor watches open positions and closes them when a take-profit
// or stop-loss level is crossed, or when a close has been requested.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-pipeline/config"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/events"
	"signal-pipeline/internal/exchange"
	"signal-pipeline/internal/settings"
)

// PositionStore is the persistence surface the monitor needs. Satisfied
// by *database.Repository.
type PositionStore interface {
	GetOpenPositions(ctx context.Context) ([]*database.Position, error)
	ClosePosition(ctx context.Context, id int64, closePrice, realizedPnL float64, reason string, closeOrderID int64) (bool, error)
	CreateCooldown(ctx context.Context, cooldown *database.Cooldown) error
	PurgeExpiredCooldowns(ctx context.Context) (int64, error)
}

// ClientSource resolves the exchange client for a position's owner.
// Satisfied by *exchange.ClientFactory.
type ClientSource interface {
	ClientFor(ctx context.Context, userID int64, exchangeName, environment string) (exchange.Client, error)
}

// Monitor polls open positions. Each position is claimed before any close
// attempt, so two monitor instances never race on the same position.
type Monitor struct {
	cfg      config.MonitorConfig
	store    PositionStore
	claims   *database.PositionClaims
	clients  ClientSource
	settings settings.Reader
	bus      *events.EventBus
	logger   zerolog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	lastTick sync.Map
}

// NewMonitor creates the position monitor worker
func NewMonitor(cfg config.MonitorConfig, store PositionStore, claims *database.PositionClaims, clients ClientSource, settingsReader settings.Reader, bus *events.EventBus, logger zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		store:    store,
		claims:   claims,
		clients:  clients,
		settings: settingsReader,
		bus:      bus,
		logger:   logger.With().Str("component", "position-monitor").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Name implements the orchestrator worker contract
func (m *Monitor) Name() string { return "position-monitor" }

// Priority implements the orchestrator worker contract
func (m *Monitor) Priority() int { return 4 }

// Dependencies implements the orchestrator worker contract
func (m *Monitor) Dependencies() []string { return []string{"execution-manager"} }

// Start launches the monitor loop
func (m *Monitor) Start(ctx context.Context) error {
	m.stopChan = make(chan struct{})
	m.stopOnce = sync.Once{}
	m.wg.Add(1)
	go m.loop()
	return nil
}

// Stop halts the monitor loop
func (m *Monitor) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopChan) })
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy reports whether the monitor loop has ticked recently
func (m *Monitor) Healthy() error {
	if tick, ok := m.lastTick.Load("tick"); ok {
		if time.Since(tick.(time.Time)) < 5*m.pollInterval() {
			return nil
		}
		return fmt.Errorf("position monitor stalled since %v", tick)
	}
	return fmt.Errorf("position monitor has not ticked yet")
}

func (m *Monitor) pollInterval() time.Duration {
	return m.settings.GetDuration(context.Background(), settings.KeyMonitorInterval, m.cfg.PollInterval)
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	for {
		m.lastTick.Store("tick", time.Now())
		select {
		case <-m.stopChan:
			return
		case <-time.After(m.pollInterval()):
			m.sweep()
		}
	}
}

// sweep evaluates every open position once
func (m *Monitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	m.claims.Reconnect(ctx)

	positions, err := m.store.GetOpenPositions(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to list open positions")
		return
	}

	for _, position := range positions {
		select {
		case <-m.stopChan:
			return
		default:
		}
		m.evaluate(ctx, position)
	}

	if purged, err := m.store.PurgeExpiredCooldowns(ctx); err != nil {
		m.logger.Error().Err(err).Msg("failed to purge expired cooldowns")
	} else if purged > 0 {
		m.logger.Debug().Int64("count", purged).Msg("purged expired cooldowns")
	}
}

// evaluate checks one position's exit conditions and closes it when one
// holds. Requested closes take precedence over level checks.
func (m *Monitor) evaluate(ctx context.Context, position *database.Position) {
	reason := ""
	if position.CloseRequested {
		reason = database.CloseReasonManual
		if position.CloseRequestReason != nil {
			reason = *position.CloseRequestReason
		}
	}

	client, err := m.clients.ClientFor(ctx, position.UserID, position.Exchange, position.Environment)
	if err != nil {
		m.logger.Error().Err(err).Int64("position_id", position.ID).Msg("no exchange client for position")
		return
	}

	price, err := client.GetMarkPrice(ctx, position.Symbol)
	if err != nil {
		m.logger.Error().Err(err).Int64("position_id", position.ID).Str("symbol", position.Symbol).Msg("failed to fetch mark price")
		return
	}

	if reason == "" {
		reason = exitReason(position, price)
	}
	if reason == "" {
		return
	}

	claimed, err := m.claims.TryAcquire(ctx, position.ID)
	if err != nil {
		m.logger.Error().Err(err).Int64("position_id", position.ID).Msg("claim error")
		return
	}
	if !claimed {
		return
	}
	defer m.claims.Release(ctx, position.ID)

	if err := m.close(ctx, client, position, price, reason); err != nil {
		m.logger.Error().Err(err).Int64("position_id", position.ID).Str("reason", reason).Msg("close failed")
	}
}

// exitReason returns the close reason a price crossing implies, or empty
func exitReason(position *database.Position, price float64) string {
	if position.Side == database.DirectionLong {
		if price >= position.TakeProfitPrice {
			return database.CloseReasonTakeProfit
		}
		if price <= position.StopLossPrice {
			return database.CloseReasonStopLoss
		}
		return ""
	}
	if price <= position.TakeProfitPrice {
		return database.CloseReasonTakeProfit
	}
	if price >= position.StopLossPrice {
		return database.CloseReasonStopLoss
	}
	return ""
}

// close places the reduce-only exit order and records the transition.
// Every confirmed close arms the symbol-wide cooldown window, whatever
// the reason, so the pipeline never immediately re-enters a symbol it
// just left.
func (m *Monitor) close(ctx context.Context, client exchange.Client, position *database.Position, markPrice float64, reason string) error {
	side := exchange.SideSell
	if position.Side == database.DirectionShort {
		side = exchange.SideBuy
	}

	ack, err := client.PlaceMarketOrder(ctx, exchange.OrderRequest{
		Symbol:     position.Symbol,
		Side:       side,
		Quantity:   position.Quantity,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("close order: %w", err)
	}

	closePrice := ack.AvgPrice
	if closePrice <= 0 {
		closePrice = markPrice
	}

	pnl := (closePrice - position.EntryPrice) * position.Quantity
	if position.Side == database.DirectionShort {
		pnl = -pnl
	}

	transitioned, err := m.store.ClosePosition(ctx, position.ID, closePrice, pnl, reason, ack.OrderID)
	if err != nil {
		return fmt.Errorf("record close: %w", err)
	}
	if !transitioned {
		// Someone else closed it first; the exit order was reduce-only
		// so the extra fill is a no-op on the venue.
		m.logger.Warn().Int64("position_id", position.ID).Msg("position already closed, skipping record")
		return nil
	}

	m.logger.Info().
		Int64("position_id", position.ID).
		Int64("user_id", position.UserID).
		Str("symbol", position.Symbol).
		Str("reason", reason).
		Float64("close_price", closePrice).
		Float64("pnl", pnl).
		Msg("position closed")
	m.bus.PublishPositionClosed(position.ID, position.UserID, position.Symbol, reason, closePrice, pnl)

	m.startCooldown(ctx, position.Symbol, reason)
	return nil
}

// startCooldown blocks new entries on a symbol for the configured window.
// The block has no user scope: one close pauses the symbol for everyone.
func (m *Monitor) startCooldown(ctx context.Context, symbol, reason string) {
	duration := m.settings.GetDuration(ctx, settings.KeyCooldownDuration, m.cfg.CooldownDuration)
	until := time.Now().Add(duration)

	err := m.store.CreateCooldown(ctx, &database.Cooldown{
		Symbol:       symbol,
		BlockedUntil: until,
		Reason:       reason,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to create cooldown")
		return
	}

	m.logger.Info().Str("symbol", symbol).Time("blocked_until", until).Msg("cooldown started")
	m.bus.PublishCooldownStarted(symbol, reason, until)
}
