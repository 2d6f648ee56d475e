// Package settlement turns closed positions into settlements: gross PnL,
// plan-based platform commission, affiliate commission, and the user's
// balance credit, all applied in one transaction per position.
package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signal-pipeline/config"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/events"
	"signal-pipeline/internal/logging"
	"signal-pipeline/internal/settings"
)

// Commission rate defaults, overridable per plan/tier via system settings
const (
	DefaultCommissionRate = 0.10
	DefaultAffiliateRate  = 0.20
)

// settleBatch bounds how many positions one poll settles
const settleBatch = 50

// SettlementStore is the persistence surface the engine needs. Satisfied
// by *database.Repository.
type SettlementStore interface {
	GetUnsettledClosedPositions(ctx context.Context, limit int) ([]*database.Position, error)
	GetUserByID(ctx context.Context, id int64) (*database.User, error)
	ApplySettlement(ctx context.Context, settlement *database.Settlement, ledger []database.CommissionLedgerEntry, balanceDelta float64) (bool, error)
}

// Engine settles closed positions. It consumes persisted state only: a
// position closed while the engine was down is settled on the next poll.
type Engine struct {
	cfg      config.SettlementConfig
	store    SettlementStore
	claims   *database.PositionClaims
	settings settings.Reader
	bus      *events.EventBus
	logger   *logging.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	lastTick sync.Map
}

// NewEngine creates the settlement engine worker
func NewEngine(cfg config.SettlementConfig, store SettlementStore, claims *database.PositionClaims, settingsReader settings.Reader, bus *events.EventBus) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		claims:   claims,
		settings: settingsReader,
		bus:      bus,
		logger:   logging.WithComponent("settlement-engine"),
		stopChan: make(chan struct{}),
	}
}

// Name implements the orchestrator worker contract
func (e *Engine) Name() string { return "settlement-engine" }

// Priority implements the orchestrator worker contract
func (e *Engine) Priority() int { return 5 }

// Dependencies implements the orchestrator worker contract
func (e *Engine) Dependencies() []string { return []string{"position-monitor"} }

// Start launches the settlement loop
func (e *Engine) Start(ctx context.Context) error {
	e.stopChan = make(chan struct{})
	e.stopOnce = sync.Once{}
	e.wg.Add(1)
	go e.loop()
	return nil
}

// Stop halts the settlement loop
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stopChan) })
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy reports whether the settlement loop has ticked recently
func (e *Engine) Healthy() error {
	if tick, ok := e.lastTick.Load("tick"); ok {
		if time.Since(tick.(time.Time)) < 5*e.cfg.PollInterval {
			return nil
		}
		return fmt.Errorf("settlement engine stalled since %v", tick)
	}
	return fmt.Errorf("settlement engine has not ticked yet")
}

func (e *Engine) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		e.lastTick.Store("tick", time.Now())
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

// sweep settles one batch of closed, unsettled positions
func (e *Engine) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	positions, err := e.store.GetUnsettledClosedPositions(ctx, settleBatch)
	if err != nil {
		e.logger.Error("Failed to list unsettled positions", "error", err)
		return
	}

	for _, position := range positions {
		select {
		case <-e.stopChan:
			return
		default:
		}

		claimed, err := e.claims.TryAcquire(ctx, position.ID)
		if err != nil {
			e.logger.Error("Claim error", "position_id", position.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		if err := e.settle(ctx, position); err != nil {
			e.logger.Error("Failed to settle position", "position_id", position.ID, "error", err)
		}
		e.claims.Release(ctx, position.ID)
	}
}

// settle computes and applies the settlement for one closed position
func (e *Engine) settle(ctx context.Context, position *database.Position) error {
	if position.RealizedPnL == nil {
		return fmt.Errorf("closed position %d has no realized pnl", position.ID)
	}
	grossPnL := *position.RealizedPnL

	user, err := e.store.GetUserByID(ctx, position.UserID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", position.UserID, err)
	}

	plan := Plan{
		CommissionRate: e.settings.GetFloat(ctx, settings.PlanCommissionKey(user.Plan), DefaultCommissionRate),
	}
	if user.ReferredBy != nil {
		referrer, err := e.store.GetUserByID(ctx, *user.ReferredBy)
		if err != nil {
			return fmt.Errorf("load referrer %d: %w", *user.ReferredBy, err)
		}
		tier := "standard"
		if referrer.AffiliateTier != nil {
			tier = *referrer.AffiliateTier
		}
		plan.AffiliateUserID = &referrer.ID
		plan.AffiliateRate = e.settings.GetFloat(ctx, settings.AffiliateRateKey(tier), DefaultAffiliateRate)
	}

	outcome := Compute(grossPnL, plan)

	settlement := &database.Settlement{
		PositionID:          position.ID,
		UserID:              position.UserID,
		GrossPnL:            grossPnL,
		PlatformCommission:  outcome.PlatformCommission,
		AffiliateCommission: outcome.AffiliateCommission,
		Currency:            e.cfg.Currency,
	}

	var ledger []database.CommissionLedgerEntry
	if outcome.PlatformCommission > 0 {
		ledger = append(ledger, database.CommissionLedgerEntry{
			UserID:     position.UserID,
			PositionID: position.ID,
			Kind:       database.CommissionKindPlatform,
			Amount:     outcome.PlatformCommission,
			Currency:   e.cfg.Currency,
		})
	}
	if outcome.AffiliateCommission > 0 && plan.AffiliateUserID != nil {
		ledger = append(ledger, database.CommissionLedgerEntry{
			UserID:     *plan.AffiliateUserID,
			PositionID: position.ID,
			Kind:       database.CommissionKindAffiliate,
			Amount:     outcome.AffiliateCommission,
			Currency:   e.cfg.Currency,
		})
	}

	applied, err := e.store.ApplySettlement(ctx, settlement, ledger, outcome.NetCredit)
	if err != nil {
		return err
	}
	if !applied {
		e.logger.Debug("Position already settled, skipping", "position_id", position.ID)
		return nil
	}

	e.logger.Info("Settled position",
		"position_id", position.ID,
		"gross_pnl", grossPnL,
		"platform_commission", outcome.PlatformCommission,
		"affiliate_commission", outcome.AffiliateCommission,
		"net_credit", outcome.NetCredit)
	e.bus.PublishPositionSettled(position.ID, position.UserID, grossPnL, outcome.PlatformCommission, outcome.AffiliateCommission)
	return nil
}
