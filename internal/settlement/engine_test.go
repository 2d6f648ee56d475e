package settlement

import (
	"context"
	"testing"
	"time"

	"signal-pipeline/config"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/events"
)

// ============================================================================
// TEST: Settling closed positions
// ============================================================================

// fakeSettlementStore applies settlements in memory
type fakeSettlementStore struct {
	users       map[int64]*database.User
	settlements []*database.Settlement
	ledgers     [][]database.CommissionLedgerEntry
	credits     []float64
	settled     map[int64]bool
}

func newFakeSettlementStore() *fakeSettlementStore {
	return &fakeSettlementStore{
		users:   make(map[int64]*database.User),
		settled: make(map[int64]bool),
	}
}

func (s *fakeSettlementStore) GetUnsettledClosedPositions(ctx context.Context, limit int) ([]*database.Position, error) {
	return nil, nil
}

func (s *fakeSettlementStore) GetUserByID(ctx context.Context, id int64) (*database.User, error) {
	return s.users[id], nil
}

func (s *fakeSettlementStore) ApplySettlement(ctx context.Context, settlement *database.Settlement, ledger []database.CommissionLedgerEntry, balanceDelta float64) (bool, error) {
	if s.settled[settlement.PositionID] {
		return false, nil
	}
	s.settled[settlement.PositionID] = true
	s.settlements = append(s.settlements, settlement)
	s.ledgers = append(s.ledgers, ledger)
	s.credits = append(s.credits, balanceDelta)
	return true, nil
}

// settlementStubSettings answers every lookup with the caller's default
type settlementStubSettings struct{}

func (settlementStubSettings) GetString(ctx context.Context, key, def string) string { return def }
func (settlementStubSettings) GetInt(ctx context.Context, key string, def int) int   { return def }
func (settlementStubSettings) GetFloat(ctx context.Context, key string, def float64) float64 {
	return def
}
func (settlementStubSettings) GetBool(ctx context.Context, key string, def bool) bool { return def }
func (settlementStubSettings) GetDuration(ctx context.Context, key string, def time.Duration) time.Duration {
	return def
}

func newTestEngine(store *fakeSettlementStore) *Engine {
	return NewEngine(
		config.SettlementConfig{PollInterval: time.Second, Currency: "USDT"},
		store,
		database.NewPositionClaims(nil, "settlement-test"),
		settlementStubSettings{},
		events.NewEventBus(),
	)
}

func closedPosition(id, userID int64, pnl float64) *database.Position {
	closedAt := time.Now()
	reason := database.CloseReasonTakeProfit
	return &database.Position{
		ID:          id,
		UserID:      userID,
		Symbol:      "BTCUSDT",
		Side:        database.DirectionLong,
		Status:      database.PositionStatusClosed,
		CloseReason: &reason,
		RealizedPnL: &pnl,
		ClosedAt:    &closedAt,
	}
}

func TestSettle_ProfitWithAffiliate(t *testing.T) {
	store := newFakeSettlementStore()
	referrerID := int64(2)
	tier := "standard"
	store.users[1] = &database.User{ID: 1, Plan: "basic", ReferredBy: &referrerID}
	store.users[2] = &database.User{ID: 2, AffiliateTier: &tier}

	engine := newTestEngine(store)
	if err := engine.settle(context.Background(), closedPosition(10, 1, 100)); err != nil {
		t.Fatalf("Expected settle to succeed, got %v", err)
	}

	if len(store.settlements) != 1 {
		t.Fatalf("Expected 1 settlement, got %d", len(store.settlements))
	}
	settlement := store.settlements[0]
	if !floatEquals(settlement.PlatformCommission, 10, 1e-9) {
		t.Errorf("Expected platform commission 10, got %.4f", settlement.PlatformCommission)
	}
	if !floatEquals(settlement.AffiliateCommission, 2, 1e-9) {
		t.Errorf("Expected affiliate commission 2, got %.4f", settlement.AffiliateCommission)
	}
	if !floatEquals(store.credits[0], 90, 1e-9) {
		t.Errorf("Expected balance credit 90, got %.4f", store.credits[0])
	}

	ledger := store.ledgers[0]
	if len(ledger) != 2 {
		t.Fatalf("Expected 2 ledger entries, got %d", len(ledger))
	}
	if ledger[0].Kind != database.CommissionKindPlatform || ledger[0].UserID != 1 {
		t.Errorf("Unexpected platform ledger entry: %+v", ledger[0])
	}
	if ledger[1].Kind != database.CommissionKindAffiliate || ledger[1].UserID != referrerID {
		t.Errorf("Unexpected affiliate ledger entry: %+v", ledger[1])
	}
}

func TestSettle_LossDebitsWithoutCommission(t *testing.T) {
	store := newFakeSettlementStore()
	store.users[1] = &database.User{ID: 1, Plan: "basic"}

	engine := newTestEngine(store)
	if err := engine.settle(context.Background(), closedPosition(11, 1, -40)); err != nil {
		t.Fatalf("Expected settle to succeed, got %v", err)
	}

	if !floatEquals(store.credits[0], -40, 1e-9) {
		t.Errorf("Expected the full loss debited, got %.4f", store.credits[0])
	}
	if len(store.ledgers[0]) != 0 {
		t.Errorf("Expected no commission ledger entries on a loss, got %d", len(store.ledgers[0]))
	}
}

func TestSettle_RerunAppliesOnce(t *testing.T) {
	store := newFakeSettlementStore()
	store.users[1] = &database.User{ID: 1, Plan: "basic"}

	engine := newTestEngine(store)
	position := closedPosition(12, 1, 100)

	if err := engine.settle(context.Background(), position); err != nil {
		t.Fatalf("Expected first settle to succeed, got %v", err)
	}
	if err := engine.settle(context.Background(), position); err != nil {
		t.Fatalf("Expected re-run to be a no-op, got %v", err)
	}

	if len(store.settlements) != 1 {
		t.Errorf("Expected a single applied settlement after re-run, got %d", len(store.settlements))
	}
	if len(store.credits) != 1 {
		t.Errorf("Expected the balance credited once, got %d credits", len(store.credits))
	}
}

func TestSettle_MissingRealizedPnLFails(t *testing.T) {
	store := newFakeSettlementStore()
	store.users[1] = &database.User{ID: 1, Plan: "basic"}

	engine := newTestEngine(store)
	position := closedPosition(13, 1, 0)
	position.RealizedPnL = nil

	if err := engine.settle(context.Background(), position); err == nil {
		t.Error("Expected an error for a closed position without realized pnl")
	}
}
