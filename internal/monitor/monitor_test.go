package monitor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-pipeline/config"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/events"
	"signal-pipeline/internal/exchange"
)

// ============================================================================
// TEST: Exit level detection
// ============================================================================

func TestExitReason(t *testing.T) {
	long := &database.Position{
		Side:            database.DirectionLong,
		EntryPrice:      50000,
		TakeProfitPrice: 55000,
		StopLossPrice:   42500,
	}
	short := &database.Position{
		Side:            database.DirectionShort,
		EntryPrice:      50000,
		TakeProfitPrice: 45000,
		StopLossPrice:   57500,
	}

	testCases := []struct {
		name     string
		position *database.Position
		price    float64
		expected string
	}{
		{"long between levels", long, 51000, ""},
		{"long hits take profit", long, 55000, database.CloseReasonTakeProfit},
		{"long beyond take profit", long, 56000, database.CloseReasonTakeProfit},
		{"long hits stop loss", long, 42500, database.CloseReasonStopLoss},
		{"long gaps through stop loss", long, 40000, database.CloseReasonStopLoss},
		{"short between levels", short, 49000, ""},
		{"short hits take profit", short, 45000, database.CloseReasonTakeProfit},
		{"short beyond take profit", short, 43000, database.CloseReasonTakeProfit},
		{"short hits stop loss", short, 57500, database.CloseReasonStopLoss},
		{"short gaps through stop loss", short, 60000, database.CloseReasonStopLoss},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitReason(tc.position, tc.price); got != tc.expected {
				t.Errorf("price %.0f: expected %q, got %q", tc.price, tc.expected, got)
			}
		})
	}
}

// ============================================================================
// TEST: Close recording and cooldown arming
// ============================================================================

// fakePositionStore records close transitions and cooldowns in memory
type fakePositionStore struct {
	positions     []*database.Position
	closedReasons map[int64]string
	cooldowns     []*database.Cooldown
	alreadyClosed bool
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{closedReasons: make(map[int64]string)}
}

func (s *fakePositionStore) GetOpenPositions(ctx context.Context) ([]*database.Position, error) {
	return s.positions, nil
}

func (s *fakePositionStore) ClosePosition(ctx context.Context, id int64, closePrice, realizedPnL float64, reason string, closeOrderID int64) (bool, error) {
	if s.alreadyClosed {
		return false, nil
	}
	if _, done := s.closedReasons[id]; done {
		return false, nil
	}
	s.closedReasons[id] = reason
	return true, nil
}

func (s *fakePositionStore) CreateCooldown(ctx context.Context, cooldown *database.Cooldown) error {
	s.cooldowns = append(s.cooldowns, cooldown)
	return nil
}

func (s *fakePositionStore) PurgeExpiredCooldowns(ctx context.Context) (int64, error) {
	return 0, nil
}

// stubClients serves one shared simulated exchange for every user
type stubClients struct {
	client exchange.Client
}

func (s *stubClients) ClientFor(ctx context.Context, userID int64, exchangeName, environment string) (exchange.Client, error) {
	return s.client, nil
}

// stubSettings answers every lookup with the caller's default
type stubSettings struct{}

func (stubSettings) GetString(ctx context.Context, key, def string) string { return def }
func (stubSettings) GetInt(ctx context.Context, key string, def int) int   { return def }
func (stubSettings) GetFloat(ctx context.Context, key string, def float64) float64 {
	return def
}
func (stubSettings) GetBool(ctx context.Context, key string, def bool) bool { return def }
func (stubSettings) GetDuration(ctx context.Context, key string, def time.Duration) time.Duration {
	return def
}

func newTestMonitor(store *fakePositionStore, client exchange.Client) *Monitor {
	return NewMonitor(
		config.MonitorConfig{
			PollInterval:     time.Minute,
			CooldownDuration: 15 * time.Minute,
		},
		store,
		database.NewPositionClaims(nil, "monitor-test"),
		&stubClients{client: client},
		stubSettings{},
		events.NewEventBus(),
		zerolog.New(os.Stderr).Level(zerolog.Disabled),
	)
}

func openPosition(id int64, side string) *database.Position {
	return &database.Position{
		ID:              id,
		UserID:          7,
		Exchange:        "BINANCE",
		Environment:     database.EnvironmentTestnet,
		Symbol:          "BTCUSDT",
		Side:            side,
		EntryPrice:      50000,
		Quantity:        0.5,
		TakeProfitPrice: 55000,
		StopLossPrice:   42500,
		Status:          database.PositionStatusOpen,
		OpenedAt:        time.Now(),
	}
}

func TestEvaluate_CooldownArmedOnEveryCloseReason(t *testing.T) {
	testCases := []struct {
		name   string
		price  float64
		setup  func(*database.Position)
		reason string
	}{
		{
			name:   "take profit",
			price:  55500,
			setup:  func(p *database.Position) {},
			reason: database.CloseReasonTakeProfit,
		},
		{
			name:   "stop loss",
			price:  42000,
			setup:  func(p *database.Position) {},
			reason: database.CloseReasonStopLoss,
		},
		{
			name:  "requested manual close",
			price: 51000,
			setup: func(p *database.Position) {
				p.CloseRequested = true
			},
			reason: database.CloseReasonManual,
		},
		{
			name:  "operator intervention",
			price: 51000,
			setup: func(p *database.Position) {
				reason := database.CloseReasonIntervention
				p.CloseRequested = true
				p.CloseRequestReason = &reason
			},
			reason: database.CloseReasonIntervention,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakePositionStore()
			client := exchange.NewMockClient(10000)
			client.SetPrice("BTCUSDT", tc.price)

			position := openPosition(1, database.DirectionLong)
			tc.setup(position)

			m := newTestMonitor(store, client)
			m.evaluate(context.Background(), position)

			if got := store.closedReasons[position.ID]; got != tc.reason {
				t.Fatalf("Expected close reason %q, got %q", tc.reason, got)
			}
			if len(store.cooldowns) != 1 {
				t.Fatalf("Expected 1 cooldown after close, got %d", len(store.cooldowns))
			}
			cooldown := store.cooldowns[0]
			if cooldown.Symbol != "BTCUSDT" {
				t.Errorf("Expected cooldown on BTCUSDT, got %q", cooldown.Symbol)
			}
			if cooldown.Reason != tc.reason {
				t.Errorf("Expected cooldown reason %q, got %q", tc.reason, cooldown.Reason)
			}
			if !cooldown.BlockedUntil.After(time.Now()) {
				t.Error("Expected cooldown window in the future")
			}
		})
	}
}

func TestEvaluate_RequestedCloseTakesPrecedenceOverLevels(t *testing.T) {
	store := newFakePositionStore()
	client := exchange.NewMockClient(10000)
	client.SetPrice("BTCUSDT", 56000) // beyond take profit

	position := openPosition(2, database.DirectionLong)
	position.CloseRequested = true

	m := newTestMonitor(store, client)
	m.evaluate(context.Background(), position)

	if got := store.closedReasons[position.ID]; got != database.CloseReasonManual {
		t.Errorf("Expected requested close reason %q, got %q", database.CloseReasonManual, got)
	}
}

func TestEvaluate_AlreadyClosedPositionIsNotRecordedTwice(t *testing.T) {
	store := newFakePositionStore()
	store.alreadyClosed = true
	client := exchange.NewMockClient(10000)
	client.SetPrice("BTCUSDT", 42000)

	position := openPosition(3, database.DirectionLong)

	m := newTestMonitor(store, client)
	m.evaluate(context.Background(), position)

	if len(store.closedReasons) != 0 {
		t.Errorf("Expected no close recorded for a position closed elsewhere, got %d", len(store.closedReasons))
	}
	if len(store.cooldowns) != 0 {
		t.Errorf("Expected no cooldown when the close transition lost, got %d", len(store.cooldowns))
	}
}

func TestEvaluate_PositionBetweenLevelsStaysOpen(t *testing.T) {
	store := newFakePositionStore()
	client := exchange.NewMockClient(10000)
	client.SetPrice("BTCUSDT", 51000)

	position := openPosition(4, database.DirectionLong)

	m := newTestMonitor(store, client)
	m.evaluate(context.Background(), position)

	if len(store.closedReasons) != 0 {
		t.Errorf("Expected no close between levels, got %d", len(store.closedReasons))
	}
	if len(client.PlacedOrders) != 0 {
		t.Errorf("Expected no exit order between levels, got %d", len(client.PlacedOrders))
	}
}
