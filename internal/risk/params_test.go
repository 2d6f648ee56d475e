package risk

import (
	"math"
	"testing"

	"signal-pipeline/internal/database"
)

// floatEquals compares two floats with tolerance
func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// ============================================================================
// TEST: Exit price derivation
// ============================================================================

func TestExitPrices_LeverageScalesDistance(t *testing.T) {
	params := &database.RiskParameters{
		Leverage:             5,
		TakeProfitMultiplier: 2,
		StopLossMultiplier:   3,
	}

	// 5x leverage with 2x/3x multipliers: 10% TP distance, 15% SL distance
	tp, sl := ExitPrices(database.DirectionLong, 50000, params)
	if !floatEquals(tp, 55000, 1e-6) {
		t.Errorf("Expected LONG take profit 55000, got %.4f", tp)
	}
	if !floatEquals(sl, 42500, 1e-6) {
		t.Errorf("Expected LONG stop loss 42500, got %.4f", sl)
	}

	tp, sl = ExitPrices(database.DirectionShort, 50000, params)
	if !floatEquals(tp, 45000, 1e-6) {
		t.Errorf("Expected SHORT take profit 45000, got %.4f", tp)
	}
	if !floatEquals(sl, 57500, 1e-6) {
		t.Errorf("Expected SHORT stop loss 57500, got %.4f", sl)
	}
}

func TestExitPrices_Direction(t *testing.T) {
	params := &database.RiskParameters{
		Leverage:             10,
		TakeProfitMultiplier: 1,
		StopLossMultiplier:   1,
	}

	tp, sl := ExitPrices(database.DirectionLong, 100, params)
	if tp <= 100 || sl >= 100 {
		t.Errorf("LONG exits on the wrong side: tp=%.4f sl=%.4f", tp, sl)
	}

	tp, sl = ExitPrices(database.DirectionShort, 100, params)
	if tp >= 100 || sl <= 100 {
		t.Errorf("SHORT exits on the wrong side: tp=%.4f sl=%.4f", tp, sl)
	}
}

// ============================================================================
// TEST: Position sizing
// ============================================================================

func TestPositionQuantity(t *testing.T) {
	params := &database.RiskParameters{
		Leverage:       5,
		BalancePercent: 10,
	}

	// 10% of 1000 = 100 margin, 5x leverage = 500 notional at price 50
	qty := PositionQuantity(1000, 50, params)
	if !floatEquals(qty, 10, 1e-9) {
		t.Errorf("Expected quantity 10, got %.6f", qty)
	}

	if qty := PositionQuantity(0, 50, params); qty != 0 {
		t.Errorf("Expected zero quantity for zero balance, got %.6f", qty)
	}
	if qty := PositionQuantity(1000, 0, params); qty != 0 {
		t.Errorf("Expected zero quantity for zero price, got %.6f", qty)
	}
}

// ============================================================================
// TEST: Parameter validation bounds
// ============================================================================

func TestValidate(t *testing.T) {
	valid := func() *database.RiskParameters {
		return &database.RiskParameters{
			Leverage:             5,
			BalancePercent:       10,
			TakeProfitMultiplier: 2,
			StopLossMultiplier:   3,
			MaxPositions:         5,
			Exchange:             "BINANCE",
			Environment:          database.EnvironmentTestnet,
		}
	}

	if err := Validate(valid()); err != nil {
		t.Fatalf("Expected valid parameters to pass, got %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*database.RiskParameters)
	}{
		{"leverage too low", func(p *database.RiskParameters) { p.Leverage = 0 }},
		{"leverage too high", func(p *database.RiskParameters) { p.Leverage = 200 }},
		{"balance percent zero", func(p *database.RiskParameters) { p.BalancePercent = 0 }},
		{"balance percent over 100", func(p *database.RiskParameters) { p.BalancePercent = 150 }},
		{"tp multiplier zero", func(p *database.RiskParameters) { p.TakeProfitMultiplier = 0 }},
		{"negative sl multiplier", func(p *database.RiskParameters) { p.StopLossMultiplier = -1 }},
		{"max positions zero", func(p *database.RiskParameters) { p.MaxPositions = 0 }},
		{"missing exchange", func(p *database.RiskParameters) { p.Exchange = "" }},
		{"bad environment", func(p *database.RiskParameters) { p.Environment = "STAGING" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			params := valid()
			tc.mutate(params)
			if err := Validate(params); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestValidate_AcceptsConservativeAndAggressiveValues(t *testing.T) {
	params := &database.RiskParameters{
		Leverage:             1,
		BalancePercent:       0.3,
		TakeProfitMultiplier: 40,
		StopLossMultiplier:   0.05,
		MaxPositions:         1,
		Exchange:             "BINANCE",
		Environment:          database.EnvironmentMainnet,
	}
	if err := Validate(params); err != nil {
		t.Errorf("Expected tiny balance share and wide multipliers to pass, got %v", err)
	}

	params.BalancePercent = 100
	if err := Validate(params); err != nil {
		t.Errorf("Expected full-balance share to pass, got %v", err)
	}
}
