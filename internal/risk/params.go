// Package risk resolves per-user risk parameters and derives position
// sizing and exit prices from them.
package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"signal-pipeline/config"
	"signal-pipeline/internal/database"
)

// Validation bounds for user-supplied risk parameters. Leverage is capped
// at the venue maximum; balance percent may be any positive share of the
// balance up to all of it, and the exit multipliers only need to be
// positive.
const (
	MinLeverage       = 1
	MaxLeverage       = 125
	MaxBalancePercent = 100.0
	MinMaxPositions   = 1
	MaxMaxPositions   = 50
)

// Defaults applied when a user has never configured risk parameters.
// New users route to the testnet until they opt in to live execution.
var defaults = database.RiskParameters{
	Leverage:             5,
	BalancePercent:       10,
	TakeProfitMultiplier: 2,
	StopLossMultiplier:   3,
	MaxPositions:         5,
	Exchange:             "BINANCE",
	Environment:          database.EnvironmentTestnet,
}

// Service reads and validates per-user risk parameters
type Service struct {
	repo *database.Repository
	cfg  config.ExecutionConfig
}

// NewService creates the risk parameter service
func NewService(repo *database.Repository, cfg config.ExecutionConfig) *Service {
	return &Service{repo: repo, cfg: cfg}
}

// ForUser returns the user's risk parameters, or the defaults when none
// are configured
func (s *Service) ForUser(ctx context.Context, userID int64) (*database.RiskParameters, error) {
	params, err := s.repo.GetRiskParameters(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		d := defaults
		d.UserID = userID
		if s.cfg.DefaultLeverage > 0 {
			d.Leverage = s.cfg.DefaultLeverage
		}
		return &d, nil
	}
	if err != nil {
		return nil, err
	}
	return params, nil
}

// Validate checks user-supplied parameters against the allowed bounds
func Validate(params *database.RiskParameters) error {
	if params.Leverage < MinLeverage || params.Leverage > MaxLeverage {
		return fmt.Errorf("leverage must be between %d and %d", MinLeverage, MaxLeverage)
	}
	if params.BalancePercent <= 0 || params.BalancePercent > MaxBalancePercent {
		return fmt.Errorf("balance percent must be in (0, %.0f]", MaxBalancePercent)
	}
	if params.TakeProfitMultiplier <= 0 {
		return fmt.Errorf("take profit multiplier must be positive")
	}
	if params.StopLossMultiplier <= 0 {
		return fmt.Errorf("stop loss multiplier must be positive")
	}
	if params.MaxPositions < MinMaxPositions || params.MaxPositions > MaxMaxPositions {
		return fmt.Errorf("max positions must be between %d and %d", MinMaxPositions, MaxMaxPositions)
	}
	if params.Exchange == "" {
		return fmt.Errorf("exchange is required")
	}
	switch params.Environment {
	case database.EnvironmentMainnet, database.EnvironmentTestnet:
	default:
		return fmt.Errorf("environment must be %s or %s", database.EnvironmentMainnet, database.EnvironmentTestnet)
	}
	return nil
}

// Save validates and persists the user's risk parameters
func (s *Service) Save(ctx context.Context, params *database.RiskParameters) error {
	if err := Validate(params); err != nil {
		return err
	}
	return s.repo.UpsertRiskParameters(ctx, params)
}

// ExitPrices computes the take-profit and stop-loss prices for an entry.
// The percentage distance scales with leverage: a 5x position with a 2x
// take-profit multiplier exits at 10% price movement.
func ExitPrices(direction string, entryPrice float64, params *database.RiskParameters) (takeProfit, stopLoss float64) {
	tpPct := float64(params.Leverage) * params.TakeProfitMultiplier / 100
	slPct := float64(params.Leverage) * params.StopLossMultiplier / 100

	if direction == database.DirectionLong {
		takeProfit = entryPrice * (1 + tpPct)
		stopLoss = entryPrice * (1 - slPct)
	} else {
		takeProfit = entryPrice * (1 - tpPct)
		stopLoss = entryPrice * (1 + slPct)
	}
	return takeProfit, stopLoss
}

// PositionQuantity sizes a position from the available balance. The margin
// is balance_percent of the balance; notional is margin times leverage.
func PositionQuantity(balance, price float64, params *database.RiskParameters) float64 {
	if price <= 0 || balance <= 0 {
		return 0
	}
	margin := balance * params.BalancePercent / 100
	return margin * float64(params.Leverage) / price
}
