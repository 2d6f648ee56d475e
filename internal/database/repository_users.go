package database

import (
	"context"
	"time"
)

// ============================================================================
// USERS
// ============================================================================

// GetUserByID retrieves a user by ID
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT id, email, plan, balance, referred_by, affiliate_tier,
		       execution_blocked, execution_blocked_reason, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	user := &User{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.Plan, &user.Balance, &user.ReferredBy,
		&user.AffiliateTier, &user.ExecutionBlocked, &user.ExecutionBlockedReason,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetExecutableUsers retrieves users eligible for signal execution
// (not flagged for credential failures)
func (r *Repository) GetExecutableUsers(ctx context.Context) ([]*User, error) {
	query := `
		SELECT id, email, plan, balance, referred_by, affiliate_tier,
		       execution_blocked, execution_blocked_reason, created_at, updated_at
		FROM users
		WHERE execution_blocked = FALSE
		ORDER BY id
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user := &User{}
		if err := rows.Scan(
			&user.ID, &user.Email, &user.Plan, &user.Balance, &user.ReferredBy,
			&user.AffiliateTier, &user.ExecutionBlocked, &user.ExecutionBlockedReason,
			&user.CreatedAt, &user.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// SetUserExecutionBlocked flags or clears a user's execution block.
// Blocked users are excluded from executions until the flag is cleared.
func (r *Repository) SetUserExecutionBlocked(ctx context.Context, userID int64, blocked bool, reason string) error {
	var reasonArg *string
	if blocked && reason != "" {
		reasonArg = &reason
	}
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET execution_blocked = $2, execution_blocked_reason = $3, updated_at = $4 WHERE id = $1`,
		userID, blocked, reasonArg, time.Now())
	return err
}

// ============================================================================
// RISK PARAMETERS
// ============================================================================

// GetRiskParameters retrieves a user's risk configuration.
// Returns pgx.ErrNoRows when the user has never saved parameters.
func (r *Repository) GetRiskParameters(ctx context.Context, userID int64) (*RiskParameters, error) {
	query := `
		SELECT user_id, leverage, balance_percent, take_profit_multiplier,
		       stop_loss_multiplier, max_positions, exchange, environment, updated_at
		FROM risk_parameters
		WHERE user_id = $1
	`
	params := &RiskParameters{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&params.UserID, &params.Leverage, &params.BalancePercent,
		&params.TakeProfitMultiplier, &params.StopLossMultiplier,
		&params.MaxPositions, &params.Exchange, &params.Environment, &params.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return params, nil
}

// UpsertRiskParameters creates or replaces a user's risk configuration
func (r *Repository) UpsertRiskParameters(ctx context.Context, params *RiskParameters) error {
	query := `
		INSERT INTO risk_parameters (user_id, leverage, balance_percent, take_profit_multiplier,
		                             stop_loss_multiplier, max_positions, exchange, environment, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			leverage = EXCLUDED.leverage,
			balance_percent = EXCLUDED.balance_percent,
			take_profit_multiplier = EXCLUDED.take_profit_multiplier,
			stop_loss_multiplier = EXCLUDED.stop_loss_multiplier,
			max_positions = EXCLUDED.max_positions,
			exchange = EXCLUDED.exchange,
			environment = EXCLUDED.environment,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Pool.Exec(ctx, query,
		params.UserID, params.Leverage, params.BalancePercent,
		params.TakeProfitMultiplier, params.StopLossMultiplier,
		params.MaxPositions, params.Exchange, params.Environment, time.Now())
	return err
}
