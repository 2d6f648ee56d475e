package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ============================================================================
// COOLDOWNS
// ============================================================================

// CreateCooldown inserts a new cooldown entry
func (r *Repository) CreateCooldown(ctx context.Context, cooldown *Cooldown) error {
	query := `
		INSERT INTO cooldowns (symbol, user_id, blocked_until, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		cooldown.Symbol, cooldown.UserID, cooldown.BlockedUntil, cooldown.Reason,
	).Scan(&cooldown.ID, &cooldown.CreatedAt)
}

// GetActiveCooldown returns the unexpired cooldown covering every user for a
// symbol, or nil when the symbol is clear. Entries expire naturally: rows
// whose blocked_until has passed are simply ignored.
func (r *Repository) GetActiveCooldown(ctx context.Context, symbol string) (*Cooldown, error) {
	query := `
		SELECT id, symbol, user_id, blocked_until, reason, created_at
		FROM cooldowns
		WHERE symbol = $1 AND user_id IS NULL AND blocked_until > $2
		ORDER BY blocked_until DESC
		LIMIT 1
	`
	cooldown := &Cooldown{}
	err := r.db.Pool.QueryRow(ctx, query, symbol, time.Now()).Scan(
		&cooldown.ID, &cooldown.Symbol, &cooldown.UserID,
		&cooldown.BlockedUntil, &cooldown.Reason, &cooldown.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cooldown, nil
}

// PurgeExpiredCooldowns removes entries whose window has passed.
// Housekeeping only; expiry is enforced by the blocked_until predicate.
func (r *Repository) PurgeExpiredCooldowns(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM cooldowns WHERE blocked_until < $1`, time.Now().Add(-24*time.Hour))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
