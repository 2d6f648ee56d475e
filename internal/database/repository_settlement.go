package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ============================================================================
// SETTLEMENTS
// ============================================================================

// ApplySettlement writes a settlement record, its commission ledger entries
// and the user's balance credit in a single transaction. Returns false when
// the position already has a settlement: the insert hits the position_id
// uniqueness, nothing is applied, and the caller treats it as a no-op.
func (r *Repository) ApplySettlement(ctx context.Context, settlement *Settlement, ledger []CommissionLedgerEntry, balanceDelta float64) (bool, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin settlement tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO settlements (position_id, user_id, gross_pnl, platform_commission, affiliate_commission, currency)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (position_id) DO NOTHING
		 RETURNING id, created_at`,
		settlement.PositionID, settlement.UserID, settlement.GrossPnL,
		settlement.PlatformCommission, settlement.AffiliateCommission, settlement.Currency,
	).Scan(&settlement.ID, &settlement.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already settled by a previous run
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert settlement: %w", err)
	}

	for i := range ledger {
		entry := &ledger[i]
		err = tx.QueryRow(ctx,
			`INSERT INTO commission_ledger (user_id, position_id, kind, amount, currency)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at`,
			entry.UserID, entry.PositionID, entry.Kind, entry.Amount, entry.Currency,
		).Scan(&entry.ID, &entry.CreatedAt)
		if err != nil {
			return false, fmt.Errorf("insert ledger entry: %w", err)
		}

		// Affiliate earnings credit the referrer inside the same tx
		if entry.Kind == CommissionKindAffiliate {
			_, err = tx.Exec(ctx,
				`UPDATE users SET balance = balance + $2, updated_at = $3 WHERE id = $1`,
				entry.UserID, entry.Amount, time.Now())
			if err != nil {
				return false, fmt.Errorf("credit affiliate: %w", err)
			}
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET balance = balance + $2, updated_at = $3 WHERE id = $1`,
		settlement.UserID, balanceDelta, time.Now())
	if err != nil {
		return false, fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit settlement tx: %w", err)
	}
	return true, nil
}

// GetSettlementByPositionID retrieves the settlement for a position
func (r *Repository) GetSettlementByPositionID(ctx context.Context, positionID int64) (*Settlement, error) {
	query := `
		SELECT id, position_id, user_id, gross_pnl, platform_commission, affiliate_commission, currency, created_at
		FROM settlements
		WHERE position_id = $1
	`
	s := &Settlement{}
	err := r.db.Pool.QueryRow(ctx, query, positionID).Scan(
		&s.ID, &s.PositionID, &s.UserID, &s.GrossPnL,
		&s.PlatformCommission, &s.AffiliateCommission, &s.Currency, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetCommissionLedger retrieves a user's commission entries, newest first
func (r *Repository) GetCommissionLedger(ctx context.Context, userID int64, limit int) ([]CommissionLedgerEntry, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, user_id, position_id, kind, amount, currency, created_at
		 FROM commission_ledger
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CommissionLedgerEntry
	for rows.Next() {
		var e CommissionLedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PositionID, &e.Kind, &e.Amount, &e.Currency, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
