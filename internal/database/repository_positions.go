package database

import (
	"context"
	"time"
)

// ============================================================================
// POSITIONS
// ============================================================================

// CreatePosition inserts a new OPEN position. Callers must only do this
// after the exchange has confirmed the entry order.
func (r *Repository) CreatePosition(ctx context.Context, position *Position) error {
	query := `
		INSERT INTO positions (user_id, signal_id, exchange, environment, symbol, side,
		                       entry_price, quantity, leverage, take_profit_price, stop_loss_price,
		                       status, entry_order_id, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		position.UserID, position.SignalID, position.Exchange, position.Environment,
		position.Symbol, position.Side, position.EntryPrice, position.Quantity,
		position.Leverage, position.TakeProfitPrice, position.StopLossPrice,
		position.Status, position.EntryOrderID, position.OpenedAt,
	).Scan(&position.ID)
}

// GetPositionByID retrieves a position by ID
func (r *Repository) GetPositionByID(ctx context.Context, id int64) (*Position, error) {
	query := positionSelect + ` WHERE id = $1`
	return r.queryPosition(ctx, query, id)
}

// GetOpenPositions retrieves all OPEN positions, oldest first
func (r *Repository) GetOpenPositions(ctx context.Context) ([]*Position, error) {
	query := positionSelect + ` WHERE status = 'OPEN' ORDER BY opened_at ASC`
	return r.queryPositions(ctx, query)
}

// CountOpenPositionsForUser returns the number of OPEN positions a user holds
func (r *Repository) CountOpenPositionsForUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE user_id = $1 AND status = 'OPEN'`, userID).Scan(&count)
	return count, err
}

// GetPositionHistory retrieves positions with pagination, newest first
func (r *Repository) GetPositionHistory(ctx context.Context, limit, offset int) ([]*Position, error) {
	query := positionSelect + ` ORDER BY opened_at DESC LIMIT $1 OFFSET $2`
	return r.queryPositions(ctx, query, limit, offset)
}

// RequestPositionClose records an operator close request for an OPEN
// position. The monitor honors the request before any price trigger.
// Returns false when the position is not OPEN.
func (r *Repository) RequestPositionClose(ctx context.Context, id int64, reason string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE positions SET close_requested = TRUE, close_request_reason = $2
		 WHERE id = $1 AND status = 'OPEN'`, id, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RequestCloseAllOpen marks every OPEN position for an intervention close.
// Returns the number of positions flagged.
func (r *Repository) RequestCloseAllOpen(ctx context.Context, reason string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE positions SET close_requested = TRUE, close_request_reason = $1
		 WHERE status = 'OPEN' AND close_requested = FALSE`, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ClosePosition transitions a position OPEN -> CLOSED with its outcome.
// The conditional status predicate makes a double close a no-op: the second
// caller sees zero rows affected and must not overwrite the recorded reason.
func (r *Repository) ClosePosition(ctx context.Context, id int64, closePrice, realizedPnL float64, reason string, closeOrderID int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE positions
		 SET status = 'CLOSED', close_price = $2, realized_pnl = $3, close_reason = $4,
		     close_order_id = $5, closed_at = $6
		 WHERE id = $1 AND status = 'OPEN'`,
		id, closePrice, realizedPnL, reason, closeOrderID, time.Now())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetUnsettledClosedPositions retrieves CLOSED positions that have no
// settlement record yet, oldest close first.
func (r *Repository) GetUnsettledClosedPositions(ctx context.Context, limit int) ([]*Position, error) {
	query := positionSelect + `
		WHERE status = 'CLOSED'
		  AND NOT EXISTS (SELECT 1 FROM settlements s WHERE s.position_id = positions.id)
		ORDER BY closed_at ASC
		LIMIT $1`
	return r.queryPositions(ctx, query, limit)
}

const positionSelect = `
	SELECT id, user_id, signal_id, exchange, environment, symbol, side,
	       entry_price, quantity, leverage, take_profit_price, stop_loss_price,
	       status, close_reason, close_price, realized_pnl, entry_order_id, close_order_id,
	       close_requested, close_request_reason, opened_at, closed_at
	FROM positions`

func (r *Repository) queryPosition(ctx context.Context, query string, args ...interface{}) (*Position, error) {
	p := &Position{}
	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.UserID, &p.SignalID, &p.Exchange, &p.Environment, &p.Symbol, &p.Side,
		&p.EntryPrice, &p.Quantity, &p.Leverage, &p.TakeProfitPrice, &p.StopLossPrice,
		&p.Status, &p.CloseReason, &p.ClosePrice, &p.RealizedPnL, &p.EntryOrderID, &p.CloseOrderID,
		&p.CloseRequested, &p.CloseRequestReason, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Repository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*Position, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p := &Position{}
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.SignalID, &p.Exchange, &p.Environment, &p.Symbol, &p.Side,
			&p.EntryPrice, &p.Quantity, &p.Leverage, &p.TakeProfitPrice, &p.StopLossPrice,
			&p.Status, &p.CloseReason, &p.ClosePrice, &p.RealizedPnL, &p.EntryOrderID, &p.CloseOrderID,
			&p.CloseRequested, &p.CloseRequestReason, &p.OpenedAt, &p.ClosedAt,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
