package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// GetDB returns the underlying DB instance
func (r *Repository) GetDB() *DB {
	return r.db
}

// ============================================================================
// SIGNALS
// ============================================================================

// CreateSignal inserts a new signal with its final intake outcome already
// stamped. Returns false when a signal with the same (symbol, source
// timestamp) already exists, so duplicate submissions are never
// double-accepted.
func (r *Repository) CreateSignal(ctx context.Context, signal *Signal) (bool, error) {
	query := `
		INSERT INTO signals (symbol, direction, price, source, source_timestamp, status, rejection_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, source_timestamp) DO NOTHING
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(
		ctx, query,
		signal.Symbol, signal.Direction, signal.Price, signal.Source,
		signal.SourceTimestamp, signal.Status, signal.RejectionReason,
	).Scan(&signal.ID, &signal.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetUndispatchedSignals retrieves accepted signals not yet handed to the
// execution manager, oldest first.
func (r *Repository) GetUndispatchedSignals(ctx context.Context, limit int) ([]*Signal, error) {
	query := `
		SELECT id, symbol, direction, price, source, source_timestamp, status, rejection_reason, dispatched, created_at
		FROM signals
		WHERE status = 'ACCEPTED' AND dispatched = FALSE
		ORDER BY created_at ASC
		LIMIT $1
	`
	return r.querySignals(ctx, query, limit)
}

// MarkSignalDispatched flags a signal as handed to the execution manager
func (r *Repository) MarkSignalDispatched(ctx context.Context, id int64) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE signals SET dispatched = TRUE WHERE id = $1`, id)
	return err
}

// GetSignalHistory retrieves signals with pagination, newest first
func (r *Repository) GetSignalHistory(ctx context.Context, limit, offset int) ([]*Signal, error) {
	query := `
		SELECT id, symbol, direction, price, source, source_timestamp, status, rejection_reason, dispatched, created_at
		FROM signals
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	return r.querySignals(ctx, query, limit, offset)
}

func (r *Repository) querySignals(ctx context.Context, query string, args ...interface{}) ([]*Signal, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*Signal
	for rows.Next() {
		signal := &Signal{}
		if err := rows.Scan(
			&signal.ID, &signal.Symbol, &signal.Direction, &signal.Price, &signal.Source,
			&signal.SourceTimestamp, &signal.Status, &signal.RejectionReason,
			&signal.Dispatched, &signal.CreatedAt,
		); err != nil {
			return nil, err
		}
		signals = append(signals, signal)
	}
	return signals, rows.Err()
}

// ============================================================================
// REGIME SNAPSHOTS
// ============================================================================

// CreateRegimeSnapshot persists one Fear & Greed observation
func (r *Repository) CreateRegimeSnapshot(ctx context.Context, snapshot *RegimeSnapshot) error {
	query := `
		INSERT INTO regime_snapshots (value, classification, source, captured_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		snapshot.Value, snapshot.Classification, snapshot.Source, snapshot.CapturedAt,
	).Scan(&snapshot.ID)
}

// GetLatestRegimeSnapshot retrieves the most recent snapshot
func (r *Repository) GetLatestRegimeSnapshot(ctx context.Context) (*RegimeSnapshot, error) {
	query := `
		SELECT id, value, classification, source, captured_at
		FROM regime_snapshots
		ORDER BY captured_at DESC
		LIMIT 1
	`
	snapshot := &RegimeSnapshot{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&snapshot.ID, &snapshot.Value, &snapshot.Classification,
		&snapshot.Source, &snapshot.CapturedAt,
	)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// GetRegimeHistory retrieves recent snapshots, newest first
func (r *Repository) GetRegimeHistory(ctx context.Context, limit int) ([]*RegimeSnapshot, error) {
	query := `
		SELECT id, value, classification, source, captured_at
		FROM regime_snapshots
		ORDER BY captured_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*RegimeSnapshot
	for rows.Next() {
		s := &RegimeSnapshot{}
		if err := rows.Scan(&s.ID, &s.Value, &s.Classification, &s.Source, &s.CapturedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
