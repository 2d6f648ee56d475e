package database

import "time"

// Signal processing statuses
const (
	SignalStatusPending  = "PENDING"
	SignalStatusAccepted = "ACCEPTED"
	SignalStatusRejected = "REJECTED"
)

// Signal rejection reason codes
const (
	RejectReasonMalformed = "MALFORMED"
	RejectReasonCooldown  = "COOLDOWN"
	RejectReasonRegime    = "REGIME_BLOCKED"
	RejectReasonDuplicate = "DUPLICATE"
)

// Trade directions
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Position statuses
const (
	PositionStatusOpen      = "OPEN"
	PositionStatusClosed    = "CLOSED"
	PositionStatusCancelled = "CANCELLED"
)

// Position close reasons
const (
	CloseReasonTakeProfit   = "TP"
	CloseReasonStopLoss     = "SL"
	CloseReasonManual       = "MANUAL"
	CloseReasonIntervention = "INTERVENTION"
)

// Execution environments
const (
	EnvironmentMainnet = "MAINNET"
	EnvironmentTestnet = "TESTNET"
)

// Regime snapshot sources
const (
	RegimeSourceLive     = "live"
	RegimeSourceFallback = "fallback"
)

// Commission ledger entry kinds
const (
	CommissionKindPlatform  = "PLATFORM"
	CommissionKindAffiliate = "AFFILIATE"
)

// User represents a platform user. Registration and profile management are
// owned by external tooling; the pipeline reads plan/affiliate data and
// updates balances during settlement.
type User struct {
	ID                     int64     `json:"id"`
	Email                  string    `json:"email"`
	Plan                   string    `json:"plan"`
	Balance                float64   `json:"balance"`
	ReferredBy             *int64    `json:"referred_by,omitempty"`
	AffiliateTier          *string   `json:"affiliate_tier,omitempty"`
	ExecutionBlocked       bool      `json:"execution_blocked"`
	ExecutionBlockedReason *string   `json:"execution_blocked_reason,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// RiskParameters holds per-user risk configuration. Read-only to the
// pipeline; mutated only by the user or an administrator.
type RiskParameters struct {
	UserID               int64     `json:"user_id"`
	Leverage             int       `json:"leverage"`
	BalancePercent       float64   `json:"balance_percent"`
	TakeProfitMultiplier float64   `json:"take_profit_multiplier"`
	StopLossMultiplier   float64   `json:"stop_loss_multiplier"`
	MaxPositions         int       `json:"max_positions"`
	Exchange             string    `json:"exchange"`
	Environment          string    `json:"environment"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Signal represents an inbound trading signal. Immutable once accepted or
// rejected; retained for audit.
type Signal struct {
	ID              int64     `json:"id"`
	Symbol          string    `json:"symbol"`
	Direction       string    `json:"direction"`
	Price           float64   `json:"price"`
	Source          string    `json:"source"`
	SourceTimestamp time.Time `json:"source_timestamp"`
	Status          string    `json:"status"`
	RejectionReason *string   `json:"rejection_reason,omitempty"`
	Dispatched      bool      `json:"dispatched"`
	CreatedAt       time.Time `json:"created_at"`
}

// RegimeSnapshot is one observation of the Fear & Greed index
type RegimeSnapshot struct {
	ID             int64     `json:"id"`
	Value          int       `json:"value"`
	Classification string    `json:"classification"`
	Source         string    `json:"source"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Position represents an exchange position. Created by the execution
// manager after exchange confirmation; terminal once CLOSED or CANCELLED.
type Position struct {
	ID                 int64      `json:"id"`
	UserID             int64      `json:"user_id"`
	SignalID           *int64     `json:"signal_id,omitempty"`
	Exchange           string     `json:"exchange"`
	Environment        string     `json:"environment"`
	Symbol             string     `json:"symbol"`
	Side               string     `json:"side"`
	EntryPrice         float64    `json:"entry_price"`
	Quantity           float64    `json:"quantity"`
	Leverage           int        `json:"leverage"`
	TakeProfitPrice    float64    `json:"take_profit_price"`
	StopLossPrice      float64    `json:"stop_loss_price"`
	Status             string     `json:"status"`
	CloseReason        *string    `json:"close_reason,omitempty"`
	ClosePrice         *float64   `json:"close_price,omitempty"`
	RealizedPnL        *float64   `json:"realized_pnl,omitempty"`
	EntryOrderID       int64      `json:"entry_order_id"`
	CloseOrderID       *int64     `json:"close_order_id,omitempty"`
	CloseRequested     bool       `json:"close_requested"`
	CloseRequestReason *string    `json:"close_request_reason,omitempty"`
	OpenedAt           time.Time  `json:"opened_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
}

// Cooldown blocks new entries on a symbol for a time window after a close.
// A NULL user id means the block covers every user.
type Cooldown struct {
	ID           int64     `json:"id"`
	Symbol       string    `json:"symbol"`
	UserID       *int64    `json:"user_id,omitempty"`
	BlockedUntil time.Time `json:"blocked_until"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

// Settlement records the financial outcome of one closed position.
// At most one settlement exists per position.
type Settlement struct {
	ID                  int64     `json:"id"`
	PositionID          int64     `json:"position_id"`
	UserID              int64     `json:"user_id"`
	GrossPnL            float64   `json:"gross_pnl"`
	PlatformCommission  float64   `json:"platform_commission"`
	AffiliateCommission float64   `json:"affiliate_commission"`
	Currency            string    `json:"currency"`
	CreatedAt           time.Time `json:"created_at"`
}

// CommissionLedgerEntry is one commission booking, written only inside the
// settlement transaction.
type CommissionLedgerEntry struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	PositionID int64     `json:"position_id"`
	Kind       string    `json:"kind"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	CreatedAt  time.Time `json:"created_at"`
}

// WorkerStatus persists the orchestrator's view of one managed worker
type WorkerStatus struct {
	Name         string     `json:"name"`
	State        string     `json:"state"`
	RunID        *string    `json:"run_id,omitempty"`
	Reason       *string    `json:"reason,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	RestartCount int        `json:"restart_count"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SystemSetting is one type-tagged key/value tunable. Admin tooling writes
// these; the pipeline only reads them.
type SystemSetting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	ValueType   string    `json:"value_type"`
	Description *string   `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   *string   `json:"updated_by,omitempty"`
}
