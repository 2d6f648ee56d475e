// Package signal takes raw webhook signals through validation, cooldown
// and regime gating, persists the verdict, and drains accepted signals to
// the execution manager.
package signal

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"signal-pipeline/internal/database"
	"signal-pipeline/internal/events"
	"signal-pipeline/internal/regime"
)

// maxFutureSkew bounds how far ahead of server time a source timestamp
// may claim to be
const maxFutureSkew = 5 * time.Minute

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// SubmitRequest is a raw inbound signal before validation
type SubmitRequest struct {
	Symbol          string    `json:"symbol"`
	Direction       string    `json:"direction"`
	Price           float64   `json:"price"`
	Source          string    `json:"source"`
	SourceTimestamp time.Time `json:"source_timestamp"`
}

// RegimeGate is the direction gate consulted during intake
type RegimeGate interface {
	Allowed() regime.Directions
	Current() *database.RegimeSnapshot
}

// SignalStore is the persistence surface intake needs. Satisfied by
// *database.Repository.
type SignalStore interface {
	CreateSignal(ctx context.Context, sig *database.Signal) (bool, error)
	GetActiveCooldown(ctx context.Context, symbol string) (*database.Cooldown, error)
}

// Intake validates and persists inbound signals
type Intake struct {
	store SignalStore
	gate  RegimeGate
	bus   *events.EventBus
}

// NewIntake creates the signal intake service
func NewIntake(store SignalStore, gate RegimeGate, bus *events.EventBus) *Intake {
	return &Intake{store: store, gate: gate, bus: bus}
}

// validate returns a rejection reason for a malformed request, or empty
func validate(req *SubmitRequest) string {
	if !symbolPattern.MatchString(req.Symbol) {
		return "symbol must be 2-20 uppercase alphanumeric characters"
	}
	if req.Direction != database.DirectionLong && req.Direction != database.DirectionShort {
		return "direction must be LONG or SHORT"
	}
	if req.Price <= 0 {
		return "price must be positive"
	}
	if req.SourceTimestamp.IsZero() {
		return "source timestamp is required"
	}
	if time.Until(req.SourceTimestamp) > maxFutureSkew {
		return "source timestamp is in the future"
	}
	return ""
}

// Submit runs a signal through the intake checks and persists the verdict.
// Every decision is recorded: accepted signals wait for the drain worker,
// rejected ones keep their reason code for audit. A duplicate delivery of
// an already recorded signal is rejected without a second row.
func (i *Intake) Submit(ctx context.Context, req *SubmitRequest) (*database.Signal, error) {
	sig := &database.Signal{
		Symbol:          req.Symbol,
		Direction:       req.Direction,
		Price:           req.Price,
		Source:          req.Source,
		SourceTimestamp: req.SourceTimestamp.UTC(),
		Status:          database.SignalStatusAccepted,
	}

	if detail := validate(req); detail != "" {
		reason := database.RejectReasonMalformed
		sig.Status = database.SignalStatusRejected
		sig.RejectionReason = &reason
		// Persist for audit when the row is storable at all; a request
		// without a usable symbol or timestamp is returned unrecorded.
		if req.Symbol != "" && !req.SourceTimestamp.IsZero() {
			if _, err := i.store.CreateSignal(ctx, sig); err != nil {
				return nil, err
			}
		}
		i.bus.PublishSignalRejected(req.Symbol, req.Direction, reason)
		return sig, nil
	}

	if reason, err := i.gateReason(ctx, req); err != nil {
		return nil, err
	} else if reason != "" {
		sig.Status = database.SignalStatusRejected
		sig.RejectionReason = &reason
	}

	inserted, err := i.store.CreateSignal(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("error recording signal: %w", err)
	}
	if !inserted {
		reason := database.RejectReasonDuplicate
		sig.Status = database.SignalStatusRejected
		sig.RejectionReason = &reason
		i.bus.PublishSignalRejected(sig.Symbol, sig.Direction, reason)
		return sig, nil
	}

	if sig.Status == database.SignalStatusAccepted {
		i.bus.PublishSignalAccepted(sig.ID, sig.Symbol, sig.Direction, sig.Price)
	} else {
		i.bus.PublishSignalRejected(sig.Symbol, sig.Direction, *sig.RejectionReason)
	}
	return sig, nil
}

// gateReason checks cooldown and regime, returning the rejection reason
// when either blocks the signal
func (i *Intake) gateReason(ctx context.Context, req *SubmitRequest) (string, error) {
	cooldown, err := i.store.GetActiveCooldown(ctx, req.Symbol)
	if err != nil {
		return "", fmt.Errorf("error checking cooldown for %s: %w", req.Symbol, err)
	}
	if cooldown != nil {
		return database.RejectReasonCooldown, nil
	}

	if !i.gate.Allowed().Allows(req.Direction) {
		return database.RejectReasonRegime, nil
	}
	return "", nil
}
