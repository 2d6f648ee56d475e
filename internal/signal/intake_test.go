package signal

import (
	"context"
	"testing"
	"time"

	"signal-pipeline/internal/database"
	"signal-pipeline/internal/events"
	"signal-pipeline/internal/regime"
)

// ============================================================================
// TEST: Webhook payload validation
// ============================================================================

func TestValidate(t *testing.T) {
	valid := func() *SubmitRequest {
		return &SubmitRequest{
			Symbol:          "BTCUSDT",
			Direction:       database.DirectionLong,
			Price:           50000,
			Source:          "tradingview",
			SourceTimestamp: time.Now().Add(-time.Second),
		}
	}

	if detail := validate(valid()); detail != "" {
		t.Fatalf("Expected valid request to pass, got %q", detail)
	}

	testCases := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"empty symbol", func(r *SubmitRequest) { r.Symbol = "" }},
		{"lowercase symbol", func(r *SubmitRequest) { r.Symbol = "btcusdt" }},
		{"symbol with separator", func(r *SubmitRequest) { r.Symbol = "BTC-USDT" }},
		{"symbol too short", func(r *SubmitRequest) { r.Symbol = "B" }},
		{"bad direction", func(r *SubmitRequest) { r.Direction = "BUY" }},
		{"empty direction", func(r *SubmitRequest) { r.Direction = "" }},
		{"zero price", func(r *SubmitRequest) { r.Price = 0 }},
		{"negative price", func(r *SubmitRequest) { r.Price = -10 }},
		{"missing timestamp", func(r *SubmitRequest) { r.SourceTimestamp = time.Time{} }},
		{"far future timestamp", func(r *SubmitRequest) { r.SourceTimestamp = time.Now().Add(time.Hour) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(req)
			if detail := validate(req); detail == "" {
				t.Error("Expected validation failure, got none")
			}
		})
	}
}

func TestValidate_AllowsSmallClockSkew(t *testing.T) {
	req := &SubmitRequest{
		Symbol:          "ETHUSDT",
		Direction:       database.DirectionShort,
		Price:           3000,
		SourceTimestamp: time.Now().Add(2 * time.Minute),
	}
	if detail := validate(req); detail != "" {
		t.Errorf("Expected small future skew to pass, got %q", detail)
	}
}

// ============================================================================
// TEST: Submit verdicts
// ============================================================================

// fakeSignalStore records created signals in memory
type fakeSignalStore struct {
	signals   []*database.Signal
	cooldown  *database.Cooldown
	duplicate bool
	nextID    int64
}

func (s *fakeSignalStore) CreateSignal(ctx context.Context, sig *database.Signal) (bool, error) {
	if s.duplicate {
		return false, nil
	}
	s.nextID++
	sig.ID = s.nextID
	s.signals = append(s.signals, sig)
	return true, nil
}

func (s *fakeSignalStore) GetActiveCooldown(ctx context.Context, symbol string) (*database.Cooldown, error) {
	return s.cooldown, nil
}

// fakeRegimeGate serves a fixed regime value
type fakeRegimeGate struct {
	value int
}

func (g *fakeRegimeGate) Allowed() regime.Directions {
	return regime.AllowedDirections(g.value)
}

func (g *fakeRegimeGate) Current() *database.RegimeSnapshot {
	return &database.RegimeSnapshot{
		Value:      g.value,
		Source:     database.RegimeSourceLive,
		CapturedAt: time.Now(),
	}
}

func submitRequest(symbol, direction string) *SubmitRequest {
	return &SubmitRequest{
		Symbol:          symbol,
		Direction:       direction,
		Price:           50000,
		Source:          "tradingview",
		SourceTimestamp: time.Now().Add(-time.Second),
	}
}

func TestSubmit_AcceptsAndPersists(t *testing.T) {
	store := &fakeSignalStore{}
	intake := NewIntake(store, &fakeRegimeGate{value: 50}, events.NewEventBus())

	sig, err := intake.Submit(context.Background(), submitRequest("BTCUSDT", database.DirectionLong))
	if err != nil {
		t.Fatalf("Expected submit to succeed, got %v", err)
	}
	if sig.Status != database.SignalStatusAccepted {
		t.Errorf("Expected status %q, got %q", database.SignalStatusAccepted, sig.Status)
	}
	if len(store.signals) != 1 {
		t.Fatalf("Expected 1 persisted signal, got %d", len(store.signals))
	}
	if sig.ID == 0 {
		t.Error("Expected the persisted signal to carry an id")
	}
}

func TestSubmit_RejectsWhenRegimeBlocksDirection(t *testing.T) {
	// Extreme fear permits longs only, so a short is turned away
	store := &fakeSignalStore{}
	intake := NewIntake(store, &fakeRegimeGate{value: 25}, events.NewEventBus())

	sig, err := intake.Submit(context.Background(), submitRequest("ETHUSDT", database.DirectionShort))
	if err != nil {
		t.Fatalf("Expected submit to succeed, got %v", err)
	}
	if sig.Status != database.SignalStatusRejected {
		t.Fatalf("Expected status %q, got %q", database.SignalStatusRejected, sig.Status)
	}
	if sig.RejectionReason == nil || *sig.RejectionReason != database.RejectReasonRegime {
		t.Errorf("Expected rejection reason %q, got %v", database.RejectReasonRegime, sig.RejectionReason)
	}
	if len(store.signals) != 1 {
		t.Errorf("Expected the rejected signal persisted for audit, got %d rows", len(store.signals))
	}

	// A long at the same regime value passes the gate
	sig, err = intake.Submit(context.Background(), submitRequest("ETHUSDT", database.DirectionLong))
	if err != nil {
		t.Fatalf("Expected submit to succeed, got %v", err)
	}
	if sig.Status != database.SignalStatusAccepted {
		t.Errorf("Expected the allowed direction accepted, got %q", sig.Status)
	}
}

func TestSubmit_RejectsDuringCooldown(t *testing.T) {
	store := &fakeSignalStore{
		cooldown: &database.Cooldown{
			Symbol:       "BTCUSDT",
			BlockedUntil: time.Now().Add(10 * time.Minute),
			Reason:       database.CloseReasonStopLoss,
		},
	}
	intake := NewIntake(store, &fakeRegimeGate{value: 50}, events.NewEventBus())

	sig, err := intake.Submit(context.Background(), submitRequest("BTCUSDT", database.DirectionLong))
	if err != nil {
		t.Fatalf("Expected submit to succeed, got %v", err)
	}
	if sig.Status != database.SignalStatusRejected {
		t.Fatalf("Expected status %q, got %q", database.SignalStatusRejected, sig.Status)
	}
	if sig.RejectionReason == nil || *sig.RejectionReason != database.RejectReasonCooldown {
		t.Errorf("Expected rejection reason %q, got %v", database.RejectReasonCooldown, sig.RejectionReason)
	}
}

func TestSubmit_RejectsDuplicateDelivery(t *testing.T) {
	store := &fakeSignalStore{duplicate: true}
	intake := NewIntake(store, &fakeRegimeGate{value: 50}, events.NewEventBus())

	sig, err := intake.Submit(context.Background(), submitRequest("BTCUSDT", database.DirectionLong))
	if err != nil {
		t.Fatalf("Expected submit to succeed, got %v", err)
	}
	if sig.Status != database.SignalStatusRejected {
		t.Fatalf("Expected status %q, got %q", database.SignalStatusRejected, sig.Status)
	}
	if sig.RejectionReason == nil || *sig.RejectionReason != database.RejectReasonDuplicate {
		t.Errorf("Expected rejection reason %q, got %v", database.RejectReasonDuplicate, sig.RejectionReason)
	}
	if len(store.signals) != 0 {
		t.Errorf("Expected no second row for a duplicate, got %d", len(store.signals))
	}
}

func TestSubmit_PersistsMalformedForAudit(t *testing.T) {
	store := &fakeSignalStore{}
	intake := NewIntake(store, &fakeRegimeGate{value: 50}, events.NewEventBus())

	req := submitRequest("BTCUSDT", "BUY")
	sig, err := intake.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Expected submit to succeed, got %v", err)
	}
	if sig.RejectionReason == nil || *sig.RejectionReason != database.RejectReasonMalformed {
		t.Errorf("Expected rejection reason %q, got %v", database.RejectReasonMalformed, sig.RejectionReason)
	}
	if len(store.signals) != 1 {
		t.Errorf("Expected the malformed signal persisted for audit, got %d rows", len(store.signals))
	}
}
