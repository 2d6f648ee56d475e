package regime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signal-pipeline/config"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/events"
)

// ============================================================================
// TEST: Direction gating thresholds
// ============================================================================

func TestAllowedDirections(t *testing.T) {
	testCases := []struct {
		name  string
		value int
		long  bool
		short bool
	}{
		{"extreme fear floor", 0, true, false},
		{"extreme fear", 25, true, false},
		{"boundary below fear cutoff", 29, true, false},
		{"fear cutoff is inclusive", 30, true, true},
		{"neutral", 50, true, true},
		{"greed cutoff is inclusive", 80, true, true},
		{"extreme greed", 81, false, true},
		{"extreme greed ceiling", 100, false, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := AllowedDirections(tc.value)
			if d.Long != tc.long {
				t.Errorf("value %d: expected Long=%v, got %v", tc.value, tc.long, d.Long)
			}
			if d.Short != tc.short {
				t.Errorf("value %d: expected Short=%v, got %v", tc.value, tc.short, d.Short)
			}
		})
	}
}

func TestDirectionsAllows(t *testing.T) {
	d := AllowedDirections(25)
	if !d.Allows(database.DirectionLong) {
		t.Error("Expected LONG allowed at value 25")
	}
	if d.Allows(database.DirectionShort) {
		t.Error("Expected SHORT blocked at value 25")
	}
	if d.Allows("SIDEWAYS") {
		t.Error("Expected unknown direction to be blocked")
	}
}

func TestDirectionsString(t *testing.T) {
	testCases := []struct {
		value    int
		expected string
	}{
		{25, "LONG"},
		{50, "LONG,SHORT"},
		{90, "SHORT"},
	}
	for _, tc := range testCases {
		if got := AllowedDirections(tc.value).String(); got != tc.expected {
			t.Errorf("value %d: expected %q, got %q", tc.value, tc.expected, got)
		}
	}
}

// ============================================================================
// TEST: Fear & Greed source parsing
// ============================================================================

func newTestGate(sourceURL string) *Gate {
	return NewGate(config.RegimeConfig{
		SourceURL:     sourceURL,
		PollInterval:  time.Minute,
		FallbackValue: 50,
	}, nil, nil, nil)
}

func TestFetch_ParsesIndexValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"Fear and Greed Index","data":[{"value":"72","value_classification":"Greed","timestamp":"1718000000"}]}`))
	}))
	defer server.Close()

	gate := newTestGate(server.URL)
	value, classification, err := gate.fetch(context.Background())
	if err != nil {
		t.Fatalf("Expected fetch to succeed, got %v", err)
	}
	if value != 72 {
		t.Errorf("Expected value 72, got %d", value)
	}
	if classification != "Greed" {
		t.Errorf("Expected classification Greed, got %q", classification)
	}
}

func TestFetch_RejectsBadPayloads(t *testing.T) {
	testCases := []struct {
		name string
		body string
		code int
	}{
		{"empty data", `{"name":"fng","data":[]}`, http.StatusOK},
		{"non-numeric value", `{"data":[{"value":"abc","value_classification":"Fear"}]}`, http.StatusOK},
		{"value out of range", `{"data":[{"value":"250","value_classification":"Fear"}]}`, http.StatusOK},
		{"not json", `<html>maintenance</html>`, http.StatusOK},
		{"server error", `{}`, http.StatusBadGateway},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			gate := newTestGate(server.URL)
			if _, _, err := gate.fetch(context.Background()); err == nil {
				t.Error("Expected fetch error, got nil")
			}
		})
	}
}

// ============================================================================
// TEST: Cached snapshot before first refresh
// ============================================================================

func TestCurrent_FallbackBeforeFirstRefresh(t *testing.T) {
	gate := newTestGate("http://unused.invalid")

	snapshot := gate.Current()
	if snapshot.Value != 50 {
		t.Errorf("Expected fallback value 50, got %d", snapshot.Value)
	}
	if snapshot.Source != database.RegimeSourceFallback {
		t.Errorf("Expected source %q, got %q", database.RegimeSourceFallback, snapshot.Source)
	}

	d := gate.Allowed()
	if !d.Long || !d.Short {
		t.Error("Expected neutral fallback to allow both directions")
	}
}

// ============================================================================
// TEST: Refresh persists the snapshot and announces it on the bus
// ============================================================================

type memorySnapshotStore struct {
	snapshots []*database.RegimeSnapshot
}

func (s *memorySnapshotStore) CreateRegimeSnapshot(ctx context.Context, snapshot *database.RegimeSnapshot) error {
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func TestRefresh_PersistsAndPublishes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"value":"25","value_classification":"Extreme Fear","timestamp":"1718000000"}]}`))
	}))
	defer server.Close()

	store := &memorySnapshotStore{}
	bus := events.NewEventBus()
	published := make(chan events.Event, 1)
	bus.Subscribe(events.EventRegimeUpdate, func(e events.Event) { published <- e })

	gate := NewGate(config.RegimeConfig{
		SourceURL:     server.URL,
		PollInterval:  time.Minute,
		FallbackValue: 50,
	}, nil, store, bus)

	if err := gate.refresh(context.Background()); err != nil {
		t.Fatalf("Expected refresh to succeed, got %v", err)
	}

	if len(store.snapshots) != 1 {
		t.Fatalf("Expected 1 persisted snapshot, got %d", len(store.snapshots))
	}
	if store.snapshots[0].Value != 25 || store.snapshots[0].Source != database.RegimeSourceLive {
		t.Errorf("Unexpected persisted snapshot: %+v", store.snapshots[0])
	}

	select {
	case event := <-published:
		if event.Data["value"] != 25 {
			t.Errorf("Expected published value 25, got %v", event.Data["value"])
		}
		if event.Data["source"] != database.RegimeSourceLive {
			t.Errorf("Expected published source %q, got %v", database.RegimeSourceLive, event.Data["source"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a regime update event on the bus")
	}

	d := gate.Allowed()
	if !d.Long || d.Short {
		t.Errorf("Expected longs only at value 25, got %s", d)
	}
}
