package events

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
		return Event{}
	}
}

func TestEventBus_TypedSubscription(t *testing.T) {
	bus := NewEventBus()
	received := make(chan Event, 1)

	bus.Subscribe(EventPositionClosed, func(e Event) { received <- e })
	bus.PublishPositionClosed(7, 3, "BTCUSDT", "TP", 55000, 120.5)

	event := waitFor(t, received)
	if event.Type != EventPositionClosed {
		t.Errorf("Expected %s, got %s", EventPositionClosed, event.Type)
	}
	if event.Data["position_id"] != int64(7) {
		t.Errorf("Expected position_id 7, got %v", event.Data["position_id"])
	}
	if event.Timestamp.IsZero() {
		t.Error("Expected timestamp to be filled in")
	}
}

func TestEventBus_TypedSubscriberIgnoresOtherTypes(t *testing.T) {
	bus := NewEventBus()
	received := make(chan Event, 1)

	bus.Subscribe(EventPositionClosed, func(e Event) { received <- e })
	bus.PublishSignalRejected("BTCUSDT", "LONG", "COOLDOWN")

	select {
	case event := <-received:
		t.Errorf("Expected no delivery, got %v", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_AllSubscriberSeesEverything(t *testing.T) {
	bus := NewEventBus()
	received := make(chan Event, 2)

	bus.SubscribeAll(func(e Event) { received <- e })
	bus.PublishRegimeUpdate(72, "Greed", "live")
	bus.PublishCooldownStarted("BTCUSDT", "SL", time.Now().Add(2*time.Hour))

	seen := map[EventType]bool{}
	seen[waitFor(t, received).Type] = true
	seen[waitFor(t, received).Type] = true

	if !seen[EventRegimeUpdate] || !seen[EventCooldownStarted] {
		t.Errorf("Expected both event types, got %v", seen)
	}
}
