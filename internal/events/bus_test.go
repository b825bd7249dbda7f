package events

import (
	"testing"
	"time"

	"market-signal-engine/internal/ai/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
		return Event{}
	}
}

func TestEventBus_TypedAndAllSubscribers(t *testing.T) {
	bus := NewEventBus()
	typed := make(chan Event, 4)
	all := make(chan Event, 4)

	bus.Subscribe(EventSignalUpdate, func(e Event) { typed <- e })
	bus.SubscribeAll(func(e Event) { all <- e })

	s := &signal.MarketSignal{Symbol: "BTCUSDT", Exchange: "binance", CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	bus.PublishSignalUpdate(s)

	e := receive(t, typed)
	assert.Equal(t, EventSignalUpdate, e.Type)
	assert.Equal(t, s.CreatedAt, e.Timestamp)
	require.Contains(t, e.Data, "signal")
	assert.Same(t, s, e.Data["signal"])

	assert.Equal(t, EventSignalUpdate, receive(t, all).Type)

	bus.PublishProviderToggled("groq", false)
	e = receive(t, all)
	assert.Equal(t, EventProviderToggled, e.Type)
	assert.False(t, e.Timestamp.IsZero())
	select {
	case <-typed:
		t.Fatal("typed subscriber received another event type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_NilIsNoop(t *testing.T) {
	var bus *EventBus
	assert.NotPanics(t, func() { bus.PublishError("scanner", "boom") })
}

func TestProviderObserver_PublishesCooldown(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventProviderCooldown, func(e Event) { got <- e })

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := NewProviderObserver(bus)
	o.now = func() time.Time { return base }
	o.ObserveCooldown("groq", 2*time.Minute)

	e := receive(t, got)
	assert.Equal(t, "groq", e.Data["provider"])
	assert.Equal(t, base.Add(2*time.Minute), e.Data["cooldown_until"])
}
