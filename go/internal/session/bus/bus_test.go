package bus

import (
	"testing"
	"time"

	"github.com/saltgames/tabletop/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliversInPublishOrder(t *testing.T) {
	b := New(16)
	ch, cancel := b.Subscribe()
	defer cancel()

	now := time.Now()
	for i := 0; i < 3; i++ {
		b.Publish(TurnTick(models.TurnClockState{TurnIndex: 0, SecondsRemaining: 60 - i}, now))
	}

	for i := 0; i < 3; i++ {
		ev := <-ch
		require.Equal(t, EventTurnTick, ev.Type)
		assert.Equal(t, 60-i, ev.Turn.SecondsRemaining)
	}
}

func TestAllSubscribersReceive(t *testing.T) {
	b := New(16)
	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	offer := models.TradeOffer{Status: models.TradeStatusPending}
	b.Publish(TradeChanged(offer, time.Now()))

	assert.Equal(t, EventTradeChanged, (<-ch1).Type)
	assert.Equal(t, EventTradeChanged, (<-ch2).Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(16)
	ch, cancel := b.Subscribe()

	cancel()
	cancel() // safe to call twice

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after unsubscribe must not panic.
	b.Publish(TurnTick(models.TurnClockState{}, time.Now()))
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := New(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		b.Publish(TurnTick(models.TurnClockState{SecondsRemaining: 2}, time.Now()))
		b.Publish(TurnTick(models.TurnClockState{SecondsRemaining: 1}, time.Now()))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// Only the first event fit in the buffer.
	ev := <-ch
	assert.Equal(t, 2, ev.Turn.SecondsRemaining)
	assert.Empty(t, ch)
}
