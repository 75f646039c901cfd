// Package bus carries committed session state changes from the turn clock
// and the trade registry to their subscribers (the gateway broadcaster and
// the optional relay). Delivery per subscriber is FIFO in publish order.
package bus

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/saltgames/tabletop/go/internal/models"
)

// EventType identifies the kind of session event.
type EventType string

const (
	EventTurnTick     EventType = "turn_tick"
	EventTradeChanged EventType = "trade_changed"
)

// Event is a committed session state change. Exactly one of Turn or Trade is
// set, matching Type. Origin is empty for events committed by this process;
// the relay stamps it on events injected from another instance so they are
// not mirrored back out.
type Event struct {
	Type   EventType              `json:"type"`
	Turn   *models.TurnClockState `json:"turn,omitempty"`
	Trade  *models.TradeOffer     `json:"trade,omitempty"`
	At     time.Time              `json:"at"`
	Origin string                 `json:"origin,omitempty"`
}

// Bus fans events out to all current subscribers. Sends are non-blocking: a
// subscriber that cannot keep up loses events rather than stalling the
// publisher, mirroring the best-effort push contract.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

// New creates a bus whose subscriber channels hold up to buffer events.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned cancel func removes the
// subscription and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().
				Str("event_type", string(ev.Type)).
				Msg("subscriber buffer full, dropping event")
		}
	}
}

// TurnTick builds a turn tick event.
func TurnTick(state models.TurnClockState, at time.Time) Event {
	return Event{Type: EventTurnTick, Turn: &state, At: at}
}

// TradeChanged builds a trade change event for a created or resolved offer.
func TradeChanged(offer models.TradeOffer, at time.Time) Event {
	return Event{Type: EventTradeChanged, Trade: &offer, At: at}
}
