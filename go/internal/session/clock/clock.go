// Package clock owns the server-authoritative turn clock. The clock advances
// strictly by wall-clock time, whether or not anyone is connected; the
// gateway only ever reads it.
package clock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/saltgames/tabletop/go/internal/models"
)

// ErrAlreadyRunning is returned by Start when the clock is already ticking.
// Starting twice is always an error, never a silent no-op.
var ErrAlreadyRunning = errors.New("turn clock already running")

// TurnClock maintains TurnClockState and progresses it once per second.
// State is mutated only by the tick loop and read through Snapshot. Time
// comes from a clockwork.Clock so tests can drive it with a fake clock.
type TurnClock struct {
	clock        clockwork.Clock
	turnDuration int
	emit         func(models.TurnClockState)

	mu      sync.Mutex
	state   models.TurnClockState
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped turn clock with turnIndex 0 and a full first turn.
// emit is invoked with a state copy on every tick; it must not block.
func New(clk clockwork.Clock, turnDurationSeconds int, emit func(models.TurnClockState)) *TurnClock {
	if turnDurationSeconds <= 0 {
		turnDurationSeconds = 1
	}
	return &TurnClock{
		clock:        clk,
		turnDuration: turnDurationSeconds,
		emit:         emit,
		state: models.TurnClockState{
			TurnIndex:        0,
			SecondsRemaining: turnDurationSeconds,
		},
	}
}

// Start launches the tick loop. A second Start while running returns
// ErrAlreadyRunning.
func (c *TurnClock) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)

	log.Info().
		Int("turn_duration_sec", c.turnDuration).
		Msg("turn clock started")
	return nil
}

// Stop cancels the tick loop and waits for it to exit. Stopping a stopped
// clock is a no-op.
func (c *TurnClock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
}

// Snapshot returns the current state without mutating it. Used to resync a
// newly connected client.
func (c *TurnClock) Snapshot() models.TurnClockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *TurnClock) run(ctx context.Context) {
	ticker := c.clock.NewTicker(time.Second)
	defer func() {
		ticker.Stop()
		c.mu.Lock()
		c.running = false
		close(c.done)
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("turn clock stopped")
			return
		case <-ticker.Chan():
			c.tick()
		}
	}
}

// tick advances the countdown by one second. Reaching zero rolls the turn
// over: turnIndex increments and the countdown resets to a full turn in the
// same tick, so SecondsRemaining never leaves [0, turnDuration].
func (c *TurnClock) tick() {
	c.mu.Lock()
	c.state.SecondsRemaining--
	if c.state.SecondsRemaining <= 0 {
		c.state.TurnIndex++
		c.state.SecondsRemaining = c.turnDuration
		log.Debug().
			Int("turn_index", c.state.TurnIndex).
			Msg("turn rolled over")
	}
	snapshot := c.state
	c.mu.Unlock()

	if c.emit != nil {
		c.emit(snapshot)
	}
}
