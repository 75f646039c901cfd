// Package relay mirrors session events over NATS so several tracker
// instances can serve the same session: locally committed events go out on a
// shared subject, remote ones are re-injected into the local bus for the
// gateway to push.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/saltgames/tabletop/go/internal/session/bus"
)

// Config holds configuration for the NATS relay.
type Config struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default relay configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Subject:       "tabletop.session.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// envelope wraps a bus event with its origin so an instance can skip its own
// mirrored events.
type envelope struct {
	Origin string    `json:"origin"`
	Event  bus.Event `json:"event"`
}

// Relay bridges the in-process session bus and a NATS subject.
type Relay struct {
	nc       *nats.Conn
	bus      *bus.Bus
	config   Config
	originID string
	sub      *nats.Subscription
}

// New connects to NATS and creates a relay over the given bus.
func New(b *bus.Bus, config Config) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Relay{
		nc:       nc,
		bus:      b,
		config:   config,
		originID: uuid.New().String()[:8],
	}, nil
}

// Start subscribes both directions and blocks until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	sub, err := r.nc.Subscribe(r.config.Subject, r.handleRemote)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.config.Subject, err)
	}
	r.sub = sub

	localCh, cancel := r.bus.Subscribe()
	defer cancel()

	log.Info().
		Str("subject", r.config.Subject).
		Str("origin", r.originID).
		Msg("session relay started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session relay shutting down")
			return r.Stop()
		case ev, ok := <-localCh:
			if !ok {
				return nil
			}
			if ev.Origin != "" {
				continue // injected from another instance, do not echo
			}
			r.publishLocal(ev)
		}
	}
}

// Stop unsubscribes and drains the NATS connection.
func (r *Relay) Stop() error {
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe relay")
		}
	}
	return r.nc.Drain()
}

func (r *Relay) publishLocal(ev bus.Event) {
	data, err := json.Marshal(envelope{Origin: r.originID, Event: ev})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal relay envelope")
		return
	}
	if err := r.nc.Publish(r.config.Subject, data); err != nil {
		log.Error().Err(err).Msg("failed to publish session event")
	}
}

func (r *Relay) handleRemote(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal relay envelope")
		return
	}
	if env.Origin == r.originID {
		return
	}
	ev := env.Event
	ev.Origin = env.Origin
	r.bus.Publish(ev)
}
