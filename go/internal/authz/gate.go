package authz

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when credentials map to no known identity.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the resolved role of a request's credentials.
type Identity struct {
	ParticipantID string `json:"participant_id"`
	Arbiter       bool   `json:"arbiter"`
}

// Gate maps request credentials to a session identity. Consumed by the
// gateway; credential issuance lives outside the core.
type Gate interface {
	Identify(ctx context.Context, credentials string) (Identity, error)
}

// StaticGate resolves identities from a fixed token table, typically loaded
// from the session config.
type StaticGate struct {
	tokens map[string]Identity
}

// NewStaticGate creates a gate over the given token -> identity table.
func NewStaticGate(tokens map[string]Identity) *StaticGate {
	out := make(map[string]Identity, len(tokens))
	for token, id := range tokens {
		out[token] = id
	}
	return &StaticGate{tokens: out}
}

// Identify resolves credentials against the token table.
func (g *StaticGate) Identify(ctx context.Context, credentials string) (Identity, error) {
	id, ok := g.tokens[credentials]
	if !ok || credentials == "" {
		return Identity{}, ErrUnauthorized
	}
	return id, nil
}
