package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PoolID is the reserved counterparty id for trades against the bank. The
// pool side of a transfer is unbounded.
const PoolID = "pool"

var (
	// ErrInsufficientResources is returned when a transfer would drive a
	// participant's balance below zero.
	ErrInsufficientResources = errors.New("insufficient resources")
	// ErrInvalidBundle is returned when a resource description cannot be
	// parsed.
	ErrInvalidBundle = errors.New("invalid resource bundle")
)

// Bundle maps a resource name to a quantity.
type Bundle map[string]int

// Store is the ledger collaborator: atomic read-modify-write of participant
// resource balances. The trade registry calls ExecuteTrade at most once per
// accepted trade.
type Store interface {
	// Transfer moves delta from one participant to another. Either side may
	// be PoolID. Fails without side effects if the source lacks resources.
	Transfer(ctx context.Context, fromID, toID string, delta Bundle) error
	// ExecuteTrade applies both legs of an accepted trade atomically:
	// offer moves proposer -> pool, want moves pool -> proposer.
	ExecuteTrade(ctx context.Context, proposerID, offer, want string) error
	// Adjust applies delta to a participant's balance, clamping each
	// resource at zero. Used for arbiter corrections.
	Adjust(ctx context.Context, participantID string, delta Bundle) error
	// Balances returns a copy of the participant's current balances.
	Balances(ctx context.Context, participantID string) (Bundle, error)
}

// ParseBundle parses a resource description like "2 wood, 1 brick" or
// "wood" (quantity defaults to 1). Quantities must be positive.
func ParseBundle(s string) (Bundle, error) {
	b := make(Bundle)
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		switch len(fields) {
		case 0:
			continue
		case 1:
			b[strings.ToLower(fields[0])]++
		case 2:
			n, err := strconv.Atoi(fields[0])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: %q", ErrInvalidBundle, part)
			}
			b[strings.ToLower(fields[1])] += n
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidBundle, part)
		}
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty description", ErrInvalidBundle)
	}
	return b, nil
}
