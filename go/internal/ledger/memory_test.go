package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBundle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Bundle
		wantErr bool
	}{
		{name: "counted resources", input: "2 wood, 1 brick", want: Bundle{"wood": 2, "brick": 1}},
		{name: "bare resource defaults to one", input: "wood", want: Bundle{"wood": 1}},
		{name: "repeated resource accumulates", input: "wood, 2 wood", want: Bundle{"wood": 3}},
		{name: "case insensitive", input: "1 Wood", want: Bundle{"wood": 1}},
		{name: "zero quantity", input: "0 wood", wantErr: true},
		{name: "negative quantity", input: "-2 wood", wantErr: true},
		{name: "too many fields", input: "2 wood planks", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseBundle(tc.input)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidBundle)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExecuteTradeMovesBothLegs(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("alice", Bundle{"wood": 3})
	ctx := context.Background()

	require.NoError(t, store.ExecuteTrade(ctx, "alice", "2 wood", "1 brick"))

	balances, err := store.Balances(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Bundle{"wood": 1, "brick": 1}, balances)
}

func TestExecuteTradeInsufficientLeavesBalancesUntouched(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("alice", Bundle{"wood": 1})
	ctx := context.Background()

	err := store.ExecuteTrade(ctx, "alice", "2 wood", "1 brick")
	assert.ErrorIs(t, err, ErrInsufficientResources)

	balances, err := store.Balances(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Bundle{"wood": 1}, balances)
}

func TestTransferBetweenParticipants(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("alice", Bundle{"wheat": 2})
	ctx := context.Background()

	require.NoError(t, store.Transfer(ctx, "alice", "bob", Bundle{"wheat": 2}))

	aliceBal, err := store.Balances(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, aliceBal["wheat"])

	bobBal, err := store.Balances(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, bobBal["wheat"])
}

func TestAdjustClampsAtZero(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("alice", Bundle{"wood": 1})
	ctx := context.Background()

	require.NoError(t, store.Adjust(ctx, "alice", Bundle{"wood": -5, "brick": 2}))

	balances, err := store.Balances(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, balances["wood"])
	assert.Equal(t, 2, balances["brick"])
}

func TestBalancesReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("alice", Bundle{"wood": 1})
	ctx := context.Background()

	balances, err := store.Balances(ctx, "alice")
	require.NoError(t, err)
	balances["wood"] = 99

	fresh, err := store.Balances(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, fresh["wood"])
}

func TestParticipantsSortedAndExcludesPool(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("carol", Bundle{"iron": 1})
	store.Seed("alice", Bundle{"wood": 1})
	store.Seed("bob", Bundle{"brick": 1})
	ctx := context.Background()

	require.NoError(t, store.Transfer(ctx, "alice", PoolID, Bundle{"wood": 1}))

	// Ordered by id, matching the durable store's roster reads.
	ids, err := store.Participants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, ids)
}
