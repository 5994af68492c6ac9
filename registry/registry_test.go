package registry_test

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/ledger"
	"github.com/fancoin/rostermint/ledger/memory"
	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/registration"
	"github.com/fancoin/rostermint/registry"
	"github.com/fancoin/rostermint/signing"
)

func randomAddress(t *testing.T) address.Address {
	t.Helper()
	var a address.Address
	_, err := rand.Read(a[:])
	require.NoError(t, err)
	return a
}

func setup(t *testing.T) (context.Context, *memory.Ledger, *registry.Registry, *registration.Registrar) {
	t.Helper()
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	programID := randomAddress(t)
	l, err := memory.New(programID)
	require.NoError(t, err)
	deriver, err := address.NewDeriver(programID, 0)
	require.NoError(t, err)
	asset := randomAddress(t)
	registryAddr, err := l.CreateRegistry(randomAddress(t), asset)
	require.NoError(t, err)
	reg := registry.New(l, deriver, registryAddr)
	operator, err := signing.GenerateOperator(rand.Reader)
	require.NoError(t, err)
	r, err := registration.New(l, reg, operator, asset)
	require.NoError(t, err)
	return ctx, l, reg, r
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx, _, reg, r := setup(t)

	for _, name := range []string{"Alice", "Bob", "Carol"} {
		_, err := r.RegisterParticipant(ctx, registration.Participant{Name: name, Owner: randomAddress(t)})
		require.NoError(err)
	}

	snap, err := reg.Snapshot(ctx)
	require.NoError(err)
	require.Equal(3, snap.Len())
	require.EqualValues(3, snap.Count())
	require.Equal([]string{"Alice", "Bob", "Carol"}, snap.Names().Sorted())

	bob, ok := snap.Lookup("Bob")
	require.True(ok)
	require.EqualValues(1, bob.SequenceIndex)
	expected, err := reg.Deriver().Identity(reg.Address(), 1)
	require.NoError(err)
	require.Equal(expected, bob.IdentityAddress)

	_, ok = snap.Lookup("Dave")
	require.False(ok)
}

func TestSnapshotOfEmptyRegistry(t *testing.T) {
	t.Parallel()
	ctx, _, reg, _ := setup(t)
	snap, err := reg.Snapshot(ctx)
	require.NoError(t, err)
	require.Zero(t, snap.Len())
	require.Empty(t, snap.Names())
}

func TestSnapshotFailsWhenFetchFails(t *testing.T) {
	t.Parallel()
	ctx, l, reg, _ := setup(t)
	l.FailNextFetch(ledger.NewError(ledger.CodeNodeUnavailable, ""))
	_, err := reg.Snapshot(ctx)
	require.ErrorIs(t, err, ledger.ErrTransient)
}

func TestLookupIsTriState(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx, l, reg, r := setup(t)

	_, presence, err := reg.Lookup(ctx, "Alice")
	require.NoError(err)
	require.Equal(registry.Absent, presence)

	registered, err := r.RegisterParticipant(ctx, registration.Participant{Name: "Alice", Owner: randomAddress(t)})
	require.NoError(err)

	found, presence, err := reg.Lookup(ctx, "Alice")
	require.NoError(err)
	require.Equal(registry.Present, presence)
	require.Equal(registered, found)

	// a failed lookup is neither present nor absent
	l.FailNextFetch(ledger.NewError(ledger.CodeTimeout, ""))
	_, presence, err = reg.Lookup(ctx, "Alice")
	require.Error(err)
	require.Equal(registry.Unknown, presence)
}

func TestNewSnapshotKeepsLowestIndexPerName(t *testing.T) {
	t.Parallel()
	snap := registry.NewSnapshot(3,
		registry.ParticipantIdentity{Name: "Alice", SequenceIndex: 2},
		registry.ParticipantIdentity{Name: "Alice", SequenceIndex: 0},
		registry.ParticipantIdentity{Name: "Bob", SequenceIndex: 1},
	)
	alice, ok := snap.Lookup("Alice")
	require.True(t, ok)
	require.EqualValues(t, 0, alice.SequenceIndex)
	require.Equal(t, 2, snap.Len())
}

func TestRewardedIn(t *testing.T) {
	t.Parallel()
	never := registry.ParticipantIdentity{}
	require.False(t, never.RewardedIn(1))
	rewarded := registry.ParticipantIdentity{LastRewardEpoch: 5}
	require.True(t, rewarded.RewardedIn(5))
	require.True(t, rewarded.RewardedIn(4))
	require.False(t, rewarded.RewardedIn(6))
}
