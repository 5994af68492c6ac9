package batch_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/batch"
	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/registry"
)

func snapshotOf(n int) (*registry.Snapshot, []string) {
	ids := make([]registry.ParticipantIdentity, n)
	list := make([]string, n)
	for i := range ids {
		list[i] = fmt.Sprintf("player%02d", i)
		ids[i] = registry.ParticipantIdentity{
			Name:            list[i],
			SequenceIndex:   uint32(i),
			IdentityAddress: address.Address{byte(i), 1},
			RewardAddress:   address.Address{byte(i), 2},
		}
	}
	return registry.NewSnapshot(uint32(n), ids...), list
}

func testContext(t *testing.T) context.Context {
	return logging.NewContext(context.Background(), zaptest.NewLogger(t))
}

func flatten(batches []batch.Batch) []string {
	var out []string
	for _, b := range batches {
		out = append(out, b.Names()...)
	}
	return out
}

func TestScheduleSevenIntoThrees(t *testing.T) {
	t.Parallel()
	snap, matched := snapshotOf(7)
	batches, stale, err := batch.Schedule(testContext(t), matched, snap, 3, address.Address{9})
	require.NoError(t, err)
	require.Empty(t, stale)

	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = b.Len()
		require.Equal(t, address.Address{9}, b.Operator())
	}
	require.Equal(t, []int{3, 3, 1}, sizes)
	require.Equal(t, matched, flatten(batches))
}

func TestScheduleSizesAndOrder(t *testing.T) {
	t.Parallel()
	snap, matched := snapshotOf(20)
	for k := 1; k <= 21; k++ {
		batches, _, err := batch.Schedule(testContext(t), matched, snap, k, address.Zero)
		require.NoError(t, err)
		for _, b := range batches {
			require.LessOrEqual(t, b.Len(), k)
			require.NotZero(t, b.Len())
		}
		require.Equal(t, matched, flatten(batches))
	}
}

func TestScheduleDropsStale(t *testing.T) {
	t.Parallel()
	snap, known := snapshotOf(4)
	matched := []string{known[0], known[1], known[2], "ghost1", "ghost2", "ghost3", known[3]}

	batches, stale, err := batch.Schedule(testContext(t), matched, snap, 3, address.Zero)
	require.NoError(t, err)
	require.Equal(t, []string{"ghost1", "ghost2", "ghost3"}, stale)
	// the second run held only stale names and is discarded
	require.Len(t, batches, 2)
	require.Equal(t, []string{known[0], known[1], known[2]}, batches[0].Names())
	require.Equal(t, []string{known[3]}, batches[1].Names())
	require.Equal(t, known, flatten(batches))
}

func TestScheduleIsAPartition(t *testing.T) {
	t.Parallel()
	snap, known := snapshotOf(3)
	matched := []string{known[0], known[1], known[0], known[2]}
	batches, _, err := batch.Schedule(testContext(t), matched, snap, 2, address.Zero)
	require.NoError(t, err)
	require.Equal(t, known, flatten(batches))
}

func TestScheduleRejectsBadChunkSize(t *testing.T) {
	t.Parallel()
	snap, matched := snapshotOf(2)
	_, _, err := batch.Schedule(testContext(t), matched, snap, 0, address.Zero)
	require.ErrorIs(t, err, batch.ErrInvalidChunkSize)
}

func TestBatchIsImmutable(t *testing.T) {
	t.Parallel()
	snap, matched := snapshotOf(3)
	batches, _, err := batch.Schedule(testContext(t), matched, snap, 3, address.Zero)
	require.NoError(t, err)
	b := batches[0]

	entries := b.Entries()
	entries[0].Name = "mutated"
	require.Equal(t, matched, b.Names())
	require.Equal(t, []uint32{0, 1, 2}, b.SequenceIndices())

	pairs := b.RewardPairs()
	require.Equal(t, address.Address{0, 1}, pairs[0].Identity)
	require.Equal(t, address.Address{2, 2}, pairs[2].Reward)
}
