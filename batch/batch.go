// Package batch partitions matched participants into reward operations.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/program"
	"github.com/fancoin/rostermint/registry"
)

var (
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	staleMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rostermint",
		Subsystem: "batch",
		Name:      "stale_total",
		Help:      "Number of matched names dropped because the registry snapshot did not know them",
	})
	batchesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rostermint",
		Subsystem: "batch",
		Name:      "scheduled_total",
		Help:      "Number of scheduled batches",
	})
)

// Batch is an ordered group of participants rewarded by one operation.
// It cannot be modified once scheduled; accessors return copies.
type Batch struct {
	operator address.Address
	entries  []registry.ParticipantIdentity
}

// New builds a batch of entries in the given order.
func New(operator address.Address, entries ...registry.ParticipantIdentity) Batch {
	return Batch{
		operator: operator,
		entries:  append([]registry.ParticipantIdentity(nil), entries...),
	}
}

func (b Batch) Operator() address.Address {
	return b.operator
}

func (b Batch) Len() int {
	return len(b.entries)
}

func (b Batch) Entries() []registry.ParticipantIdentity {
	return append([]registry.ParticipantIdentity(nil), b.entries...)
}

func (b Batch) Names() []string {
	out := make([]string, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.Name
	}
	return out
}

func (b Batch) SequenceIndices() []uint32 {
	out := make([]uint32, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.SequenceIndex
	}
	return out
}

// RewardPairs returns the (identity, reward) accounts in batch order.
func (b Batch) RewardPairs() []program.RewardPair {
	out := make([]program.RewardPair, len(b.entries))
	for i, e := range b.entries {
		out[i] = program.RewardPair{Identity: e.IdentityAddress, Reward: e.RewardAddress}
	}
	return out
}

// Schedule splits matched into contiguous runs of at most chunkSize names
// and resolves every name against snap. Names snap does not know are
// dropped and returned as stale; a batch left empty is not returned.
// A name listed twice is only scheduled once.
func Schedule(
	ctx context.Context,
	matched []string,
	snap *registry.Snapshot,
	chunkSize int,
	operator address.Address,
) ([]Batch, []string, error) {
	if chunkSize <= 0 {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}
	logger := logging.FromContext(ctx).Named("batch")

	var (
		batches []Batch
		stale   []string
		seen    = make(map[uint32]struct{}, len(matched))
	)
	for start := 0; start < len(matched); start += chunkSize {
		end := start + chunkSize
		if end > len(matched) {
			end = len(matched)
		}
		entries := make([]registry.ParticipantIdentity, 0, end-start)
		for _, name := range matched[start:end] {
			id, ok := snap.Lookup(name)
			if !ok {
				logger.Warn("dropping name missing from registry snapshot", zap.String("name", name))
				stale = append(stale, name)
				continue
			}
			if _, dup := seen[id.SequenceIndex]; dup {
				logger.Warn("dropping duplicate name", zap.String("name", name))
				continue
			}
			seen[id.SequenceIndex] = struct{}{}
			entries = append(entries, id)
		}
		if len(entries) == 0 {
			logger.Debug("discarding empty batch", zap.Int("start", start))
			continue
		}
		batches = append(batches, Batch{operator: operator, entries: entries})
	}

	staleMetric.Add(float64(len(stale)))
	batchesMetric.Add(float64(len(batches)))
	return batches, stale, nil
}
