// Package registry reads the participant registry held on the ledger.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spacemeshos/go-scale"
	"go.uber.org/zap"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/ledger"
	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/names"
	"github.com/fancoin/rostermint/program"
)

var snapshotSize = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "rostermint",
	Subsystem: "registry",
	Name:      "participants",
	Help:      "Number of participants in the last registry snapshot",
})

// Presence is the outcome of looking something up on the ledger.
// Unknown means the lookup itself failed, so absence could not be decided.
type Presence uint8

const (
	Unknown Presence = iota
	Present
	Absent
)

func (p Presence) String() string {
	switch p {
	case Present:
		return "present"
	case Absent:
		return "absent"
	default:
		return "unknown"
	}
}

// ParticipantIdentity is a registered participant.
type ParticipantIdentity struct {
	Name            string
	SequenceIndex   uint32
	IdentityAddress address.Address
	RewardAddress   address.Address
	Owner           address.Address
	LastRewardEpoch uint64
}

// RewardedIn reports whether the participant already got a reward in epoch.
// Epochs are numbered from 1; a LastRewardEpoch of 0 means never rewarded.
func (p ParticipantIdentity) RewardedIn(epoch uint64) bool {
	return p.LastRewardEpoch >= epoch
}

// Snapshot is a point-in-time view of the registry, keyed by canonical name.
// It is never mutated after construction.
type Snapshot struct {
	byName  map[string]ParticipantIdentity
	count   uint32
	takenAt time.Time
}

// NewSnapshot builds a snapshot from identities. count is the registry's
// participant counter at the time the identities were read.
func NewSnapshot(count uint32, identities ...ParticipantIdentity) *Snapshot {
	s := &Snapshot{
		byName:  make(map[string]ParticipantIdentity, len(identities)),
		count:   count,
		takenAt: time.Now(),
	}
	for _, id := range identities {
		if prev, ok := s.byName[id.Name]; ok && prev.SequenceIndex < id.SequenceIndex {
			continue
		}
		s.byName[id.Name] = id
	}
	return s
}

func (s *Snapshot) Lookup(name string) (ParticipantIdentity, bool) {
	id, ok := s.byName[name]
	return id, ok
}

// Names returns the snapshot's key set.
func (s *Snapshot) Names() names.Set {
	set := make(names.Set, len(s.byName))
	for name := range s.byName {
		set[name] = struct{}{}
	}
	return set
}

func (s *Snapshot) Len() int {
	return len(s.byName)
}

// Count is the registry's participant counter when the snapshot was taken.
func (s *Snapshot) Count() uint32 {
	return s.count
}

func (s *Snapshot) TakenAt() time.Time {
	return s.takenAt
}

// Registry reads one registry through a ledger.
type Registry struct {
	ledger   ledger.Ledger
	deriver  *address.Deriver
	registry address.Address
}

func New(l ledger.Ledger, deriver *address.Deriver, registry address.Address) *Registry {
	return &Registry{
		ledger:   l,
		deriver:  deriver,
		registry: registry,
	}
}

func (r *Registry) Address() address.Address {
	return r.registry
}

func (r *Registry) Deriver() *address.Deriver {
	return r.deriver
}

// State fetches the registry root account.
func (r *Registry) State(ctx context.Context) (program.RegistryAccount, Presence, error) {
	var state program.RegistryAccount
	presence, err := r.fetch(ctx, r.registry, program.TypeRegistry, &state)
	return state, presence, err
}

// Probe reports whether an account exists at addr.
func (r *Registry) Probe(ctx context.Context, addr address.Address) (Presence, error) {
	acc, err := r.ledger.FetchAccount(ctx, addr)
	if err != nil {
		return Unknown, fmt.Errorf("fetching %s: %w", addr, err)
	}
	if !acc.Exists {
		return Absent, nil
	}
	return Present, nil
}

// Lookup finds a participant by canonical name through its name guard.
func (r *Registry) Lookup(ctx context.Context, name string) (ParticipantIdentity, Presence, error) {
	guard, err := r.deriver.NameGuard(r.registry, name)
	if err != nil {
		return ParticipantIdentity{}, Unknown, err
	}
	var reservation program.NameAccount
	presence, err := r.fetch(ctx, guard, program.TypeName, &reservation)
	if presence != Present {
		return ParticipantIdentity{}, presence, err
	}
	return r.ByIndex(ctx, reservation.SequenceIndex)
}

// ByIndex fetches the participant registered under index.
func (r *Registry) ByIndex(ctx context.Context, index uint32) (ParticipantIdentity, Presence, error) {
	identity, err := r.deriver.Identity(r.registry, index)
	if err != nil {
		return ParticipantIdentity{}, Unknown, err
	}
	var acc program.ParticipantAccount
	presence, err := r.fetch(ctx, identity, program.TypeParticipant, &acc)
	if presence != Present {
		return ParticipantIdentity{}, presence, err
	}
	return toIdentity(identity, &acc), Present, nil
}

// Snapshot bulk-fetches every participant of the registry together with
// the participant counter. Accounts that do not sit at the identity
// address derived from their own sequence index are skipped.
func (r *Registry) Snapshot(ctx context.Context) (*Snapshot, error) {
	logger := logging.FromContext(ctx).Named("registry")

	state, presence, err := r.State(ctx)
	switch presence {
	case Unknown:
		return nil, fmt.Errorf("fetching registry state: %w", err)
	case Absent:
		return nil, fmt.Errorf("registry %s: %w", r.registry, ledger.NewError(ledger.CodeAccountNotInitialized, "registry"))
	}

	accounts, err := r.ledger.FetchAll(ctx, program.TypeParticipant)
	if err != nil {
		return nil, fmt.Errorf("fetching participants: %w", err)
	}

	identities := make([]ParticipantIdentity, 0, len(accounts))
	for _, acc := range accounts {
		var p program.ParticipantAccount
		if err := program.Decode(acc.Data, &p); err != nil {
			logger.Warn("skipping undecodable participant", zap.Stringer("address", acc.Address), zap.Error(err))
			continue
		}
		if p.Registry != r.registry {
			continue
		}
		expected, err := r.deriver.Identity(r.registry, p.SequenceIndex)
		if err != nil || expected != acc.Address {
			logger.Warn("skipping participant at unexpected address",
				zap.Stringer("address", acc.Address),
				zap.Uint32("index", p.SequenceIndex),
				zap.String("name", p.Name),
			)
			continue
		}
		if p.SequenceIndex >= state.ParticipantCount {
			logger.Warn("participant index beyond registry count",
				zap.Uint32("index", p.SequenceIndex),
				zap.Uint32("count", state.ParticipantCount),
			)
		}
		id := toIdentity(acc.Address, &p)
		if id.Name == "" {
			continue
		}
		identities = append(identities, id)
	}

	snap := NewSnapshot(state.ParticipantCount, identities...)
	snapshotSize.Set(float64(snap.Len()))
	logger.Debug("registry snapshot taken",
		zap.Int("participants", snap.Len()),
		zap.Uint32("count", snap.Count()),
	)
	return snap, nil
}

func (r *Registry) fetch(ctx context.Context, addr address.Address, tag ledger.TypeTag, v scale.Decodable) (Presence, error) {
	acc, err := r.ledger.FetchAccount(ctx, addr)
	if err != nil {
		return Unknown, fmt.Errorf("fetching %s account %s: %w", tag, addr, err)
	}
	if !acc.Exists {
		return Absent, nil
	}
	if acc.Type != tag {
		return Unknown, fmt.Errorf("account %s: %w", addr,
			ledger.NewError(ledger.CodeInvalidAccountData, fmt.Sprintf("type %q, want %q", acc.Type, tag)))
	}
	if err := program.Decode(acc.Data, v); err != nil {
		return Unknown, fmt.Errorf("decoding %s account %s: %w", tag, addr, err)
	}
	return Present, nil
}

func toIdentity(identity address.Address, p *program.ParticipantAccount) ParticipantIdentity {
	return ParticipantIdentity{
		Name:            names.Canonical(p.Name),
		SequenceIndex:   p.SequenceIndex,
		IdentityAddress: identity,
		RewardAddress:   p.RewardAddress,
		Owner:           p.Owner,
		LastRewardEpoch: p.LastRewardEpoch,
	}
}
