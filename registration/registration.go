package registration

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/ledger"
	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/names"
	"github.com/fancoin/rostermint/program"
	"github.com/fancoin/rostermint/registry"
	"github.com/fancoin/rostermint/retry"
)

var (
	ErrEmptyName   = errors.New("name is empty after canonicalization")
	ErrNameTooLong = errors.New("name too long")

	registrationsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rostermint",
		Subsystem: "registration",
		Name:      "participants_total",
		Help:      "Number of participant registrations by outcome",
	}, []string{"outcome"})
)

// Participant is a registration request.
type Participant struct {
	Name  string
	Owner address.Address
}

// Result is the outcome of registering one participant.
type Result struct {
	Participant Participant
	Identity    registry.ParticipantIdentity
	Err         error
}

// Registrar registers participants and operator roles.
type Registrar struct {
	ledger   ledger.Ledger
	registry *registry.Registry
	signer   ledger.Signer
	asset    address.Address
	policy   *retry.Policy
}

type newRegistrarOptionFunc func(*newRegistrarOptions)

type newRegistrarOptions struct {
	cfg       Config
	retryOpts []retry.Option
}

func WithConfig(cfg Config) newRegistrarOptionFunc {
	return func(opts *newRegistrarOptions) {
		opts.cfg = cfg
	}
}

// WithRetryOptions customizes the retry policy, e.g. to observe it in tests.
func WithRetryOptions(retryOpts ...retry.Option) newRegistrarOptionFunc {
	return func(opts *newRegistrarOptions) {
		opts.retryOpts = append(opts.retryOpts, retryOpts...)
	}
}

func New(
	l ledger.Ledger,
	reg *registry.Registry,
	signer ledger.Signer,
	asset address.Address,
	opts ...newRegistrarOptionFunc,
) (*Registrar, error) {
	options := newRegistrarOptions{
		cfg: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	// already initialized and name taken are expected while racing other operators
	retryOpts := append([]retry.Option{
		retry.WithRetryable(retry.Kinds(ledger.KindTransient, ledger.KindConflict)),
	}, options.retryOpts...)
	policy, err := retry.New(options.cfg.Retry, retryOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating retry policy: %w", err)
	}
	return &Registrar{
		ledger:   l,
		registry: reg,
		signer:   signer,
		asset:    asset,
		policy:   policy,
	}, nil
}

// RegisterParticipant registers p unless a participant with the same
// canonical name and owner already exists, in which case that identity is
// returned. A name held by another owner fails with a non-retryable error.
func (r *Registrar) RegisterParticipant(ctx context.Context, p Participant) (registry.ParticipantIdentity, error) {
	name := names.Canonical(p.Name)
	switch {
	case name == "":
		return registry.ParticipantIdentity{}, fmt.Errorf("%q: %w", p.Name, &ledger.Error{Kind: ledger.KindMalformed, Err: ErrEmptyName})
	case len(name) > names.MaxLen:
		return registry.ParticipantIdentity{}, fmt.Errorf("%q: %w", name, &ledger.Error{Kind: ledger.KindMalformed, Err: ErrNameTooLong})
	case p.Owner.IsZero():
		return registry.ParticipantIdentity{}, fmt.Errorf("%q: %w", name, &ledger.Error{Kind: ledger.KindMalformed, Err: address.ErrInvalidAddress})
	}

	ctx, logger := logging.Named(ctx, "registration")
	logger = logger.With(zap.String("name", name), zap.Stringer("owner", p.Owner))
	ctx = logging.NewContext(ctx, logger)

	id, err := retry.Do(ctx, r.policy, string(program.RegisterParticipant), func(ctx context.Context) (registry.ParticipantIdentity, error) {
		return r.registerOnce(ctx, name, p.Owner)
	})
	if err != nil {
		registrationsMetric.WithLabelValues(ledger.Classify(err).String()).Inc()
		return registry.ParticipantIdentity{}, fmt.Errorf("registering %q: %w", name, err)
	}
	registrationsMetric.WithLabelValues("ok").Inc()
	return id, nil
}

func (r *Registrar) registerOnce(ctx context.Context, name string, owner address.Address) (registry.ParticipantIdentity, error) {
	logger := logging.FromContext(ctx)

	existing, presence, err := r.registry.Lookup(ctx, name)
	switch presence {
	case registry.Unknown:
		return registry.ParticipantIdentity{}, err
	case registry.Present:
		if existing.Owner != owner {
			return registry.ParticipantIdentity{}, &ledger.Error{
				Kind: ledger.KindFatal,
				Code: ledger.CodeNameTaken,
				Msg:  fmt.Sprintf("%q belongs to %s", name, existing.Owner),
			}
		}
		logger.Info("participant already registered", zap.Uint32("index", existing.SequenceIndex))
		return existing, nil
	}

	state, presence, err := r.registry.State(ctx)
	switch presence {
	case registry.Unknown:
		return registry.ParticipantIdentity{}, err
	case registry.Absent:
		return registry.ParticipantIdentity{}, ledger.NewError(ledger.CodeAccountNotInitialized, "registry")
	}

	deriver := r.registry.Deriver()
	index := state.ParticipantCount
	identity, err := deriver.Identity(r.registry.Address(), index)
	if err != nil {
		return registry.ParticipantIdentity{}, err
	}
	guard, err := deriver.NameGuard(r.registry.Address(), name)
	if err != nil {
		return registry.ParticipantIdentity{}, err
	}
	reward, err := deriver.Reward(owner, r.asset)
	if err != nil {
		return registry.ParticipantIdentity{}, err
	}
	metas, err := program.RegisterParticipantAccounts{
		Registry:      r.registry.Address(),
		Identity:      identity,
		NameGuard:     guard,
		Owner:         owner,
		RewardAddress: reward,
		Payer:         r.signer.Address(),
	}.Metas()
	if err != nil {
		return registry.ParticipantIdentity{}, &ledger.Error{Kind: ledger.KindMalformed, Err: err}
	}
	payload, err := program.Encode(&program.RegisterParticipantArgs{Name: name, SequenceIndex: index})
	if err != nil {
		return registry.ParticipantIdentity{}, &ledger.Error{Kind: ledger.KindMalformed, Err: err}
	}

	logger.Debug("registering participant", zap.Uint32("index", index), zap.Stringer("identity", identity))
	ref, err := r.ledger.SendOperation(ctx, program.RegisterParticipant, metas, r.signer, payload)
	if err != nil {
		return registry.ParticipantIdentity{}, err
	}
	logger.Info("participant registered",
		zap.Uint32("index", index),
		zap.Stringer("identity", identity),
		zap.String("ref", string(ref)),
	)
	return registry.ParticipantIdentity{
		Name:            name,
		SequenceIndex:   index,
		IdentityAddress: identity,
		RewardAddress:   reward,
		Owner:           owner,
	}, nil
}

// EnsureRole makes sure the signer holds the operator role of the asset
// and returns the role address.
func (r *Registrar) EnsureRole(ctx context.Context) (address.Address, error) {
	ctx, logger := logging.Named(ctx, "registration")
	role, err := r.registry.Deriver().Role(r.asset, r.signer.Address())
	if err != nil {
		return address.Zero, err
	}
	logger = logger.With(zap.Stringer("role", role), zap.Stringer("operator", r.signer.Address()))

	_, err = retry.Do(ctx, r.policy, string(program.RegisterRole), func(ctx context.Context) (struct{}, error) {
		presence, err := r.registry.Probe(ctx, role)
		switch presence {
		case registry.Unknown:
			return struct{}{}, err
		case registry.Present:
			return struct{}{}, nil
		}
		metas, err := program.RegisterRoleAccounts{
			Registry: r.registry.Address(),
			Role:     role,
			Asset:    r.asset,
			Operator: r.signer.Address(),
		}.Metas()
		if err != nil {
			return struct{}{}, &ledger.Error{Kind: ledger.KindMalformed, Err: err}
		}
		ref, err := r.ledger.SendOperation(ctx, program.RegisterRole, metas, r.signer, nil)
		if err != nil {
			return struct{}{}, err
		}
		logger.Info("operator role registered", zap.String("ref", string(ref)))
		return struct{}{}, nil
	})
	if err != nil {
		return address.Zero, fmt.Errorf("ensuring operator role %s: %w", role, err)
	}
	return role, nil
}

// RegisterAll registers participants one after another; the ledger is only
// ever asked to process one operation of this signer at a time. A failed
// registration does not stop the others. The returned error aggregates all
// failures.
func (r *Registrar) RegisterAll(ctx context.Context, participants []Participant) ([]Result, error) {
	results := make([]Result, 0, len(participants))
	var errs *multierror.Error
	for _, p := range participants {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		id, err := r.RegisterParticipant(ctx, p)
		results = append(results, Result{Participant: p, Identity: id, Err: err})
		if err != nil {
			logging.FromContext(ctx).Warn("registration failed",
				zap.String("name", p.Name),
				zap.Stringer("owner", p.Owner),
				zap.Stringer("kind", ledger.Classify(err)),
				zap.Error(err),
			)
			errs = multierror.Append(errs, err)
		}
	}
	return results, errs.ErrorOrNil()
}
