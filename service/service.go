// Package service runs reconciliation cycles: it collects the roster,
// matches it against the registry and submits rewards for the epoch.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/batch"
	"github.com/fancoin/rostermint/db"
	"github.com/fancoin/rostermint/ledger"
	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/reconcile"
	"github.com/fancoin/rostermint/registry"
	"github.com/fancoin/rostermint/submission"
)

//go:generate mockgen -package mocks -destination mocks/service.go . RosterSource

var (
	ErrBeforeGenesis = errors.New("reward epochs have not started yet")
	ErrInvalidConfig = errors.New("invalid service configuration")

	cyclesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rostermint",
		Subsystem: "service",
		Name:      "cycles_total",
		Help:      "Number of reconciliation cycles by outcome",
	}, []string{"outcome"})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rostermint",
		Subsystem: "service",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of reconciliation cycles",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	matchedMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rostermint",
		Subsystem: "service",
		Name:      "matched",
		Help:      "Number of registered participants seen in the last roster",
	})
	epochMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rostermint",
		Subsystem: "service",
		Name:      "epoch",
		Help:      "Reward epoch of the last cycle",
	})
)

// RosterSource yields the raw player names currently online.
type RosterSource interface {
	Collect(ctx context.Context) []string
}

type Snapshotter interface {
	Snapshot(ctx context.Context) (*registry.Snapshot, error)
}

type RoleRegistrar interface {
	EnsureRole(ctx context.Context) (address.Address, error)
}

type Submitter interface {
	SubmitWithRetry(ctx context.Context, b batch.Batch, epoch uint64) submission.Result
	Config() submission.Config
}

// Journal persists submission outcomes. *db.Journal implements it.
type Journal interface {
	Record(ctx context.Context, rec db.Record) error
	Rewarded(epoch uint64) (map[uint32]struct{}, error)
	Prune(ctx context.Context, epoch uint64) (int, error)
}

type Service struct {
	cfg       Config
	genesis   time.Time
	operator  address.Address
	roster    RosterSource
	registry  Snapshotter
	roles     RoleRegistrar
	submitter Submitter
	journal   Journal
	clock     func() time.Time

	roleReady atomic.Bool
	pruned    atomic.Uint64
}

type Option func(*newServiceOptions)

type newServiceOptions struct {
	cfg     Config
	journal Journal
	clock   func() time.Time
}

func WithConfig(cfg Config) Option {
	return func(opts *newServiceOptions) {
		opts.cfg = cfg
	}
}

func WithJournal(j Journal) Option {
	return func(opts *newServiceOptions) {
		opts.journal = j
	}
}

func WithClock(clock func() time.Time) Option {
	return func(opts *newServiceOptions) {
		opts.clock = clock
	}
}

func New(
	genesis time.Time,
	operator address.Address,
	src RosterSource,
	reg Snapshotter,
	roles RoleRegistrar,
	submitter Submitter,
	opts ...Option,
) (*Service, error) {
	options := newServiceOptions{
		cfg:   DefaultConfig(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	switch {
	case options.cfg.EpochDuration <= 0:
		return nil, fmt.Errorf("%w: epoch duration %v", ErrInvalidConfig, options.cfg.EpochDuration)
	case options.cfg.Interval <= 0:
		return nil, fmt.Errorf("%w: interval %v", ErrInvalidConfig, options.cfg.Interval)
	case submitter.Config().ChunkSize <= 0:
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, batch.ErrInvalidChunkSize)
	}

	return &Service{
		cfg:       options.cfg,
		genesis:   genesis,
		operator:  operator,
		roster:    src,
		registry:  reg,
		roles:     roles,
		submitter: submitter,
		journal:   options.journal,
		clock:     options.clock,
	}, nil
}

// Run executes a cycle every interval until ctx is canceled. Before
// genesis it waits for the first epoch to begin.
func (s *Service) Run(ctx context.Context) error {
	ctx, logger := logging.Named(ctx, "service")
	logger.Info("starting reconciliation",
		zap.Object("config", &s.cfg),
		zap.Time("genesis", s.genesis),
		zap.Stringer("operator", s.operator),
	)

	for {
		wait := s.cfg.Interval
		_, err := s.RunCycle(ctx)
		switch {
		case ctx.Err() != nil:
			logger.Info("reconciliation stopped")
			return nil
		case errors.Is(err, ErrBeforeGenesis):
			wait = s.genesis.Sub(s.clock())
			logger.Info("waiting for genesis", zap.Duration("in", wait))
		case err != nil:
			logger.Error("cycle failed", zap.Error(err))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("reconciliation stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle performs one reconciliation. Per-batch failures are part of the
// report and do not fail the cycle; an error is returned only if the cycle
// could not get as far as submitting. Nothing is sent to the ledger if ctx
// is canceled before the first submission.
func (s *Service) RunCycle(ctx context.Context) (*Report, error) {
	started := s.clock()
	report := &Report{
		CycleID: uuid.NewString(),
		Epoch:   EpochAt(s.genesis, s.cfg.EpochDuration, started),
		Started: started,
	}
	logger := logging.FromContext(ctx).Named("cycle").With(
		zap.String("cycle", report.CycleID),
		zap.Uint64("epoch", report.Epoch),
	)
	ctx = logging.NewContext(ctx, logger)

	timer := prometheus.NewTimer(cycleDuration)
	defer timer.ObserveDuration()

	err := s.runCycle(ctx, report)
	switch {
	case err == nil:
		cyclesMetric.WithLabelValues("ok").Inc()
		logger.Info("cycle finished", zap.Object("report", report))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		cyclesMetric.WithLabelValues("canceled").Inc()
		logger.Info("cycle interrupted", zap.Object("report", report), zap.Error(err))
	default:
		cyclesMetric.WithLabelValues("failed").Inc()
	}
	return report, err
}

func (s *Service) runCycle(ctx context.Context, report *Report) error {
	logger := logging.FromContext(ctx)
	if report.Epoch == 0 {
		return ErrBeforeGenesis
	}
	epochMetric.Set(float64(report.Epoch))
	s.prune(ctx, report.Epoch)

	raw := s.roster.Collect(ctx)
	report.Collected = len(raw)
	if err := ctx.Err(); err != nil {
		return err
	}

	snap, err := s.registry.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("taking registry snapshot: %w", err)
	}
	report.Matched = reconcile.Order(reconcile.Reconcile(raw, snap), snap)
	matchedMetric.Set(float64(len(report.Matched)))

	pending := s.unrewarded(ctx, report, report.Matched, snap)
	logger.Debug("roster reconciled",
		zap.Int("collected", report.Collected),
		zap.Strings("matched", report.Matched),
		zap.Strings("pending", pending),
	)
	if len(pending) == 0 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		report.Skipped = pending
		return err
	}
	if !s.roleReady.Load() {
		if _, err := s.roles.EnsureRole(ctx); err != nil {
			report.Skipped = pending
			return err
		}
		s.roleReady.Store(true)
	}
	return s.submit(ctx, report, pending, snap)
}

// submit sends pending in batches. A conflict means part of the ledger
// state changed under us, so the registry is read again and whatever is
// still unrewarded is rescheduled. If none of the conflicting batch turns
// out rewarded, its names are given up for this cycle. Either way every
// conflict shrinks the work left.
func (s *Service) submit(ctx context.Context, report *Report, pending []string, snap *registry.Snapshot) error {
	logger := logging.FromContext(ctx)
	chunkSize := s.submitter.Config().ChunkSize

	for len(pending) > 0 {
		batches, stale, err := batch.Schedule(ctx, pending, snap, chunkSize, s.operator)
		if err != nil {
			return err
		}
		report.Stale = append(report.Stale, stale...)
		pending = nil

		for i, b := range batches {
			if err := ctx.Err(); err != nil {
				for _, rest := range batches[i:] {
					report.Skipped = append(report.Skipped, rest.Names()...)
				}
				return err
			}
			res := s.submitter.SubmitWithRetry(ctx, b, report.Epoch)
			if res.Kind != ledger.KindConflict {
				report.Results = append(report.Results, res)
				s.record(ctx, report, res)
				continue
			}

			var remaining []string
			for _, rest := range batches[i:] {
				remaining = append(remaining, rest.Names()...)
			}
			fresh, err := s.registry.Snapshot(ctx)
			if err != nil {
				report.Results = append(report.Results, res)
				s.record(ctx, report, res)
				report.Skipped = append(report.Skipped, remaining...)
				return fmt.Errorf("re-reading registry after conflict: %w", err)
			}
			snap = fresh
			res.Applied = applied(b, snap, report.Epoch)
			report.Results = append(report.Results, res)
			s.record(ctx, report, res)
			if res.Applied {
				logger.Info("conflicting batch was already applied", zap.Strings("names", b.Names()))
				remaining = remaining[b.Len():]
			}
			left := s.unrewarded(ctx, report, remaining, snap)

			if res.Applied || explained(b, snap, report.Epoch) {
				pending = left
				break
			}
			conflicting := make(map[string]struct{}, b.Len())
			for _, name := range b.Names() {
				conflicting[name] = struct{}{}
			}
			pending = make([]string, 0, len(left))
			for _, name := range left {
				if _, ok := conflicting[name]; ok {
					logger.Warn("conflict left participant unrewarded", zap.String("name", name))
					continue
				}
				pending = append(pending, name)
			}
			break
		}
	}
	return nil
}

// explained reports whether snap shows part of b as rewarded in epoch,
// which is what an already-applied batch looks like.
func explained(b batch.Batch, snap *registry.Snapshot, epoch uint64) bool {
	for _, name := range b.Names() {
		if id, ok := snap.Lookup(name); ok && id.RewardedIn(epoch) {
			return true
		}
	}
	return false
}

// applied reports whether snap shows all of b as rewarded in epoch. The
// ledger applies a batch atomically, so this is b itself having landed.
func applied(b batch.Batch, snap *registry.Snapshot, epoch uint64) bool {
	for _, name := range b.Names() {
		if id, ok := snap.Lookup(name); !ok || !id.RewardedIn(epoch) {
			return false
		}
	}
	return true
}

// unrewarded drops the names already rewarded in the report's epoch
// according to snap or the journal. Names missing from snap are kept
// for the scheduler to report as stale.
func (s *Service) unrewarded(ctx context.Context, report *Report, names []string, snap *registry.Snapshot) []string {
	var journaled map[uint32]struct{}
	if s.journal != nil {
		var err error
		journaled, err = s.journal.Rewarded(report.Epoch)
		if err != nil {
			logging.FromContext(ctx).Warn("reading journal failed", zap.Error(err))
		}
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		id, ok := snap.Lookup(name)
		if ok {
			_, done := journaled[id.SequenceIndex]
			if done || id.RewardedIn(report.Epoch) {
				report.AlreadyRewarded = append(report.AlreadyRewarded, name)
				continue
			}
		}
		out = append(out, name)
	}
	return out
}

func (s *Service) record(ctx context.Context, report *Report, res submission.Result) {
	if s.journal == nil {
		return
	}
	rec := db.Record{
		CycleID:      report.CycleID,
		Epoch:        res.Epoch,
		Time:         s.clock().UnixNano(),
		Names:        res.Batch.Names(),
		Indices:      res.Batch.SequenceIndices(),
		Ref:          string(res.Ref),
		ComputeUnits: res.Usage.Consumed,
		Attempts:     uint32(res.Attempts),
	}
	if res.Err != nil {
		rec.Kind = res.Kind.String()
	}
	// an applied batch is journaled as rewarded
	if !res.Succeeded() {
		rec.Error = res.Err.Error()
	}
	if err := s.journal.Record(ctx, rec); err != nil {
		logging.FromContext(ctx).Error("journaling submission failed", zap.Strings("names", rec.Names), zap.Error(err))
	}
}

// prune drops journal entries older than the retention once per epoch.
func (s *Service) prune(ctx context.Context, epoch uint64) {
	if s.journal == nil || s.cfg.JournalRetention == 0 || epoch <= s.cfg.JournalRetention {
		return
	}
	if s.pruned.Swap(epoch) == epoch {
		return
	}
	if _, err := s.journal.Prune(ctx, epoch-s.cfg.JournalRetention); err != nil {
		logging.FromContext(ctx).Warn("pruning journal failed", zap.Error(err))
	}
}
