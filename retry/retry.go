// Package retry runs ledger-mutating calls under bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fancoin/rostermint/ledger"
	"github.com/fancoin/rostermint/logging"
)

var attemptsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rostermint",
	Subsystem: "retry",
	Name:      "attempts_total",
	Help:      "Number of attempts of retried operations by final state of the attempt",
}, []string{"operation", "state"})

var ErrNoAttempts = errors.New("max attempts must be positive")

type Config struct {
	MaxAttempts uint          `long:"max-attempts" description:"How many times an operation is attempted"`
	BaseDelay   time.Duration `long:"base-delay"   description:"Delay before the 2nd attempt, doubled for every further attempt"`
}

func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint("max attempts", c.MaxAttempts)
	enc.AddDuration("base delay", c.BaseDelay)
	return nil
}

// Delay returns the sleep after failed attempt k (1-based). It saturates
// at the largest duration instead of overflowing.
func (c Config) Delay(attempt uint) time.Duration {
	if attempt == 0 || c.BaseDelay <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift >= 63 || c.BaseDelay > time.Duration(math.MaxInt64)>>shift {
		return time.Duration(math.MaxInt64)
	}
	return c.BaseDelay << shift
}

// State of a tracked operation.
type State uint8

const (
	Pending State = iota
	Attempting
	RetryScheduled
	Succeeded
	FatallyFailed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Attempting:
		return "attempting"
	case RetryScheduled:
		return "retry_scheduled"
	case Succeeded:
		return "succeeded"
	case FatallyFailed:
		return "fatally_failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Succeeded || s == FatallyFailed
}

// Observer is notified on every state transition of an operation.
type Observer func(operation string, attempt uint, state State, err error)

// Policy decides which failures are retried and how long to wait.
type Policy struct {
	cfg       Config
	retryable func(error) bool
	sleep     func(ctx context.Context, d time.Duration) error
	observers []Observer
}

type Option func(*Policy)

// WithRetryable replaces the predicate deciding which errors are retried.
func WithRetryable(retryable func(error) bool) Option {
	return func(p *Policy) {
		p.retryable = retryable
	}
}

// WithSleep replaces the function used to wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		p.sleep = sleep
	}
}

func WithObserver(o Observer) Option {
	return func(p *Policy) {
		p.observers = append(p.observers, o)
	}
}

// New creates a Policy. By default transient and conflict failures
// are retried.
func New(cfg Config, opts ...Option) (*Policy, error) {
	if cfg.MaxAttempts == 0 {
		return nil, ErrNoAttempts
	}
	p := &Policy{
		cfg:       cfg,
		retryable: Kinds(ledger.KindTransient, ledger.KindConflict),
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Policy) Config() Config {
	return p.cfg
}

// Kinds returns a predicate accepting errors classified as one of kinds.
func Kinds(kinds ...ledger.ErrorKind) func(error) bool {
	return func(err error) bool {
		kind := ledger.Classify(err)
		for _, k := range kinds {
			if kind == k {
				return true
			}
		}
		return false
	}
}

func (p *Policy) notify(operation string, attempt uint, state State, err error) {
	if state != Pending && state != Attempting {
		attemptsMetric.WithLabelValues(operation, state.String()).Inc()
	}
	for _, o := range p.observers {
		o(operation, attempt, state, err)
	}
}

// Do calls op until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. The last error is returned as is so that callers
// can still classify it. If ctx ends while waiting, the last error is joined
// with the context error.
func Do[T any](ctx context.Context, p *Policy, operation string, op func(context.Context) (T, error)) (T, error) {
	logger := logging.FromContext(ctx).With(zap.String("operation", operation))
	p.notify(operation, 0, Pending, nil)

	var zero T
	for attempt := uint(1); ; attempt++ {
		p.notify(operation, attempt, Attempting, nil)
		res, err := op(ctx)
		if err == nil {
			p.notify(operation, attempt, Succeeded, nil)
			return res, nil
		}
		if !p.retryable(err) {
			logger.Debug("non-retryable failure", zap.Uint("attempt", attempt), zap.Error(err))
			p.notify(operation, attempt, FatallyFailed, err)
			return zero, err
		}
		if attempt >= p.cfg.MaxAttempts {
			logger.Warn("attempts exhausted", zap.Uint("attempts", attempt), zap.Error(err))
			p.notify(operation, attempt, FatallyFailed, err)
			return zero, err
		}

		delay := p.cfg.Delay(attempt)
		logger.Info("retrying",
			zap.Uint("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Stringer("kind", ledger.Classify(err)),
			zap.Error(err),
		)
		p.notify(operation, attempt, RetryScheduled, err)
		if serr := p.sleep(ctx, delay); serr != nil {
			p.notify(operation, attempt, FatallyFailed, err)
			return zero, errors.Join(err, serr)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
