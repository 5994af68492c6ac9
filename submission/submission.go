// Package submission sends batches of rewards to the ledger.
package submission

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/batch"
	"github.com/fancoin/rostermint/ledger"
	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/program"
	"github.com/fancoin/rostermint/retry"
)

var (
	submissionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rostermint",
		Subsystem: "submission",
		Name:      "operations_total",
		Help:      "Number of reward operations by outcome",
	}, []string{"outcome"})

	computeUnitsMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rostermint",
		Subsystem: "submission",
		Name:      "compute_units",
		Help:      "Compute units consumed by reward operations",
		Buckets:   prometheus.ExponentialBuckets(1000, 2, 10),
	})
)

// Result is the outcome of submitting one batch.
type Result struct {
	Batch    batch.Batch
	Epoch    uint64
	Ref      ledger.OperationRef
	Usage    Usage
	Attempts uint
	Err      error
	Kind     ledger.ErrorKind
	// Applied marks a conflict that turned out to be this very batch
	// already on the ledger. Err and Kind still describe what was seen.
	Applied bool
}

func (r Result) Succeeded() bool {
	return r.Err == nil || r.Applied
}

// Accounts are the operator's fixed accounts of every reward operation.
type Accounts struct {
	Registry address.Address
	Role     address.Address
	Asset    address.Address
}

// Client submits batches signed by one operator.
type Client struct {
	ledger   ledger.Ledger
	signer   ledger.Signer
	accounts Accounts
	cfg      Config
	policy   *retry.Policy
}

func NewClient(l ledger.Ledger, signer ledger.Signer, accounts Accounts, cfg Config, retryOpts ...retry.Option) (*Client, error) {
	// an applied batch surfaces as a conflict; only transient failures may be resubmitted blindly
	opts := append([]retry.Option{retry.WithRetryable(retry.Kinds(ledger.KindTransient))}, retryOpts...)
	policy, err := retry.New(cfg.Retry, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating retry policy: %w", err)
	}
	return &Client{
		ledger:   l,
		signer:   signer,
		accounts: accounts,
		cfg:      cfg,
		policy:   policy,
	}, nil
}

// Submit sends b as a single operation for epoch. It never retries.
// Once the operation is handed to the ledger, cancelling ctx no longer
// interrupts it; the call waits for the ledger's answer or the submit
// timeout, which is reported as transient.
func (c *Client) Submit(ctx context.Context, b batch.Batch, epoch uint64) Result {
	logger := logging.FromContext(ctx).Named("submission").With(
		zap.Uint64("epoch", epoch),
		zap.Strings("names", b.Names()),
	)
	res := Result{Batch: b, Epoch: epoch, Attempts: 1}
	fail := func(err error) Result {
		res.Err = err
		res.Kind = ledger.Classify(err)
		submissionsMetric.WithLabelValues(res.Kind.String()).Inc()
		logger.Warn("submission failed", zap.Stringer("kind", res.Kind), zap.Error(err))
		return res
	}

	if b.Operator() != c.signer.Address() {
		return fail(&ledger.Error{
			Kind: ledger.KindMalformed,
			Msg:  fmt.Sprintf("batch of operator %s signed by %s", b.Operator(), c.signer.Address()),
		})
	}
	accounts, err := program.NewSubmitRewardsAccounts(
		c.accounts.Registry,
		c.accounts.Role,
		c.signer.Address(),
		c.accounts.Asset,
		b.RewardPairs(),
		c.cfg.MaxAccounts,
	)
	if err != nil {
		return fail(&ledger.Error{Kind: ledger.KindMalformed, Err: err})
	}
	payload, err := program.Encode(&program.SubmitRewardsArgs{Epoch: epoch, SequenceIndices: b.SequenceIndices()})
	if err != nil {
		return fail(&ledger.Error{Kind: ledger.KindMalformed, Err: err})
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()
	ref, err := c.ledger.SendOperation(sendCtx, program.SubmitRewards, accounts.Metas(), c.signer, payload)
	if err != nil {
		return fail(err)
	}
	res.Ref = ref
	submissionsMetric.WithLabelValues("ok").Inc()

	// logs are only used for observability, a failed lookup does not fail the submission
	result, err := c.ledger.OperationResult(sendCtx, ref)
	switch {
	case err != nil:
		logger.Debug("fetching operation logs failed", zap.String("ref", string(ref)), zap.Error(err))
	case !result.Found:
		logger.Debug("operation logs not found", zap.String("ref", string(ref)))
	default:
		if usage, ok := ParseUsage(result.Logs); ok {
			res.Usage = usage
			computeUnitsMetric.Observe(float64(usage.Consumed))
		}
	}
	logger.Info("batch submitted",
		zap.String("ref", string(ref)),
		zap.Uint32s("indices", b.SequenceIndices()),
		zap.Uint64("compute_units", res.Usage.Consumed),
	)
	return res
}

// SubmitWithRetry submits b, resubmitting after transient failures.
// A conflict is returned to the caller, who must re-read the registry
// before deciding what is left to submit.
func (c *Client) SubmitWithRetry(ctx context.Context, b batch.Batch, epoch uint64) Result {
	var last Result
	attempts := uint(0)
	_, _ = retry.Do(ctx, c.policy, string(program.SubmitRewards), func(ctx context.Context) (struct{}, error) {
		attempts++
		last = c.Submit(ctx, b, epoch)
		return struct{}{}, last.Err
	})
	last.Attempts = attempts
	return last
}

func (c *Client) Config() Config {
	return c.cfg
}
