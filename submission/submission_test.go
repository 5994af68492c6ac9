package submission_test

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/batch"
	"github.com/fancoin/rostermint/ledger"
	"github.com/fancoin/rostermint/ledger/mocks"
	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/program"
	"github.com/fancoin/rostermint/registry"
	"github.com/fancoin/rostermint/retry"
	"github.com/fancoin/rostermint/signing"
	"github.com/fancoin/rostermint/submission"
)

func randomAddress(t *testing.T) address.Address {
	t.Helper()
	var a address.Address
	_, err := rand.Read(a[:])
	require.NoError(t, err)
	return a
}

type fixture struct {
	ledger   *mocks.MockLedger
	operator *signing.Operator
	accounts submission.Accounts
	client   *submission.Client
	batch    batch.Batch
}

func newFixture(t *testing.T, cfg submission.Config) *fixture {
	t.Helper()
	operator, err := signing.GenerateOperator(rand.Reader)
	require.NoError(t, err)
	l := mocks.NewMockLedger(gomock.NewController(t))
	accounts := submission.Accounts{Registry: randomAddress(t), Role: randomAddress(t), Asset: randomAddress(t)}
	client, err := submission.NewClient(l, operator, accounts, cfg,
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)

	var entries []registry.ParticipantIdentity
	for i, name := range []string{"Dave", "Alice", "Bob"} {
		entries = append(entries, registry.ParticipantIdentity{
			Name:            name,
			SequenceIndex:   uint32(10 - i),
			IdentityAddress: randomAddress(t),
			RewardAddress:   randomAddress(t),
		})
	}
	return &fixture{
		ledger:   l,
		operator: operator,
		accounts: accounts,
		client:   client,
		batch:    batch.New(operator.Address(), entries...),
	}
}

func testContext(t *testing.T) context.Context {
	return logging.NewContext(context.Background(), zaptest.NewLogger(t))
}

func TestSubmitAccountOrder(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	f := newFixture(t, submission.DefaultConfig())
	logs := []string{
		"Program Reg111 invoke [1]",
		"Program Tok111 consumed 1200 of 190000 compute units",
		"Program Reg111 consumed 12345 of 200000 compute units",
		"Program Reg111 success",
	}

	f.ledger.EXPECT().
		SendOperation(gomock.Any(), program.SubmitRewards, gomock.Any(), f.operator, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ ledger.Instruction, metas []ledger.AccountMeta, _ ledger.Signer, payload []byte) (ledger.OperationRef, error) {
			require.Len(metas, program.SubmitFixedAccounts+2*f.batch.Len())
			require.Equal(f.accounts.Registry, metas[0].Address)
			require.Equal(f.accounts.Role, metas[1].Address)
			require.Equal(f.operator.Address(), metas[2].Address)
			require.True(metas[2].Signer)
			require.Equal(f.accounts.Asset, metas[3].Address)
			for i, e := range f.batch.Entries() {
				require.Equal(e.IdentityAddress, metas[program.SubmitFixedAccounts+2*i].Address)
				require.Equal(e.RewardAddress, metas[program.SubmitFixedAccounts+2*i+1].Address)
			}

			var args program.SubmitRewardsArgs
			require.NoError(program.Decode(payload, &args))
			require.EqualValues(7, args.Epoch)
			require.Equal([]uint32{10, 9, 8}, args.SequenceIndices)
			return "ref1", nil
		})
	f.ledger.EXPECT().OperationResult(gomock.Any(), ledger.OperationRef("ref1")).
		Return(ledger.OperationResult{Found: true, Logs: logs}, nil)

	res := f.client.Submit(testContext(t), f.batch, 7)
	require.True(res.Succeeded())
	require.Equal(ledger.OperationRef("ref1"), res.Ref)
	require.Equal(submission.Usage{Program: "Reg111", Consumed: 12345, Budget: 200000}, res.Usage)
	require.Equal(ledger.KindNone, res.Kind)
}

func TestSubmitClassifiesFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, submission.DefaultConfig())
	f.ledger.EXPECT().SendOperation(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(ledger.OperationRef(""), ledger.NewError(ledger.CodeInsufficientFunds, "payer"))

	res := f.client.Submit(testContext(t), f.batch, 1)
	require.False(t, res.Succeeded())
	require.Equal(t, ledger.KindFatal, res.Kind)
	require.ErrorIs(t, res.Err, ledger.ErrFatal)
}

func TestSubmitLogLookupFailureIsNotAFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, submission.DefaultConfig())
	f.ledger.EXPECT().SendOperation(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(ledger.OperationRef("ref"), nil)
	f.ledger.EXPECT().OperationResult(gomock.Any(), gomock.Any()).
		Return(ledger.OperationResult{}, ledger.NewError(ledger.CodeNodeUnavailable, ""))

	res := f.client.Submit(testContext(t), f.batch, 1)
	require.True(t, res.Succeeded())
	require.Zero(t, res.Usage.Consumed)
}

func TestSubmitIsNotCancelledOnceSent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, submission.DefaultConfig())
	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()

	f.ledger.EXPECT().SendOperation(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(sendCtx context.Context, _ ledger.Instruction, _ []ledger.AccountMeta, _ ledger.Signer, _ []byte) (ledger.OperationRef, error) {
			cancel()
			require.NoError(t, sendCtx.Err())
			return "ref", nil
		})
	f.ledger.EXPECT().OperationResult(gomock.Any(), gomock.Any()).Return(ledger.OperationResult{}, nil)

	res := f.client.Submit(ctx, f.batch, 1)
	require.True(t, res.Succeeded())
}

func TestSubmitCancelledBeforeSend(t *testing.T) {
	t.Parallel()
	f := newFixture(t, submission.DefaultConfig())
	ctx, cancel := context.WithCancel(testContext(t))
	cancel()

	// no ledger call is expected
	res := f.client.Submit(ctx, f.batch, 1)
	require.ErrorIs(t, res.Err, context.Canceled)
}

func TestSubmitTimeoutIsTransient(t *testing.T) {
	t.Parallel()
	cfg := submission.DefaultConfig()
	cfg.Timeout = 10 * time.Millisecond
	f := newFixture(t, cfg)

	f.ledger.EXPECT().SendOperation(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ ledger.Instruction, _ []ledger.AccountMeta, _ ledger.Signer, _ []byte) (ledger.OperationRef, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})

	res := f.client.Submit(testContext(t), f.batch, 1)
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
	require.Equal(t, ledger.KindTransient, res.Kind)
}

func TestSubmitRejectsOversizedBatch(t *testing.T) {
	t.Parallel()
	cfg := submission.DefaultConfig()
	cfg.MaxAccounts = program.SubmitFixedAccounts + 2
	f := newFixture(t, cfg)

	res := f.client.Submit(testContext(t), f.batch, 1)
	require.ErrorIs(t, res.Err, program.ErrTooManyAccounts)
	require.Equal(t, ledger.KindMalformed, res.Kind)
}

func TestSubmitRejectsForeignBatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, submission.DefaultConfig())
	foreign := batch.New(randomAddress(t), f.batch.Entries()...)
	res := f.client.Submit(testContext(t), foreign, 1)
	require.Equal(t, ledger.KindMalformed, res.Kind)
}

func TestSubmitWithRetry(t *testing.T) {
	t.Parallel()

	t.Run("transient is retried", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, submission.DefaultConfig())
		gomock.InOrder(
			f.ledger.EXPECT().SendOperation(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(ledger.OperationRef(""), ledger.NewError(ledger.CodeNodeUnavailable, "")),
			f.ledger.EXPECT().SendOperation(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(ledger.OperationRef("ref"), nil),
		)
		f.ledger.EXPECT().OperationResult(gomock.Any(), gomock.Any()).Return(ledger.OperationResult{}, nil)

		res := f.client.SubmitWithRetry(testContext(t), f.batch, 1)
		require.True(t, res.Succeeded())
		require.EqualValues(t, 2, res.Attempts)
	})

	t.Run("conflict is not retried", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, submission.DefaultConfig())
		f.ledger.EXPECT().SendOperation(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(ledger.OperationRef(""), ledger.NewError(ledger.CodeAlreadyRewarded, "")).
			Times(1)

		res := f.client.SubmitWithRetry(testContext(t), f.batch, 1)
		require.Equal(t, ledger.KindConflict, res.Kind)
		require.EqualValues(t, 1, res.Attempts)
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, submission.DefaultConfig())
		f.ledger.EXPECT().SendOperation(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(ledger.OperationRef(""), ledger.NewError(ledger.CodeTimeout, "")).
			Times(3)

		res := f.client.SubmitWithRetry(testContext(t), f.batch, 1)
		require.Equal(t, ledger.KindTransient, res.Kind)
		require.EqualValues(t, 3, res.Attempts)
	})
}

func TestParseUsage(t *testing.T) {
	t.Parallel()
	_, ok := submission.ParseUsage([]string{"Program log: hello"})
	require.False(t, ok)

	usage, ok := submission.ParseUsage([]string{"Program abc consumed 5 of 10 compute units", "Program log: done"})
	require.True(t, ok)
	require.Equal(t, submission.Usage{Program: "abc", Consumed: 5, Budget: 10}, usage)
}
