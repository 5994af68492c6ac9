package rpcclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spacemeshos/go-scale"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/ledger"
	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/signing"
)

type serverRequest struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type handlerFunc func(params json.RawMessage) (any, *rpcError)

// fakeNode answers JSON-RPC calls. A method with queued status codes replies
// with those before handing the call to its handler.
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]handlerFunc
	statuses map[string][]int
	calls    map[string]int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		handlers: make(map[string]handlerFunc),
		statuses: make(map[string][]int),
		calls:    make(map[string]int),
	}
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.calls[req.Method]++
	var status int
	if queued := n.statuses[req.Method]; len(queued) > 0 {
		status = queued[0]
		n.statuses[req.Method] = queued[1:]
	}
	handler := n.handlers[req.Method]
	n.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if handler == nil {
		resp["error"] = rpcError{Code: -32601, Message: "method not found"}
	} else if result, rerr := handler(req.Params); rerr != nil {
		resp["error"] = rerr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func newTestClient(t *testing.T, node *fakeNode) (context.Context, *Client) {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	cfg := DefaultConfig()
	cfg.URL = srv.URL
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 5 * time.Millisecond
	client, err := New(ctx, cfg)
	require.NoError(t, err)
	return ctx, client
}

func randomAddress(t *testing.T) address.Address {
	t.Helper()
	var a address.Address
	_, err := rand.Read(a[:])
	require.NoError(t, err)
	return a
}

func TestFetchAccount(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	known := randomAddress(t)

	node := newFakeNode()
	node.handlers[methodGetAccount] = func(raw json.RawMessage) (any, *rpcError) {
		var p accountParams
		require.NoError(json.Unmarshal(raw, &p))
		if p.Address != known {
			return accountResult{Address: p.Address}, nil
		}
		return accountResult{Address: p.Address, Exists: true, Type: "participant", Data: []byte{1, 2, 3}}, nil
	}
	ctx, client := newTestClient(t, node)

	acc, err := client.FetchAccount(ctx, known)
	require.NoError(err)
	require.True(acc.Exists)
	require.Equal(ledger.TypeTag("participant"), acc.Type)
	require.Equal([]byte{1, 2, 3}, acc.Data)

	missing := randomAddress(t)
	acc, err = client.FetchAccount(ctx, missing)
	require.NoError(err)
	require.False(acc.Exists)
	require.Equal(missing, acc.Address)
}

func TestFetchAll(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	a, b := randomAddress(t), randomAddress(t)

	node := newFakeNode()
	node.handlers[methodGetProgramAccounts] = func(raw json.RawMessage) (any, *rpcError) {
		var p programAccountsParams
		require.NoError(json.Unmarshal(raw, &p))
		require.Equal(ledger.TypeTag("role"), p.Type)
		return []accountResult{
			{Address: a, Type: p.Type, Data: []byte{1}},
			{Address: b, Type: p.Type, Data: []byte{2}},
		}, nil
	}
	ctx, client := newTestClient(t, node)

	accounts, err := client.FetchAll(ctx, "role")
	require.NoError(err)
	require.Len(accounts, 2)
	require.Equal(a, accounts[0].Address)
	require.True(accounts[0].Exists)
	require.Equal([]byte{2}, accounts[1].Data)
}

func TestReadsAreRetried(t *testing.T) {
	t.Parallel()
	node := newFakeNode()
	node.statuses[methodGetOperation] = []int{http.StatusServiceUnavailable, http.StatusBadGateway}
	node.handlers[methodGetOperation] = func(json.RawMessage) (any, *rpcError) {
		return operationResult{Found: true, Logs: []string{"Program x success"}}, nil
	}
	ctx, client := newTestClient(t, node)

	res, err := client.OperationResult(ctx, "ref")
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, []string{"Program x success"}, res.Logs)
	require.Equal(t, 3, node.callCount(methodGetOperation))
}

func TestOperationNotFound(t *testing.T) {
	t.Parallel()
	node := newFakeNode()
	node.handlers[methodGetOperation] = func(json.RawMessage) (any, *rpcError) {
		return nil, nil
	}
	ctx, client := newTestClient(t, node)

	res, err := client.OperationResult(ctx, "ref")
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestSendOperation(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	operator, err := signing.GenerateOperator(rand.Reader)
	require.NoError(err)
	accounts := []ledger.AccountMeta{
		{Address: randomAddress(t), Writable: true},
		{Address: operator.Address(), Signer: true},
		{Address: randomAddress(t)},
	}
	payload := []byte("payload")

	node := newFakeNode()
	node.handlers[methodSendOperation] = func(raw json.RawMessage) (any, *rpcError) {
		var p sendParams
		require.NoError(json.Unmarshal(raw, &p))
		var env ledger.Envelope
		_, err := env.DecodeScale(scale.NewDecoder(bytes.NewReader(p.Envelope)))
		require.NoError(err)

		signed, err := signing.NewFromScaleEncodable[ledger.Envelope](env, p.Signature, p.PubKey)
		require.NoError(err)
		require.Equal(operator.PublicKey(), signed.PubKey())
		require.Equal(ledger.Instruction("submit_rewards"), env.Instruction)
		require.Equal(accounts, env.Accounts)
		require.Equal(payload, env.Payload)
		require.Equal(operator.Address(), env.Signer)
		return "5sig", nil
	}
	ctx, client := newTestClient(t, node)

	ref, err := client.SendOperation(ctx, "submit_rewards", accounts, operator, payload)
	require.NoError(err)
	require.Equal(ledger.OperationRef("5sig"), ref)
}

func TestSendOperationIsNotRetried(t *testing.T) {
	t.Parallel()
	operator, err := signing.GenerateOperator(rand.Reader)
	require.NoError(t, err)

	node := newFakeNode()
	node.statuses[methodSendOperation] = []int{http.StatusServiceUnavailable}
	node.handlers[methodSendOperation] = func(json.RawMessage) (any, *rpcError) {
		return "late", nil
	}
	ctx, client := newTestClient(t, node)

	_, err = client.SendOperation(ctx, "submit_rewards", nil, operator, nil)
	require.Equal(t, ledger.KindTransient, ledger.Classify(err))
	require.Equal(t, 1, node.callCount(methodSendOperation))
}

func TestProgramErrors(t *testing.T) {
	t.Parallel()
	operator, err := signing.GenerateOperator(rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name string
		err  rpcError
		kind ledger.ErrorKind
		is   error
	}{
		{
			name: "coded conflict",
			err: rpcError{Code: -32002, Message: "custom program error", Data: &struct {
				Code ledger.Code `json:"code"`
				Logs []string    `json:"logs"`
			}{Code: ledger.CodeAlreadyRewarded, Logs: []string{"Program log: rewarded"}}},
			kind: ledger.KindConflict,
			is:   ledger.ErrAlreadyRewarded,
		},
		{
			name: "occupied account",
			err:  rpcError{Code: -32002, Message: "Allocate: account Abc already in use"},
			kind: ledger.KindConflict,
			is:   ledger.ErrConflict,
		},
		{
			name: "stale blockhash",
			err:  rpcError{Code: -32002, Message: "Blockhash not found"},
			kind: ledger.KindTransient,
			is:   ledger.ErrTransient,
		},
		{
			name: "invalid params",
			err:  rpcError{Code: -32602, Message: "invalid params"},
			kind: ledger.KindMalformed,
			is:   ledger.ErrMalformed,
		},
		{
			name: "unknown",
			err:  rpcError{Code: -32002, Message: "insufficient lamports"},
			kind: ledger.KindFatal,
			is:   ledger.ErrFatal,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			node := newFakeNode()
			node.handlers[methodSendOperation] = func(json.RawMessage) (any, *rpcError) {
				rerr := tc.err
				return nil, &rerr
			}
			ctx, client := newTestClient(t, node)

			_, err := client.SendOperation(ctx, "register_participant", nil, operator, nil)
			require.Error(t, err)
			require.Equal(t, tc.kind, ledger.Classify(err))
			require.ErrorIs(t, err, tc.is)
		})
	}
}

func TestSendOperationChecksBounds(t *testing.T) {
	t.Parallel()
	operator, err := signing.GenerateOperator(rand.Reader)
	require.NoError(t, err)
	node := newFakeNode()
	ctx, client := newTestClient(t, node)

	_, err = client.SendOperation(ctx, "submit_rewards", make([]ledger.AccountMeta, ledger.MaxEnvelopeAccounts+1), operator, nil)
	require.ErrorIs(t, err, &ledger.Error{Code: ledger.CodeTooManyAccounts})

	_, err = client.SendOperation(ctx, "submit_rewards", nil, operator, make([]byte, ledger.MaxPayloadSize+1))
	require.Equal(t, ledger.KindMalformed, ledger.Classify(err))
	require.Zero(t, node.callCount(methodSendOperation))
}
