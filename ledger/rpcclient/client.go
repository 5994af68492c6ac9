// Package rpcclient implements ledger.Ledger against a node's JSON-RPC
// endpoint.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/ledger"
	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/signing"
)

const maxResponseSize = 16 << 20

const (
	methodGetAccount         = "getAccount"
	methodGetProgramAccounts = "getProgramAccounts"
	methodSendOperation      = "sendOperation"
	methodGetOperation       = "getOperation"
)

var ErrInvalidResponse = errors.New("invalid response")

// Client talks to a single node. Reads are retried by the HTTP transport;
// sends are attempted exactly once so that retrying stays a caller decision.
type Client struct {
	url    *url.URL
	reads  *retryablehttp.Client
	sends  *retryablehttp.Client
	nextID atomic.Uint64
}

// New returns a client of the node at cfg.URL.
func New(ctx context.Context, cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing node url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	logger := newLeveledLogger(logging.FromContext(ctx).Named("rpc"))

	reads := retryablehttp.NewClient()
	reads.RetryMax = cfg.RetryMax
	reads.RetryWaitMin = cfg.RetryWaitMin
	reads.RetryWaitMax = cfg.RetryWaitMax
	reads.HTTPClient.Timeout = cfg.RequestTimeout
	reads.Logger = logger
	reads.ErrorHandler = retryablehttp.PassthroughErrorHandler

	sends := retryablehttp.NewClient()
	sends.RetryMax = 0
	sends.HTTPClient.Timeout = cfg.RequestTimeout
	sends.Logger = logger
	sends.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{url: u, reads: reads, sends: sends}, nil
}

type accountParams struct {
	Address address.Address `json:"address"`
}

type programAccountsParams struct {
	Type ledger.TypeTag `json:"type"`
}

type accountResult struct {
	Address address.Address `json:"address"`
	Exists  bool            `json:"exists"`
	Type    ledger.TypeTag  `json:"type"`
	Data    []byte          `json:"data"`
}

type sendParams struct {
	Envelope  []byte `json:"envelope"`
	Signature []byte `json:"signature"`
	PubKey    []byte `json:"pubkey"`
}

type operationParams struct {
	Ref ledger.OperationRef `json:"ref"`
}

type operationResult struct {
	Found bool     `json:"found"`
	Logs  []string `json:"logs"`
}

func (c *Client) FetchAccount(ctx context.Context, addr address.Address) (ledger.Account, error) {
	var res *accountResult
	if err := c.call(ctx, c.reads, methodGetAccount, accountParams{Address: addr}, &res); err != nil {
		return ledger.Account{}, fmt.Errorf("fetching account %s: %w", addr, err)
	}
	if res == nil || !res.Exists {
		return ledger.Account{Address: addr}, nil
	}
	return ledger.Account{Address: addr, Type: res.Type, Data: res.Data, Exists: true}, nil
}

func (c *Client) FetchAll(ctx context.Context, tag ledger.TypeTag) ([]ledger.Account, error) {
	var res []accountResult
	if err := c.call(ctx, c.reads, methodGetProgramAccounts, programAccountsParams{Type: tag}, &res); err != nil {
		return nil, fmt.Errorf("fetching %s accounts: %w", tag, err)
	}
	out := make([]ledger.Account, 0, len(res))
	for _, a := range res {
		out = append(out, ledger.Account{Address: a.Address, Type: a.Type, Data: a.Data, Exists: true})
	}
	return out, nil
}

// SendOperation signs the operation envelope and submits it once.
func (c *Client) SendOperation(
	ctx context.Context,
	instruction ledger.Instruction,
	accounts []ledger.AccountMeta,
	signer ledger.Signer,
	payload []byte,
) (ledger.OperationRef, error) {
	if len(accounts) > ledger.MaxEnvelopeAccounts {
		return "", ledger.NewError(ledger.CodeTooManyAccounts,
			fmt.Sprintf("%d accounts (max %d)", len(accounts), ledger.MaxEnvelopeAccounts))
	}
	if len(payload) > ledger.MaxPayloadSize {
		return "", ledger.NewError(ledger.CodeInvalidInstructionData,
			fmt.Sprintf("payload is %d bytes (max %d)", len(payload), ledger.MaxPayloadSize))
	}
	envelope := ledger.Envelope{
		Instruction: instruction,
		Accounts:    accounts,
		Payload:     payload,
		Signer:      signer.Address(),
	}
	signed, err := signing.Sign[ledger.Envelope](envelope, signer)
	if err != nil {
		return "", &ledger.Error{Kind: ledger.KindFatal, Code: ledger.CodeInvalidSigner, Err: err}
	}
	body, err := signing.Encode[ledger.Envelope](envelope)
	if err != nil {
		return "", &ledger.Error{Kind: ledger.KindMalformed, Err: err}
	}

	var ref ledger.OperationRef
	params := sendParams{Envelope: body, Signature: signed.Signature(), PubKey: signed.PubKey()}
	if err := c.call(ctx, c.sends, methodSendOperation, params, &ref); err != nil {
		return "", fmt.Errorf("sending %s: %w", instruction, err)
	}
	if ref == "" {
		return "", &ledger.Error{Kind: ledger.KindFatal, Err: fmt.Errorf("%w: empty operation reference", ErrInvalidResponse)}
	}
	return ref, nil
}

func (c *Client) OperationResult(ctx context.Context, ref ledger.OperationRef) (ledger.OperationResult, error) {
	var res *operationResult
	if err := c.call(ctx, c.reads, methodGetOperation, operationParams{Ref: ref}, &res); err != nil {
		return ledger.OperationResult{}, fmt.Errorf("fetching operation %s: %w", ref, err)
	}
	if res == nil {
		return ledger.OperationResult{}, nil
	}
	return ledger.OperationResult{Found: res.Found, Logs: res.Logs}, nil
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Code ledger.Code `json:"code"`
		Logs []string    `json:"logs"`
	} `json:"data"`
}

// asLedgerError maps a JSON-RPC error object onto the ledger's error kinds.
// Program errors carry their code in data; anything else is classified by
// its message.
func (e *rpcError) asLedgerError() *ledger.Error {
	if e.Data != nil && e.Data.Code != "" {
		return ledger.NewError(e.Data.Code, e.Message)
	}
	switch e.Code {
	case -32600, -32602:
		return &ledger.Error{Kind: ledger.KindMalformed, Msg: e.Message}
	case -32601:
		return &ledger.Error{Kind: ledger.KindFatal, Msg: e.Message}
	}
	return &ledger.Error{Kind: ledger.ClassifyMessage(e.Message), Msg: e.Message}
}

func (c *Client) call(ctx context.Context, client *retryablehttp.Client, method string, params, result any) error {
	id := c.nextID.Add(1)
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return &ledger.Error{Kind: ledger.KindMalformed, Err: fmt.Errorf("marshaling request: %w", err)}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Join(err, ctx.Err())
		}
		return &ledger.Error{Kind: ledger.KindTransient, Code: ledger.CodeNodeUnavailable, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return &ledger.Error{Kind: ledger.KindTransient, Err: fmt.Errorf("reading response body: %w", err)}
	}

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusBadGateway, http.StatusGatewayTimeout:
		return &ledger.Error{Kind: ledger.KindTransient, Code: ledger.CodeNodeUnavailable, Msg: res.Status}
	case http.StatusBadRequest:
		return &ledger.Error{Kind: ledger.KindMalformed, Msg: fmt.Sprintf("%s: %s", res.Status, data)}
	default:
		return &ledger.Error{Kind: ledger.ClassifyMessage(string(data)), Msg: fmt.Sprintf("%s: %s", res.Status, data)}
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return &ledger.Error{Kind: ledger.KindFatal, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	if resp.Error != nil {
		lerr := resp.Error.asLedgerError()
		if resp.Error.Data != nil && len(resp.Error.Data.Logs) > 0 {
			logging.FromContext(ctx).Debug("program logs",
				zap.String("method", method),
				zap.Strings("logs", resp.Error.Data.Logs),
			)
		}
		return lerr
	}
	if resp.ID != id {
		return &ledger.Error{Kind: ledger.KindFatal, Err: fmt.Errorf("%w: id %d, want %d", ErrInvalidResponse, resp.ID, id)}
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return &ledger.Error{Kind: ledger.KindFatal, Err: fmt.Errorf("%w: decoding result: %v", ErrInvalidResponse, err)}
	}
	return nil
}
