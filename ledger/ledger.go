// Package ledger defines how rostermint talks to the ledger that holds the
// participant registry, and how ledger failures are classified.
package ledger

import (
	"context"
	"crypto"

	"github.com/fancoin/rostermint/address"
)

//go:generate mockgen -package mocks -destination mocks/ledger.go . Ledger

// Instruction names an entrypoint of the registry program.
type Instruction string

// TypeTag identifies the layout of a program-owned account.
type TypeTag string

// OperationRef identifies a submitted operation (a transaction signature).
type OperationRef string

// Account is a fetched ledger account. Exists is false when the address
// holds no account; that is not an error.
type Account struct {
	Address address.Address
	Type    TypeTag
	Data    []byte
	Exists  bool
}

// AccountMeta is one entry of an operation's account list.
type AccountMeta struct {
	Address  address.Address
	Writable bool
	Signer   bool
}

// OperationResult is what the ledger recorded for an operation.
type OperationResult struct {
	Found bool
	Logs  []string
}

// Signer signs operations on behalf of an operator.
type Signer interface {
	crypto.Signer
	Address() address.Address
}

type Ledger interface {
	// FetchAccount returns the account at addr.
	FetchAccount(ctx context.Context, addr address.Address) (Account, error)
	// FetchAll returns every program account of the given type.
	FetchAll(ctx context.Context, tag TypeTag) ([]Account, error)
	// SendOperation submits one atomic operation. The account list is passed
	// to the program in the given order.
	SendOperation(
		ctx context.Context,
		instruction Instruction,
		accounts []AccountMeta,
		signer Signer,
		payload []byte,
	) (OperationRef, error)
	// OperationResult looks up the outcome of a previously sent operation.
	OperationResult(ctx context.Context, ref OperationRef) (OperationResult, error)
}
