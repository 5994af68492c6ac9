package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/fancoin/rostermint/address"
)

// ErrorKind is the coarse classification callers branch on.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	// KindTransient covers timeouts and unavailable nodes.
	KindTransient
	// KindConflict means the operation collides with state already on the
	// ledger (an occupied address, a name in use, an applied reward).
	KindConflict
	// KindMalformed means the input itself is invalid.
	KindMalformed
	// KindFatal is any other rejection by the ledger.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindMalformed:
		return "malformed"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Code is a program or node error code.
type Code string

const (
	CodeAccountAlreadyInitialized Code = "AccountAlreadyInitialized"
	CodeNameTaken                 Code = "NameTaken"
	CodeAlreadyRewarded           Code = "AlreadyRewarded"
	CodeNodeUnavailable           Code = "NodeUnavailable"
	CodeTimeout                   Code = "Timeout"
	CodeInvalidInstructionData    Code = "InvalidInstructionData"
	CodeInvalidAccountData        Code = "InvalidAccountData"
	CodeAccountNotInitialized     Code = "AccountNotInitialized"
	CodeInvalidSigner             Code = "InvalidSigner"
	CodeInsufficientFunds         Code = "InsufficientFunds"
	CodeTooManyAccounts           Code = "TooManyAccounts"
	CodeUnauthorized              Code = "Unauthorized"
)

var codeKinds = map[Code]ErrorKind{
	CodeAccountAlreadyInitialized: KindConflict,
	CodeNameTaken:                 KindConflict,
	CodeAlreadyRewarded:           KindConflict,
	CodeNodeUnavailable:           KindTransient,
	CodeTimeout:                   KindTransient,
	CodeInvalidInstructionData:    KindMalformed,
	CodeInvalidAccountData:        KindMalformed,
	CodeAccountNotInitialized:     KindFatal,
	CodeInvalidSigner:             KindFatal,
	CodeInsufficientFunds:         KindFatal,
	CodeTooManyAccounts:           KindFatal,
	CodeUnauthorized:              KindFatal,
}

// Error is a classified ledger failure.
type Error struct {
	Kind ErrorKind
	Code Code
	Msg  string
	Err  error
}

// NewError builds an Error for a known code. Unknown codes are fatal.
func NewError(code Code, msg string) *Error {
	kind, ok := codeKinds[code]
	if !ok {
		kind = KindFatal
	}
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Code != "" {
		b.WriteString(" (")
		b.WriteString(string(e.Code))
		b.WriteString(")")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, or by kind when the target has no code.
// It lets callers write errors.Is(err, ledger.ErrConflict).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return t.Kind == e.Kind
}

var (
	ErrTransient = &Error{Kind: KindTransient}
	ErrConflict  = &Error{Kind: KindConflict}
	ErrMalformed = &Error{Kind: KindMalformed}
	ErrFatal     = &Error{Kind: KindFatal}

	ErrAlreadyInitialized = &Error{Kind: KindConflict, Code: CodeAccountAlreadyInitialized}
	ErrNameTaken          = &Error{Kind: KindConflict, Code: CodeNameTaken}
	ErrAlreadyRewarded    = &Error{Kind: KindConflict, Code: CodeAlreadyRewarded}
)

// Classify maps err to the kind callers branch on.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransient
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return KindTransient
	case errors.Is(err, address.ErrSeedTooLong),
		errors.Is(err, address.ErrTooManySeeds),
		errors.Is(err, address.ErrInvalidAddress):
		return KindMalformed
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return ClassifyMessage(err.Error())
}

var messageKinds = []struct {
	fragment string
	kind     ErrorKind
}{
	{"already in use", KindConflict},
	{"already initialized", KindConflict},
	{strings.ToLower(string(CodeAccountAlreadyInitialized)), KindConflict},
	{strings.ToLower(string(CodeNameTaken)), KindConflict},
	{strings.ToLower(string(CodeAlreadyRewarded)), KindConflict},
	{"timed out", KindTransient},
	{"timeout", KindTransient},
	{"unavailable", KindTransient},
	{"connection reset", KindTransient},
	{"connection refused", KindTransient},
	{"blockhash not found", KindTransient},
	{"too many requests", KindTransient},
	{"malformed", KindMalformed},
	{"failed to deserialize", KindMalformed},
	{"invalid instruction data", KindMalformed},
}

// ClassifyMessage classifies a raw node or program error message.
// Anything unrecognized is fatal.
func ClassifyMessage(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	for _, m := range messageKinds {
		if strings.Contains(lower, m.fragment) {
			return m.kind
		}
	}
	return KindFatal
}
