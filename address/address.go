// Package address implements ledger account addresses and the
// program-derived address scheme used to locate registry accounts.
package address

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cosmos/btcutil/base58"
)

// Size is the length of an address in bytes.
const Size = 32

var ErrInvalidAddress = errors.New("invalid address")

// Address identifies an account on the ledger.
type Address [Size]byte

// Zero is the unset address.
var Zero Address

// Parse decodes a base58 address string.
func Parse(s string) (Address, error) {
	raw := base58.Decode(s)
	if len(raw) != Size {
		return Zero, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidAddress, s, len(raw))
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// MustParse is like Parse but panics on malformed input.
// It is meant for well-known constants.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromBytes copies b into an Address.
func FromBytes(b []byte) (Address, error) {
	if len(b) != Size {
		return Zero, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, Size, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

func (a Address) Bytes() []byte {
	return a[:]
}

func (a Address) IsZero() bool {
	return a == Zero
}

// Less orders addresses bytewise.
func (a Address) Less(b Address) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UnmarshalFlag implements flags.Unmarshaler.
func (a *Address) UnmarshalFlag(value string) error {
	if value == "" {
		*a = Zero
		return nil
	}
	return a.UnmarshalText([]byte(value))
}
