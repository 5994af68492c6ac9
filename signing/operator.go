package signing

import (
	"crypto"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/fancoin/rostermint/address"
)

var ErrInvalidKeypair = errors.New("invalid keypair")

// Operator is the ed25519 key an operator signs ledger operations with.
type Operator struct {
	key  ed25519.PrivateKey
	addr address.Address
}

func NewOperator(key ed25519.PrivateKey) (*Operator, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKeypair, len(key))
	}
	addr, err := address.FromBytes(key.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Operator{key: key, addr: addr}, nil
}

// GenerateOperator creates an operator with a fresh key read from rand.
func GenerateOperator(rand io.Reader) (*Operator, error) {
	_, key, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	return NewOperator(key)
}

func (o *Operator) Public() crypto.PublicKey {
	return o.key.Public()
}

func (o *Operator) PublicKey() []byte {
	return o.addr.Bytes()
}

func (o *Operator) Sign(rand io.Reader, msg []byte, opts crypto.SignerOpts) ([]byte, error) {
	return o.key.Sign(rand, msg, opts)
}

// Address is the operator's ledger address, its public key.
func (o *Operator) Address() address.Address {
	return o.addr
}

type hexKeypair struct {
	SecretKey string `json:"secret_key"`
}

// LoadOperator reads a keypair file. Two formats are accepted: a JSON array
// of the 64 key bytes, or an object with a hex encoded "secret_key".
func LoadOperator(path string) (*Operator, error) {
	data, err := os.ReadFile(path) //#nosec G304
	if err != nil {
		return nil, fmt.Errorf("reading keypair: %w", err)
	}
	data = []byte(strings.TrimSpace(string(data)))

	var raw []byte
	switch {
	case len(data) > 0 && data[0] == '[':
		var ints []int
		if err := json.Unmarshal(data, &ints); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeypair, err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte %d out of range", ErrInvalidKeypair, i)
			}
			raw[i] = byte(v)
		}
	default:
		var kp hexKeypair
		if err := json.Unmarshal(data, &kp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeypair, err)
		}
		raw, err = hex.DecodeString(kp.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeypair, err)
		}
	}
	if len(raw) == ed25519.SeedSize {
		raw = ed25519.NewKeyFromSeed(raw)
	}
	return NewOperator(ed25519.PrivateKey(raw))
}

// SaveOperator writes the keypair as a JSON byte array.
func SaveOperator(path string, o *Operator) error {
	ints := make([]int, len(o.key))
	for i, b := range o.key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("writing keypair: %w", err)
	}
	return os.Chmod(path, 0o600)
}
