package ledger

import (
	"fmt"

	"github.com/spacemeshos/go-scale"

	"github.com/fancoin/rostermint/address"
)

const (
	maxInstructionLen = 64
	// MaxEnvelopeAccounts bounds the account list of any operation the
	// transport will carry; the program may impose a lower bound.
	MaxEnvelopeAccounts = 64
	// MaxPayloadSize is the largest instruction payload accepted.
	MaxPayloadSize = 1232
)

const (
	flagWritable byte = 1 << iota
	flagSigner
)

// Envelope is the signed body of an operation as it travels to the node.
type Envelope struct {
	Instruction Instruction
	Accounts    []AccountMeta
	Payload     []byte
	Signer      address.Address
}

func (e *Envelope) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeStringWithLimit(enc, string(e.Instruction), maxInstructionLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeLen(enc, uint32(len(e.Accounts)), MaxEnvelopeAccounts)
		if err != nil {
			return total, fmt.Errorf("EncodeLen failed: %w", err)
		}
		total += n
		for _, meta := range e.Accounts {
			n, err := scale.EncodeByteArray(enc, meta.Address[:])
			if err != nil {
				return total, err
			}
			total += n
			var flags byte
			if meta.Writable {
				flags |= flagWritable
			}
			if meta.Signer {
				flags |= flagSigner
			}
			n, err = scale.EncodeByteArray(enc, []byte{flags})
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, e.Payload, MaxPayloadSize)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, e.Signer[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (e *Envelope) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeStringWithLimit(dec, maxInstructionLen)
		if err != nil {
			return total, err
		}
		total += n
		e.Instruction = Instruction(field)
	}
	{
		length, n, err := scale.DecodeLen(dec, MaxEnvelopeAccounts)
		if err != nil {
			return total, fmt.Errorf("DecodeLen failed: %w", err)
		}
		total += n
		e.Accounts = make([]AccountMeta, length)
		for i := range e.Accounts {
			n, err := scale.DecodeByteArray(dec, e.Accounts[i].Address[:])
			if err != nil {
				return total, err
			}
			total += n
			var flags [1]byte
			n, err = scale.DecodeByteArray(dec, flags[:])
			if err != nil {
				return total, err
			}
			total += n
			e.Accounts[i].Writable = flags[0]&flagWritable != 0
			e.Accounts[i].Signer = flags[0]&flagSigner != 0
		}
	}
	{
		field, n, err := scale.DecodeByteSliceWithLimit(dec, MaxPayloadSize)
		if err != nil {
			return total, err
		}
		total += n
		e.Payload = field
	}
	{
		n, err := scale.DecodeByteArray(dec, e.Signer[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
