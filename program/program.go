// Package program describes the registry program's interface: instruction
// names, account layouts, payloads and the typed account lists each
// instruction expects.
package program

import (
	"bytes"
	"fmt"

	"github.com/spacemeshos/go-scale"

	"github.com/fancoin/rostermint/ledger"
)

const (
	RegisterParticipant ledger.Instruction = "register_participant"
	RegisterRole        ledger.Instruction = "register_role"
	SubmitRewards       ledger.Instruction = "submit_rewards"
)

const (
	TypeRegistry    ledger.TypeTag = "registry"
	TypeParticipant ledger.TypeTag = "participant"
	TypeRole        ledger.TypeTag = "role"
	TypeName        ledger.TypeTag = "name"
)

// Encode serializes v with SCALE.
func Encode(v scale.Encodable) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := v.EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("serializing: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes data into v.
func Decode(data []byte, v scale.Decodable) error {
	if _, err := v.DecodeScale(scale.NewDecoder(bytes.NewReader(data))); err != nil {
		return ledger.NewError(ledger.CodeInvalidAccountData, err.Error())
	}
	return nil
}
