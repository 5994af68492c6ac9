package program

import (
	"github.com/spacemeshos/go-scale"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/names"
)

const maxIndices = 64

// RegistryAccount is the root account of an asset's registry.
type RegistryAccount struct {
	Authority address.Address
	Asset     address.Address
	// ParticipantCount is the next sequence index to assign.
	ParticipantCount uint32
}

func (r *RegistryAccount) EncodeScale(enc *scale.Encoder) (total int, err error) {
	for _, field := range [][]byte{r.Authority[:], r.Asset[:]} {
		n, err := scale.EncodeByteArray(enc, field)
		if err != nil {
			return total, err
		}
		total += n
	}
	n, err := scale.EncodeCompact32(enc, r.ParticipantCount)
	if err != nil {
		return total, err
	}
	return total + n, nil
}

func (r *RegistryAccount) DecodeScale(dec *scale.Decoder) (total int, err error) {
	for _, field := range [][]byte{r.Authority[:], r.Asset[:]} {
		n, err := scale.DecodeByteArray(dec, field)
		if err != nil {
			return total, err
		}
		total += n
	}
	count, n, err := scale.DecodeCompact32(dec)
	if err != nil {
		return total, err
	}
	r.ParticipantCount = count
	return total + n, nil
}

// ParticipantAccount lives at the identity address of a registered participant.
type ParticipantAccount struct {
	Registry      address.Address
	Name          string
	SequenceIndex uint32
	Owner         address.Address
	RewardAddress address.Address
	// LastRewardEpoch is the last epoch a reward was granted in; zero if never.
	LastRewardEpoch uint64
}

func (p *ParticipantAccount) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteArray(enc, p.Registry[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeStringWithLimit(enc, p.Name, names.MaxLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact32(enc, p.SequenceIndex)
		if err != nil {
			return total, err
		}
		total += n
	}
	for _, field := range [][]byte{p.Owner[:], p.RewardAddress[:]} {
		n, err := scale.EncodeByteArray(enc, field)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, p.LastRewardEpoch)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (p *ParticipantAccount) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		n, err := scale.DecodeByteArray(dec, p.Registry[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeStringWithLimit(dec, names.MaxLen)
		if err != nil {
			return total, err
		}
		total += n
		p.Name = field
	}
	{
		field, n, err := scale.DecodeCompact32(dec)
		if err != nil {
			return total, err
		}
		total += n
		p.SequenceIndex = field
	}
	for _, field := range [][]byte{p.Owner[:], p.RewardAddress[:]} {
		n, err := scale.DecodeByteArray(dec, field)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		p.LastRewardEpoch = field
	}
	return total, nil
}

// NameAccount reserves a canonical name for one sequence index.
type NameAccount struct {
	Registry      address.Address
	SequenceIndex uint32
}

func (a *NameAccount) EncodeScale(enc *scale.Encoder) (total int, err error) {
	n, err := scale.EncodeByteArray(enc, a.Registry[:])
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeCompact32(enc, a.SequenceIndex)
	if err != nil {
		return total, err
	}
	return total + n, nil
}

func (a *NameAccount) DecodeScale(dec *scale.Decoder) (total int, err error) {
	n, err := scale.DecodeByteArray(dec, a.Registry[:])
	if err != nil {
		return total, err
	}
	total += n
	index, n, err := scale.DecodeCompact32(dec)
	if err != nil {
		return total, err
	}
	a.SequenceIndex = index
	return total + n, nil
}

// RoleAccount authorizes an operator to grant rewards of an asset.
type RoleAccount struct {
	Registry address.Address
	Operator address.Address
	// LastEpoch is the last epoch the operator submitted rewards in.
	LastEpoch uint64
}

func (r *RoleAccount) EncodeScale(enc *scale.Encoder) (total int, err error) {
	for _, field := range [][]byte{r.Registry[:], r.Operator[:]} {
		n, err := scale.EncodeByteArray(enc, field)
		if err != nil {
			return total, err
		}
		total += n
	}
	n, err := scale.EncodeCompact64(enc, r.LastEpoch)
	if err != nil {
		return total, err
	}
	return total + n, nil
}

func (r *RoleAccount) DecodeScale(dec *scale.Decoder) (total int, err error) {
	for _, field := range [][]byte{r.Registry[:], r.Operator[:]} {
		n, err := scale.DecodeByteArray(dec, field)
		if err != nil {
			return total, err
		}
		total += n
	}
	epoch, n, err := scale.DecodeCompact64(dec)
	if err != nil {
		return total, err
	}
	r.LastEpoch = epoch
	return total + n, nil
}

// RegisterParticipantArgs is the payload of RegisterParticipant.
type RegisterParticipantArgs struct {
	Name string
	// SequenceIndex is the index the caller derived the identity address
	// from. The program rejects it unless it equals the registry count.
	SequenceIndex uint32
}

func (a *RegisterParticipantArgs) EncodeScale(enc *scale.Encoder) (total int, err error) {
	n, err := scale.EncodeStringWithLimit(enc, a.Name, names.MaxLen)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeCompact32(enc, a.SequenceIndex)
	if err != nil {
		return total, err
	}
	return total + n, nil
}

func (a *RegisterParticipantArgs) DecodeScale(dec *scale.Decoder) (total int, err error) {
	name, n, err := scale.DecodeStringWithLimit(dec, names.MaxLen)
	if err != nil {
		return total, err
	}
	total += n
	a.Name = name
	index, n, err := scale.DecodeCompact32(dec)
	if err != nil {
		return total, err
	}
	a.SequenceIndex = index
	return total + n, nil
}

// SubmitRewardsArgs is the payload of SubmitRewards. SequenceIndices lists
// the participants in the same order as the trailing account pairs.
type SubmitRewardsArgs struct {
	Epoch           uint64
	SequenceIndices []uint32
}

func (a *SubmitRewardsArgs) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeCompact64(enc, a.Epoch)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeLen(enc, uint32(len(a.SequenceIndices)), maxIndices)
		if err != nil {
			return total, err
		}
		total += n
		for _, index := range a.SequenceIndices {
			n, err := scale.EncodeCompact32(enc, index)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	return total, nil
}

func (a *SubmitRewardsArgs) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		epoch, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		a.Epoch = epoch
	}
	{
		length, n, err := scale.DecodeLen(dec, maxIndices)
		if err != nil {
			return total, err
		}
		total += n
		a.SequenceIndices = make([]uint32, 0, length)
		for i := uint32(0); i < length; i++ {
			index, n, err := scale.DecodeCompact32(dec)
			if err != nil {
				return total, err
			}
			total += n
			a.SequenceIndices = append(a.SequenceIndices, index)
		}
	}
	return total, nil
}
