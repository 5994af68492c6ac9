package program

import (
	"errors"
	"fmt"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/ledger"
)

// SubmitFixedAccounts is the number of accounts preceding the reward pairs
// of a SubmitRewards operation.
const SubmitFixedAccounts = 4

var (
	ErrZeroAddress      = errors.New("zero address in account list")
	ErrDuplicateAccount = errors.New("duplicate account in account list")
	ErrTooManyAccounts  = errors.New("too many accounts")
	ErrNoRewardPairs    = errors.New("no reward pairs")
	ErrAccountLayout    = errors.New("unexpected account layout")
)

// MaxRewardPairs is how many participants fit in one SubmitRewards
// operation whose account list may hold at most maxAccounts entries.
func MaxRewardPairs(maxAccounts int) int {
	if maxAccounts <= SubmitFixedAccounts {
		return 0
	}
	return (maxAccounts - SubmitFixedAccounts) / 2
}

// RegisterParticipantAccounts are the accounts of RegisterParticipant.
type RegisterParticipantAccounts struct {
	Registry      address.Address
	Identity      address.Address
	NameGuard     address.Address
	Owner         address.Address
	RewardAddress address.Address
	Payer         address.Address
}

func (a RegisterParticipantAccounts) Metas() ([]ledger.AccountMeta, error) {
	metas := []ledger.AccountMeta{
		{Address: a.Registry, Writable: true},
		{Address: a.Identity, Writable: true},
		{Address: a.NameGuard, Writable: true},
		{Address: a.Owner},
		{Address: a.RewardAddress},
		{Address: a.Payer, Writable: true, Signer: true},
	}
	checked := metas
	// a payer may register itself as the owner
	if a.Payer == a.Owner {
		checked = metas[:5]
	}
	if err := checkAddresses(checked); err != nil {
		return nil, err
	}
	return metas, nil
}

// ParseRegisterParticipantAccounts is the inverse of Metas.
func ParseRegisterParticipantAccounts(metas []ledger.AccountMeta) (RegisterParticipantAccounts, error) {
	if len(metas) != 6 {
		return RegisterParticipantAccounts{}, fmt.Errorf("%w: %d accounts, want 6", ErrAccountLayout, len(metas))
	}
	return RegisterParticipantAccounts{
		Registry:      metas[0].Address,
		Identity:      metas[1].Address,
		NameGuard:     metas[2].Address,
		Owner:         metas[3].Address,
		RewardAddress: metas[4].Address,
		Payer:         metas[5].Address,
	}, nil
}

// RegisterRoleAccounts are the accounts of RegisterRole.
type RegisterRoleAccounts struct {
	Registry address.Address
	Role     address.Address
	Asset    address.Address
	Operator address.Address
}

func (a RegisterRoleAccounts) Metas() ([]ledger.AccountMeta, error) {
	metas := []ledger.AccountMeta{
		{Address: a.Registry},
		{Address: a.Role, Writable: true},
		{Address: a.Asset},
		{Address: a.Operator, Writable: true, Signer: true},
	}
	if err := checkAddresses(metas); err != nil {
		return nil, err
	}
	return metas, nil
}

func ParseRegisterRoleAccounts(metas []ledger.AccountMeta) (RegisterRoleAccounts, error) {
	if len(metas) != 4 {
		return RegisterRoleAccounts{}, fmt.Errorf("%w: %d accounts, want 4", ErrAccountLayout, len(metas))
	}
	return RegisterRoleAccounts{
		Registry: metas[0].Address,
		Role:     metas[1].Address,
		Asset:    metas[2].Address,
		Operator: metas[3].Address,
	}, nil
}

// RewardPair is the trailing account pair of one rewarded participant.
type RewardPair struct {
	Identity address.Address
	Reward   address.Address
}

// SubmitRewardsAccounts is the validated account list of SubmitRewards.
// The program walks the reward pairs positionally, so their order is the
// order of the SequenceIndices in the payload and must never change.
type SubmitRewardsAccounts struct {
	Registry address.Address
	Role     address.Address
	Operator address.Address
	Asset    address.Address
	pairs    []RewardPair
}

// NewSubmitRewardsAccounts validates the account list at construction:
// no zero addresses, no participant twice, at most maxAccounts entries.
// Reward addresses may repeat since one owner can hold several identities.
func NewSubmitRewardsAccounts(
	registry, role, operator, asset address.Address,
	pairs []RewardPair,
	maxAccounts int,
) (*SubmitRewardsAccounts, error) {
	if len(pairs) == 0 {
		return nil, ErrNoRewardPairs
	}
	if total := SubmitFixedAccounts + 2*len(pairs); total > maxAccounts {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyAccounts, total, maxAccounts)
	}
	a := &SubmitRewardsAccounts{
		Registry: registry,
		Role:     role,
		Operator: operator,
		Asset:    asset,
		pairs:    append([]RewardPair(nil), pairs...),
	}
	fixed := a.Metas()[:SubmitFixedAccounts]
	identities := make([]ledger.AccountMeta, 0, len(fixed)+len(pairs))
	identities = append(identities, fixed...)
	for i, p := range pairs {
		if p.Reward.IsZero() {
			return nil, fmt.Errorf("%w: reward of pair %d", ErrZeroAddress, i)
		}
		identities = append(identities, ledger.AccountMeta{Address: p.Identity})
	}
	if err := checkAddresses(identities); err != nil {
		return nil, err
	}
	return a, nil
}

// Pairs returns a copy of the reward pairs in submission order.
func (a *SubmitRewardsAccounts) Pairs() []RewardPair {
	return append([]RewardPair(nil), a.pairs...)
}

// Metas returns [registry, role, operator, asset] followed by
// (identity, reward) for every pair in order.
func (a *SubmitRewardsAccounts) Metas() []ledger.AccountMeta {
	metas := make([]ledger.AccountMeta, 0, SubmitFixedAccounts+2*len(a.pairs))
	metas = append(metas,
		ledger.AccountMeta{Address: a.Registry},
		ledger.AccountMeta{Address: a.Role, Writable: true},
		ledger.AccountMeta{Address: a.Operator, Writable: true, Signer: true},
		ledger.AccountMeta{Address: a.Asset, Writable: true},
	)
	for _, p := range a.pairs {
		metas = append(metas,
			ledger.AccountMeta{Address: p.Identity, Writable: true},
			ledger.AccountMeta{Address: p.Reward, Writable: true},
		)
	}
	return metas
}

// ParseSubmitRewardsAccounts splits a SubmitRewards account list back into
// the fixed accounts and the reward pairs.
func ParseSubmitRewardsAccounts(metas []ledger.AccountMeta) (*SubmitRewardsAccounts, error) {
	if len(metas) < SubmitFixedAccounts || (len(metas)-SubmitFixedAccounts)%2 != 0 {
		return nil, fmt.Errorf("%w: %d accounts", ErrAccountLayout, len(metas))
	}
	a := &SubmitRewardsAccounts{
		Registry: metas[0].Address,
		Role:     metas[1].Address,
		Operator: metas[2].Address,
		Asset:    metas[3].Address,
	}
	for i := SubmitFixedAccounts; i < len(metas); i += 2 {
		a.pairs = append(a.pairs, RewardPair{Identity: metas[i].Address, Reward: metas[i+1].Address})
	}
	return a, nil
}

func checkAddresses(metas []ledger.AccountMeta) error {
	seen := make(map[address.Address]int, len(metas))
	for i, m := range metas {
		if m.Address.IsZero() {
			return fmt.Errorf("%w: position %d", ErrZeroAddress, i)
		}
		if prev, ok := seen[m.Address]; ok {
			return fmt.Errorf("%w: %s at %d and %d", ErrDuplicateAccount, m.Address, prev, i)
		}
		seen[m.Address] = i
	}
	return nil
}
