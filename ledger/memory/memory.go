// Package memory is an in-process ledger running the registry program.
// It backs tests and dry runs.
package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/minio/sha256-simd"
	"github.com/spacemeshos/go-scale"
	"golang.org/x/exp/slices"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/ledger"
	"github.com/fancoin/rostermint/names"
	"github.com/fancoin/rostermint/program"
)

const (
	computeBudget       = 200_000
	baseComputeUnits    = 4_000
	perPairComputeUnits = 2_750
)

type injected struct {
	instruction ledger.Instruction
	err         error
	apply       bool
}

// Ledger keeps program accounts in memory. It is safe for concurrent use.
type Ledger struct {
	program     address.Address
	deriver     *address.Deriver
	maxAccounts int
	reward      uint64
	onSend      func(ledger.Instruction)

	mu         sync.Mutex
	accounts   map[address.Address]ledger.Account
	balances   map[address.Address]uint64
	operations map[ledger.OperationRef]ledger.OperationResult
	sends      int
	sequence   uint64
	failSends  []injected
	failFetch  []error
}

type Option func(*Ledger)

// WithMaxAccounts bounds the account list of a single operation.
func WithMaxAccounts(n int) Option {
	return func(l *Ledger) {
		l.maxAccounts = n
	}
}

// WithReward sets the amount credited per rewarded participant.
func WithReward(amount uint64) Option {
	return func(l *Ledger) {
		l.reward = amount
	}
}

// WithOnSend registers a callback invoked at the start of every
// SendOperation, before the ledger is locked.
func WithOnSend(f func(ledger.Instruction)) Option {
	return func(l *Ledger) {
		l.onSend = f
	}
}

func New(programID address.Address, opts ...Option) (*Ledger, error) {
	deriver, err := address.NewDeriver(programID, 0)
	if err != nil {
		return nil, err
	}
	l := &Ledger{
		program:     programID,
		deriver:     deriver,
		maxAccounts: 32,
		reward:      1,
		accounts:    make(map[address.Address]ledger.Account),
		balances:    make(map[address.Address]uint64),
		operations:  make(map[ledger.OperationRef]ledger.OperationResult),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Ledger) Program() address.Address {
	return l.program
}

// CreateRegistry initializes the registry of asset with authority.
func (l *Ledger) CreateRegistry(authority, asset address.Address) (address.Address, error) {
	registry, err := l.deriver.Registry(asset)
	if err != nil {
		return address.Zero, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.accounts[registry].Exists {
		return address.Zero, ledger.NewError(ledger.CodeAccountAlreadyInitialized, registry.String())
	}
	state := program.RegistryAccount{Authority: authority, Asset: asset}
	if err := l.store(registry, program.TypeRegistry, &state); err != nil {
		return address.Zero, err
	}
	return registry, nil
}

// FailNextSend makes the next SendOperation of instruction fail with err.
// With apply set the operation still takes effect, which is what a lost
// response looks like to the sender.
func (l *Ledger) FailNextSend(instruction ledger.Instruction, err error, apply bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failSends = append(l.failSends, injected{instruction: instruction, err: err, apply: apply})
}

// FailNextFetch makes the next FetchAccount or FetchAll fail with err.
func (l *Ledger) FailNextFetch(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failFetch = append(l.failFetch, err)
}

// Sends returns how many operations were sent, failed ones included.
func (l *Ledger) Sends() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends
}

func (l *Ledger) Balance(addr address.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}

func (l *Ledger) popFetchFailure() error {
	if len(l.failFetch) == 0 {
		return nil
	}
	err := l.failFetch[0]
	l.failFetch = l.failFetch[1:]
	return err
}

func (l *Ledger) FetchAccount(ctx context.Context, addr address.Address) (ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Account{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.popFetchFailure(); err != nil {
		return ledger.Account{}, err
	}
	acc, ok := l.accounts[addr]
	if !ok {
		return ledger.Account{Address: addr}, nil
	}
	acc.Data = append([]byte(nil), acc.Data...)
	return acc, nil
}

func (l *Ledger) FetchAll(ctx context.Context, tag ledger.TypeTag) ([]ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.popFetchFailure(); err != nil {
		return nil, err
	}
	var out []ledger.Account
	for _, acc := range l.accounts {
		if acc.Type != tag {
			continue
		}
		acc.Data = append([]byte(nil), acc.Data...)
		out = append(out, acc)
	}
	slices.SortFunc(out, func(a, b ledger.Account) bool {
		return a.Address.Less(b.Address)
	})
	return out, nil
}

func (l *Ledger) OperationResult(ctx context.Context, ref ledger.OperationRef) (ledger.OperationResult, error) {
	if err := ctx.Err(); err != nil {
		return ledger.OperationResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.operations[ref]
	if !ok {
		return ledger.OperationResult{}, nil
	}
	res.Logs = append([]string(nil), res.Logs...)
	return res, nil
}

func (l *Ledger) SendOperation(
	ctx context.Context,
	instruction ledger.Instruction,
	accounts []ledger.AccountMeta,
	signer ledger.Signer,
	payload []byte,
) (ledger.OperationRef, error) {
	if l.onSend != nil {
		l.onSend(instruction)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sends++

	var fail *injected
	for i, f := range l.failSends {
		if f.instruction == instruction {
			f := f
			fail = &f
			l.failSends = append(l.failSends[:i:i], l.failSends[i+1:]...)
			break
		}
	}
	if fail != nil && !fail.apply {
		return "", fail.err
	}

	ref, err := l.execute(instruction, accounts, signer, payload)
	if fail != nil {
		return "", fail.err
	}
	return ref, err
}

func (l *Ledger) execute(
	instruction ledger.Instruction,
	accounts []ledger.AccountMeta,
	signer ledger.Signer,
	payload []byte,
) (ledger.OperationRef, error) {
	if len(accounts) > l.maxAccounts {
		return "", ledger.NewError(ledger.CodeTooManyAccounts, fmt.Sprintf("%d > %d", len(accounts), l.maxAccounts))
	}
	if err := checkSigner(accounts, signer); err != nil {
		return "", err
	}

	var (
		units int
		err   error
		logs  []string
	)
	switch instruction {
	case program.RegisterParticipant:
		units, err = l.registerParticipant(accounts, payload)
		logs = append(logs, "Program log: Instruction: RegisterParticipant")
	case program.RegisterRole:
		units, err = l.registerRole(accounts)
		logs = append(logs, "Program log: Instruction: RegisterRole")
	case program.SubmitRewards:
		units, err = l.submitRewards(accounts, payload)
		logs = append(logs, "Program log: Instruction: SubmitRewards")
	default:
		err = ledger.NewError(ledger.CodeInvalidInstructionData, fmt.Sprintf("unknown instruction %q", instruction))
	}
	if err != nil {
		return "", err
	}

	l.sequence++
	ref := l.reference(instruction)
	l.operations[ref] = ledger.OperationResult{
		Found: true,
		Logs: append([]string{fmt.Sprintf("Program %s invoke [1]", l.program)}, append(logs,
			fmt.Sprintf("Program %s consumed %d of %d compute units", l.program, units, computeBudget),
			fmt.Sprintf("Program %s success", l.program),
		)...),
	}
	return ref, nil
}

func (l *Ledger) reference(instruction ledger.Instruction) ledger.OperationRef {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], l.sequence)
	h := sha256.New()
	h.Write(l.program[:])
	h.Write([]byte(instruction))
	h.Write(seq[:])
	var digest address.Address
	copy(digest[:], h.Sum(nil))
	return ledger.OperationRef(digest.String())
}

func checkSigner(accounts []ledger.AccountMeta, signer ledger.Signer) error {
	if signer == nil {
		return ledger.NewError(ledger.CodeInvalidSigner, "missing signer")
	}
	for _, meta := range accounts {
		if meta.Signer && meta.Address != signer.Address() {
			return ledger.NewError(ledger.CodeInvalidSigner, fmt.Sprintf("account %s requires a signature", meta.Address))
		}
	}
	return nil
}

func (l *Ledger) registerParticipant(metas []ledger.AccountMeta, payload []byte) (int, error) {
	accounts, err := program.ParseRegisterParticipantAccounts(metas)
	if err != nil {
		return 0, ledger.NewError(ledger.CodeInvalidAccountData, err.Error())
	}
	var args program.RegisterParticipantArgs
	if err := program.Decode(payload, &args); err != nil {
		return 0, ledger.NewError(ledger.CodeInvalidInstructionData, err.Error())
	}
	if args.Name == "" || names.Canonical(args.Name) != args.Name {
		return 0, ledger.NewError(ledger.CodeInvalidInstructionData, fmt.Sprintf("name %q is not canonical", args.Name))
	}

	var registry program.RegistryAccount
	if err := l.load(accounts.Registry, program.TypeRegistry, &registry); err != nil {
		return 0, err
	}
	if l.accounts[accounts.Identity].Exists {
		return 0, ledger.NewError(ledger.CodeAccountAlreadyInitialized,
			fmt.Sprintf("Allocate: account %s already in use", accounts.Identity))
	}
	if l.accounts[accounts.NameGuard].Exists {
		return 0, ledger.NewError(ledger.CodeNameTaken, args.Name)
	}
	if args.SequenceIndex != registry.ParticipantCount {
		return 0, ledger.NewError(ledger.CodeInvalidInstructionData,
			fmt.Sprintf("sequence index %d, registry count is %d", args.SequenceIndex, registry.ParticipantCount))
	}

	identity, err := l.deriver.Identity(accounts.Registry, args.SequenceIndex)
	if err != nil || identity != accounts.Identity {
		return 0, ledger.NewError(ledger.CodeInvalidAccountData, "identity address does not match sequence index")
	}
	guard, err := l.deriver.NameGuard(accounts.Registry, args.Name)
	if err != nil || guard != accounts.NameGuard {
		return 0, ledger.NewError(ledger.CodeInvalidAccountData, "name guard does not match name")
	}
	reward, err := l.deriver.Reward(accounts.Owner, registry.Asset)
	if err != nil || reward != accounts.RewardAddress {
		return 0, ledger.NewError(ledger.CodeInvalidAccountData, "reward address does not match owner")
	}

	participant := program.ParticipantAccount{
		Registry:      accounts.Registry,
		Name:          args.Name,
		SequenceIndex: args.SequenceIndex,
		Owner:         accounts.Owner,
		RewardAddress: accounts.RewardAddress,
	}
	reservation := program.NameAccount{Registry: accounts.Registry, SequenceIndex: args.SequenceIndex}
	registry.ParticipantCount++
	if err := l.store(accounts.Identity, program.TypeParticipant, &participant); err != nil {
		return 0, err
	}
	if err := l.store(accounts.NameGuard, program.TypeName, &reservation); err != nil {
		return 0, err
	}
	if err := l.store(accounts.Registry, program.TypeRegistry, &registry); err != nil {
		return 0, err
	}
	return baseComputeUnits * 2, nil
}

func (l *Ledger) registerRole(metas []ledger.AccountMeta) (int, error) {
	accounts, err := program.ParseRegisterRoleAccounts(metas)
	if err != nil {
		return 0, ledger.NewError(ledger.CodeInvalidAccountData, err.Error())
	}
	var registry program.RegistryAccount
	if err := l.load(accounts.Registry, program.TypeRegistry, &registry); err != nil {
		return 0, err
	}
	if registry.Asset != accounts.Asset {
		return 0, ledger.NewError(ledger.CodeInvalidAccountData, "asset does not match registry")
	}
	role, err := l.deriver.Role(accounts.Asset, accounts.Operator)
	if err != nil || role != accounts.Role {
		return 0, ledger.NewError(ledger.CodeInvalidAccountData, "role address does not match operator")
	}
	if l.accounts[role].Exists {
		return 0, ledger.NewError(ledger.CodeAccountAlreadyInitialized,
			fmt.Sprintf("Allocate: account %s already in use", role))
	}
	state := program.RoleAccount{Registry: accounts.Registry, Operator: accounts.Operator}
	if err := l.store(role, program.TypeRole, &state); err != nil {
		return 0, err
	}
	return baseComputeUnits, nil
}

func (l *Ledger) submitRewards(metas []ledger.AccountMeta, payload []byte) (int, error) {
	accounts, err := program.ParseSubmitRewardsAccounts(metas)
	if err != nil {
		return 0, ledger.NewError(ledger.CodeInvalidAccountData, err.Error())
	}
	var args program.SubmitRewardsArgs
	if err := program.Decode(payload, &args); err != nil {
		return 0, ledger.NewError(ledger.CodeInvalidInstructionData, err.Error())
	}
	pairs := accounts.Pairs()
	if len(pairs) != len(args.SequenceIndices) {
		return 0, ledger.NewError(ledger.CodeInvalidInstructionData,
			fmt.Sprintf("%d account pairs for %d indices", len(pairs), len(args.SequenceIndices)))
	}
	if args.Epoch == 0 {
		return 0, ledger.NewError(ledger.CodeInvalidInstructionData, "epoch 0")
	}

	var registry program.RegistryAccount
	if err := l.load(accounts.Registry, program.TypeRegistry, &registry); err != nil {
		return 0, err
	}
	if registry.Asset != accounts.Asset {
		return 0, ledger.NewError(ledger.CodeInvalidAccountData, "asset does not match registry")
	}
	var role program.RoleAccount
	if err := l.load(accounts.Role, program.TypeRole, &role); err != nil {
		return 0, err
	}
	if role.Operator != accounts.Operator || role.Registry != accounts.Registry {
		return 0, ledger.NewError(ledger.CodeUnauthorized, "role does not belong to operator")
	}

	// validate everything before touching state so the operation is all or nothing
	participants := make([]program.ParticipantAccount, len(pairs))
	for i, pair := range pairs {
		index := args.SequenceIndices[i]
		identity, err := l.deriver.Identity(accounts.Registry, index)
		if err != nil || identity != pair.Identity {
			return 0, ledger.NewError(ledger.CodeInvalidAccountData,
				fmt.Sprintf("account pair %d is not the identity of index %d", i, index))
		}
		if err := l.load(pair.Identity, program.TypeParticipant, &participants[i]); err != nil {
			return 0, err
		}
		if participants[i].RewardAddress != pair.Reward {
			return 0, ledger.NewError(ledger.CodeInvalidAccountData,
				fmt.Sprintf("reward account of index %d does not match", index))
		}
		if participants[i].LastRewardEpoch >= args.Epoch {
			return 0, ledger.NewError(ledger.CodeAlreadyRewarded,
				fmt.Sprintf("index %d already rewarded in epoch %d", index, participants[i].LastRewardEpoch))
		}
	}

	for i, pair := range pairs {
		participants[i].LastRewardEpoch = args.Epoch
		if err := l.store(pair.Identity, program.TypeParticipant, &participants[i]); err != nil {
			return 0, err
		}
		l.balances[pair.Reward] += l.reward
	}
	role.LastEpoch = args.Epoch
	if err := l.store(accounts.Role, program.TypeRole, &role); err != nil {
		return 0, err
	}
	return baseComputeUnits + perPairComputeUnits*len(pairs), nil
}

type codec interface {
	scale.Encodable
	scale.Decodable
}

func (l *Ledger) load(addr address.Address, tag ledger.TypeTag, v codec) error {
	acc, ok := l.accounts[addr]
	if !ok {
		return ledger.NewError(ledger.CodeAccountNotInitialized, fmt.Sprintf("%s account %s", tag, addr))
	}
	if acc.Type != tag {
		return ledger.NewError(ledger.CodeInvalidAccountData, fmt.Sprintf("account %s is a %s, want %s", addr, acc.Type, tag))
	}
	return program.Decode(acc.Data, v)
}

func (l *Ledger) store(addr address.Address, tag ledger.TypeTag, v codec) error {
	data, err := program.Encode(v)
	if err != nil {
		return ledger.NewError(ledger.CodeInvalidAccountData, err.Error())
	}
	l.accounts[addr] = ledger.Account{Address: addr, Type: tag, Data: data, Exists: true}
	return nil
}
