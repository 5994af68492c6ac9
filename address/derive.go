package address

import (
	"encoding/binary"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	lru "github.com/hashicorp/golang-lru"
	"github.com/minio/sha256-simd"
)

const (
	// MaxSeedLen is the ledger-imposed bound on a single seed.
	MaxSeedLen = 32
	// MaxSeeds bounds the number of seeds, the bump seed included.
	MaxSeeds = 16

	pdaMarker = "ProgramDerivedAddress"
)

// Domain tags of the derivations used by the registry program.
const (
	TagIdentity = "identity"
	TagReward   = "reward"
	TagRole     = "role"
	TagName     = "name"
	TagRegistry = "registry"
)

var (
	ErrSeedTooLong  = errors.New("seed too long")
	ErrTooManySeeds = errors.New("too many seeds")
	ErrOnCurve      = errors.New("derived address is on the ed25519 curve")
	ErrNoViableBump = errors.New("no viable bump seed")
)

// CreateProgramAddress hashes seeds together with the program id.
// It fails with ErrOnCurve when the digest is a valid curve point,
// because such an address could have a private key.
func CreateProgramAddress(program Address, seeds ...[]byte) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Zero, fmt.Errorf("%w: %d > %d", ErrTooManySeeds, len(seeds), MaxSeeds)
	}
	hasher := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Zero, fmt.Errorf("%w: seed %d is %d bytes (max %d)", ErrSeedTooLong, i, len(seed), MaxSeedLen)
		}
		hasher.Write(seed)
	}
	hasher.Write(program[:])
	hasher.Write([]byte(pdaMarker))

	var out Address
	copy(out[:], hasher.Sum(nil))
	if onCurve(out) {
		return Zero, ErrOnCurve
	}
	return out, nil
}

// Derive finds the program address for seeds by searching the bump seed
// from 255 down to 0. It returns the address and the bump that produced it.
func Derive(program Address, seeds ...[]byte) (Address, uint8, error) {
	if len(seeds)+1 > MaxSeeds {
		return Zero, 0, fmt.Errorf("%w: %d seeds plus bump > %d", ErrTooManySeeds, len(seeds), MaxSeeds)
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bump := []byte{0}
	withBump[len(seeds)] = bump

	for b := 255; b >= 0; b-- {
		bump[0] = uint8(b)
		addr, err := CreateProgramAddress(program, withBump...)
		switch {
		case err == nil:
			return addr, uint8(b), nil
		case errors.Is(err, ErrOnCurve):
			continue
		default:
			return Zero, 0, err
		}
	}
	return Zero, 0, ErrNoViableBump
}

func onCurve(a Address) bool {
	_, err := new(edwards25519.Point).SetBytes(a[:])
	return err == nil
}

// Deriver derives the registry program's addresses.
// Results are memoised; derivation is pure so cached values never go stale.
type Deriver struct {
	program Address
	cache   *lru.Cache
}

func NewDeriver(program Address, cacheSize int) (*Deriver, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Deriver{program: program, cache: cache}, nil
}

func (d *Deriver) Program() Address {
	return d.program
}

// Derive derives the address for a domain tag and its seed parts.
func (d *Deriver) Derive(tag string, parts ...[]byte) (Address, error) {
	seeds := make([][]byte, 0, len(parts)+1)
	seeds = append(seeds, []byte(tag))
	for i, part := range parts {
		if len(part) > MaxSeedLen {
			return Zero, fmt.Errorf("deriving %s address: %w: part %d is %d bytes", tag, ErrSeedTooLong, i, len(part))
		}
	}
	seeds = append(seeds, parts...)

	key := cacheKey(seeds)
	if cached, ok := d.cache.Get(key); ok {
		// SAFETY: only Address values are inserted.
		return cached.(Address), nil
	}
	addr, _, err := Derive(d.program, seeds...)
	if err != nil {
		return Zero, fmt.Errorf("deriving %s address: %w", tag, err)
	}
	d.cache.Add(key, addr)
	return addr, nil
}

// Identity derives a participant's identity address from its sequence index.
func (d *Deriver) Identity(registry Address, index uint32) (Address, error) {
	var le [4]byte
	binary.LittleEndian.PutUint32(le[:], index)
	return d.Derive(TagIdentity, registry[:], le[:])
}

// Reward derives the holding address where owner receives asset rewards.
func (d *Deriver) Reward(owner, asset Address) (Address, error) {
	return d.Derive(TagReward, owner[:], asset[:])
}

// Role derives an operator's role account for an asset.
func (d *Deriver) Role(asset, operator Address) (Address, error) {
	return d.Derive(TagRole, asset[:], operator[:])
}

// NameGuard derives the account that reserves a canonical name in a registry.
func (d *Deriver) NameGuard(registry Address, name string) (Address, error) {
	return d.Derive(TagName, registry[:], []byte(name))
}

// Registry derives the registry account of an asset.
func (d *Deriver) Registry(asset Address) (Address, error) {
	return d.Derive(TagRegistry, asset[:])
}

func cacheKey(seeds [][]byte) string {
	n := 0
	for _, s := range seeds {
		n += len(s) + 1
	}
	buf := make([]byte, 0, n)
	for _, s := range seeds {
		// length-prefixed so that ["ab","c"] and ["a","bc"] differ
		buf = append(buf, byte(len(s)))
		buf = append(buf, s...)
	}
	return string(buf)
}
