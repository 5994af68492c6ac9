package address_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fancoin/rostermint/address"
)

func randomAddress(t *testing.T) address.Address {
	t.Helper()
	var a address.Address
	_, err := rand.Read(a[:])
	require.NoError(t, err)
	return a
}

func TestDeriveIsDeterministic(t *testing.T) {
	program := randomAddress(t)
	seed := []byte("some seed")

	a1, bump1, err := address.Derive(program, []byte("identity"), seed)
	require.NoError(t, err)
	a2, bump2, err := address.Derive(program, []byte("identity"), seed)
	require.NoError(t, err)
	require.Equal(t, a1, a2)
	require.Equal(t, bump1, bump2)
}

func TestDeriveDomainSeparation(t *testing.T) {
	program := randomAddress(t)
	d, err := address.NewDeriver(program, 16)
	require.NoError(t, err)

	seed := []byte("seed")
	identity, err := d.Derive(address.TagIdentity, seed)
	require.NoError(t, err)
	reward, err := d.Derive(address.TagReward, seed)
	require.NoError(t, err)
	require.NotEqual(t, identity, reward)

	// the same seeds under another program yield another address
	other, err := address.NewDeriver(randomAddress(t), 16)
	require.NoError(t, err)
	otherIdentity, err := other.Derive(address.TagIdentity, seed)
	require.NoError(t, err)
	require.NotEqual(t, identity, otherIdentity)
}

func TestDeriveOffCurve(t *testing.T) {
	program := randomAddress(t)
	for i := 0; i < 32; i++ {
		addr, bump, err := address.Derive(program, []byte{byte(i)})
		require.NoError(t, err)
		// re-creating with the found bump must give the same off-curve address
		again, err := address.CreateProgramAddress(program, []byte{byte(i)}, []byte{bump})
		require.NoError(t, err)
		require.Equal(t, addr, again)
	}
}

func TestDeriveSeedTooLong(t *testing.T) {
	program := randomAddress(t)
	_, _, err := address.Derive(program, bytes.Repeat([]byte{1}, address.MaxSeedLen+1))
	require.ErrorIs(t, err, address.ErrSeedTooLong)

	d, err := address.NewDeriver(program, 16)
	require.NoError(t, err)
	_, err = d.NameGuard(randomAddress(t), string(bytes.Repeat([]byte{'a'}, address.MaxSeedLen+1)))
	require.ErrorIs(t, err, address.ErrSeedTooLong)

	// exactly at the bound is fine
	_, err = d.NameGuard(randomAddress(t), string(bytes.Repeat([]byte{'a'}, address.MaxSeedLen)))
	require.NoError(t, err)
}

func TestDeriveTooManySeeds(t *testing.T) {
	seeds := make([][]byte, address.MaxSeeds)
	_, _, err := address.Derive(randomAddress(t), seeds...)
	require.ErrorIs(t, err, address.ErrTooManySeeds)
}

func TestIdentityAddressesDifferPerIndex(t *testing.T) {
	d, err := address.NewDeriver(randomAddress(t), 128)
	require.NoError(t, err)
	registry := randomAddress(t)

	seen := make(map[address.Address]uint32)
	for i := uint32(0); i < 64; i++ {
		addr, err := d.Identity(registry, i)
		require.NoError(t, err)
		prev, dup := seen[addr]
		require.False(t, dup, "index %d collides with %d", i, prev)
		seen[addr] = i

		// cached lookup returns the same value
		cached, err := d.Identity(registry, i)
		require.NoError(t, err)
		require.Equal(t, addr, cached)
	}
}

func TestRoleAndRewardAreOrderSensitive(t *testing.T) {
	d, err := address.NewDeriver(randomAddress(t), 16)
	require.NoError(t, err)
	a, b := randomAddress(t), randomAddress(t)

	ab, err := d.Role(a, b)
	require.NoError(t, err)
	ba, err := d.Role(b, a)
	require.NoError(t, err)
	require.NotEqual(t, ab, ba)

	reward, err := d.Reward(a, b)
	require.NoError(t, err)
	require.NotEqual(t, ab, reward)
}

func TestParseAddress(t *testing.T) {
	a := randomAddress(t)
	parsed, err := address.Parse(a.String())
	require.NoError(t, err)
	require.Equal(t, a, parsed)

	_, err = address.Parse("not-base58-0OIl")
	require.ErrorIs(t, err, address.ErrInvalidAddress)
	_, err = address.Parse("3yZe7d")
	require.ErrorIs(t, err, address.ErrInvalidAddress)

	var flagged address.Address
	require.NoError(t, flagged.UnmarshalFlag(a.String()))
	require.Equal(t, a, flagged)
	require.NoError(t, flagged.UnmarshalFlag(""))
	require.True(t, flagged.IsZero())
}
