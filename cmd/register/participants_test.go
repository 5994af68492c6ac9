package main

import (
	"crypto/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fancoin/rostermint/addrbook"
	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/server"
)

func randomAddress(t *testing.T) address.Address {
	t.Helper()
	var a address.Address
	_, err := rand.Read(a[:])
	require.NoError(t, err)
	return a
}

func TestReadParticipants(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	alice, bob, reward := randomAddress(t), randomAddress(t), randomAddress(t)
	input := strings.Join([]string{
		"name,owner,reward_address",
		"# comment",
		"Al^1ice, " + alice.String(),
		"",
		"[Bob]," + bob.String() + "," + reward.String(),
	}, "\n")

	entries, err := readParticipants(strings.NewReader(input))
	require.NoError(err)
	require.Len(entries, 2)
	require.Equal("Al^1ice", entries[0].Participant.Name)
	require.Equal(alice, entries[0].Participant.Owner)
	require.True(entries[0].Reward.IsZero())
	require.Equal(3, entries[0].Line)
	require.Equal(bob, entries[1].Participant.Owner)
	require.Equal(reward, entries[1].Reward)
}

func TestReadParticipantsErrors(t *testing.T) {
	t.Parallel()
	owner := randomAddress(t).String()
	for _, tc := range []struct {
		name  string
		input string
	}{
		{name: "single column", input: "Alice"},
		{name: "too many columns", input: "Alice," + owner + "," + owner + ",x"},
		{name: "bad owner after first line", input: "Alice," + owner + "\nBob,nope"},
		{name: "bad reward", input: "Alice," + owner + ",nope"},
		{name: "duplicate canonical name", input: "Alice," + owner + "\n^2Alice," + owner},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := readParticipants(strings.NewReader(tc.input))
			require.Error(t, err)
		})
	}
}

func TestCheckRewards(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	deriver, err := address.NewDeriver(randomAddress(t), 0)
	require.NoError(err)
	asset := randomAddress(t)
	owner := randomAddress(t)
	derived, err := deriver.Reward(owner, asset)
	require.NoError(err)

	good := entry{Line: 1}
	good.Participant.Owner = owner
	good.Reward = derived
	unchecked := entry{Line: 2}
	unchecked.Participant.Owner = randomAddress(t)
	require.NoError(checkRewards([]entry{good, unchecked}, deriver, asset))

	bad := entry{Line: 3}
	bad.Participant.Owner = randomAddress(t)
	bad.Reward = derived
	require.ErrorIs(checkRewards([]entry{good, bad}, deriver, asset), ErrRewardMismatch)
}

func TestDryRunWritesNothing(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	cfg := server.DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	e := entry{Line: 1}
	e.Participant.Owner = randomAddress(t)
	e.Reward = randomAddress(t)

	// nothing known yet: the file is valid but rewards stay unchecked
	checked, err := dryRun(cfg, []entry{e})
	require.NoError(err)
	require.False(checked)
	require.NoDirExists(cfg.DataDir)

	cfg.Program = randomAddress(t)
	asset := randomAddress(t)
	require.NoError(addrbook.New(cfg.DataDir).Save(addrbook.AssetFile, asset))
	checked, err = dryRun(cfg, []entry{e})
	require.True(checked)
	require.ErrorIs(err, ErrRewardMismatch)

	deriver, err := address.NewDeriver(cfg.Program, 0)
	require.NoError(err)
	e.Reward, err = deriver.Reward(e.Participant.Owner, asset)
	require.NoError(err)
	checked, err = dryRun(cfg, []entry{e})
	require.NoError(err)
	require.True(checked)
	require.NoFileExists(filepath.Join(cfg.DataDir, addrbook.RegistryFile))
}
