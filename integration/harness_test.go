package integration_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fancoin/rostermint/integration"
)

// nothing listens on UDP port 1, so every probe fails and the roster is empty
const unreachable = "127.0.0.1:1"

func newConfig(t *testing.T) *integration.ServerConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("builds and runs the rostermint binary")
	}
	cfg, err := integration.DefaultConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Servers = []string{unreachable}
	return cfg
}

func TestSingleCycleWithEmptyRoster(t *testing.T) {
	require := require.New(t)
	cfg := newConfig(t)
	cfg.Once = true

	h, err := integration.NewHarness(cfg)
	require.NoError(err)
	t.Cleanup(func() { _ = h.TearDown() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(h.Wait(ctx))
	require.True(h.LogContains("cycle finished"), h.Stdout())
	require.DirExists(filepath.Join(cfg.DbDir(), "journal"))
}

func TestMissingProgramFails(t *testing.T) {
	require := require.New(t)
	cfg := newConfig(t)
	cfg.Simulate = false
	cfg.Once = true

	h, err := integration.NewHarness(cfg)
	require.NoError(err)
	t.Cleanup(func() { _ = h.TearDown() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.Error(h.Wait(ctx))
	require.Contains(h.Stderr(), "registry program address is not configured")
}

func TestStopsOnInterrupt(t *testing.T) {
	require := require.New(t)
	cfg := newConfig(t)
	cfg.Interval = 100 * time.Millisecond

	h, err := integration.NewHarness(cfg)
	require.NoError(err)

	require.Eventually(func() bool {
		return h.LogContains("cycle finished")
	}, time.Minute, 100*time.Millisecond)
	require.NoError(h.TearDown())
	require.True(h.LogContains("shutdown complete"))
}
