package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Harness encapsulates a running rostermint process.
type Harness struct {
	server *server
}

// NewHarness launches a rostermint process configured by cfg.
func NewHarness(cfg *ServerConfig) (*Harness, error) {
	server := newServer(cfg)
	if err := server.start(); err != nil {
		return nil, fmt.Errorf("starting rostermint: %w", err)
	}
	return &Harness{server: server}, nil
}

// Wait blocks until the process exits and returns its exit error.
func (h *Harness) Wait(ctx context.Context) error {
	select {
	case <-h.server.processExit:
		if h.server.exitErr != nil {
			return fmt.Errorf("%w\n%s", h.server.exitErr, h.server.stderr.String())
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TearDown interrupts the process and waits for it to exit.
func (h *Harness) TearDown() error {
	return h.server.stop(10 * time.Second)
}

func (h *Harness) Stdout() string {
	return h.server.stdout.String()
}

func (h *Harness) Stderr() string {
	return h.server.stderr.String()
}

// LogContains reports whether the log file holds msg.
func (h *Harness) LogContains(msg string) bool {
	data, err := os.ReadFile(h.server.cfg.LogFile())
	return err == nil && strings.Contains(string(data), msg)
}
