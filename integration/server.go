package integration

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// ServerConfig contains the arguments used to launch a rostermint process.
type ServerConfig struct {
	BaseDir      string
	Genesis      time.Time
	Simulate     bool
	Once         bool
	Servers      []string
	ProbeTimeout time.Duration
	Interval     time.Duration
	// ExtraArgs are appended to the generated command line.
	ExtraArgs []string

	exe string
}

// DefaultConfig returns a config for a simulated ledger whose first epoch
// started a minute ago. The binary is built on first use.
func DefaultConfig(baseDir string) (*ServerConfig, error) {
	exe, err := rostermintExecutablePath(os.TempDir())
	if err != nil {
		return nil, err
	}
	return &ServerConfig{
		BaseDir:      baseDir,
		Genesis:      time.Now().Add(-time.Minute),
		Simulate:     true,
		ProbeTimeout: time.Second,
		exe:          exe,
	}, nil
}

func (cfg *ServerConfig) LogFile() string {
	return filepath.Join(cfg.BaseDir, "logs", "rostermint.log")
}

func (cfg *ServerConfig) DbDir() string {
	return filepath.Join(cfg.BaseDir, "db")
}

// genArgs generates the command line of the process.
func (cfg *ServerConfig) genArgs() []string {
	args := []string{
		fmt.Sprintf("--dir=%s", cfg.BaseDir),
		fmt.Sprintf("--datadir=%s", filepath.Join(cfg.BaseDir, "data")),
		fmt.Sprintf("--dbdir=%s", cfg.DbDir()),
		fmt.Sprintf("--logdir=%s", filepath.Dir(cfg.LogFile())),
		fmt.Sprintf("--genesis-time=%s", cfg.Genesis.Format(time.RFC3339)),
	}
	if cfg.Simulate {
		args = append(args, "--ledger.simulate")
	}
	if cfg.Once {
		args = append(args, "--once")
	}
	for _, s := range cfg.Servers {
		args = append(args, fmt.Sprintf("--roster.server=%s", s))
	}
	if cfg.ProbeTimeout != 0 {
		args = append(args, fmt.Sprintf("--roster.probe-timeout=%s", cfg.ProbeTimeout))
	}
	if cfg.Interval != 0 {
		args = append(args, fmt.Sprintf("--interval=%s", cfg.Interval))
	}
	return append(args, cfg.ExtraArgs...)
}

// syncBuffer is a bytes.Buffer safe for a writing process and reading tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// server houses the state of one launched rostermint process.
type server struct {
	cfg    *ServerConfig
	cmd    *exec.Cmd
	stdout syncBuffer
	stderr syncBuffer

	// processExit is closed once the process has exited. exitErr is valid
	// after that.
	processExit chan struct{}
	exitErr     error
}

func newServer(cfg *ServerConfig) *server {
	return &server{cfg: cfg}
}

func (s *server) start() error {
	s.cmd = exec.Command(s.cfg.exe, s.cfg.genArgs()...)
	s.cmd.Stdout = &s.stdout
	s.cmd.Stderr = &s.stderr
	if err := s.cmd.Start(); err != nil {
		return err
	}

	s.processExit = make(chan struct{})
	go func() {
		s.exitErr = s.cmd.Wait()
		close(s.processExit)
	}()
	return nil
}

// stop interrupts the process and kills it if it does not exit within
// timeout.
func (s *server) stop(timeout time.Duration) error {
	if s.processExit == nil {
		return nil
	}
	select {
	case <-s.processExit:
		return s.exitErr
	default:
	}

	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("failed to interrupt process: %w", err)
	}
	select {
	case <-s.processExit:
		return s.exitErr
	case <-time.After(timeout):
	}
	if err := s.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill process: %w", err)
	}
	<-s.processExit
	return errors.New("process did not stop after interrupt")
}
