// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers

package server

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap/zapcore"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/ledger/rpcclient"
	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/registration"
	"github.com/fancoin/rostermint/roster"
	"github.com/fancoin/rostermint/service"
	"github.com/fancoin/rostermint/submission"
)

const (
	defaultDbDirName      = "db"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
)

// Config defines the configuration options for rostermint.
//
// Values are taken from DefaultConfig, then the optional INI file, then
// the command line.
//
//nolint:lll
type Config struct {
	Genesis        Genesis `long:"genesis-time"   description:"Start of the first reward epoch in RFC3339 format"`
	Dir            string  `long:"dir"            description:"The base directory that contains rostermint's data, logs, configuration file, etc."`
	ConfigFile     string  `long:"configfile"     description:"Path to configuration file"                                                            short:"c"`
	DataDir        string  `long:"datadir"        description:"The directory to store the operator key and address files within"                     short:"b"`
	DbDir          string  `long:"dbdir"          description:"The directory to store DBs within"`
	LogDir         string  `long:"logdir"         description:"Directory to log output."`
	DebugLog       bool    `long:"debuglog"       description:"Enable debug logs"`
	JSONLog        bool    `long:"jsonlog"        description:"Whether to log in JSON format"`
	MaxLogFiles    int     `long:"maxlogfiles"    description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int     `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	MetricsPort    *uint16 `long:"metrics-port"   description:"The port to expose metrics"`
	Once           bool    `long:"once"           description:"Run a single reconciliation cycle and exit"`

	OperatorKey string          `long:"operator-key" description:"Path of the operator keypair file. Without it the key is read from the environment or the data directory"`
	Program     address.Address `long:"program"      description:"Address of the registry program"`
	Registry    address.Address `long:"registry"     description:"Address of the participant registry. Derived from the asset when not set"`
	Asset       address.Address `long:"asset"        description:"Address of the reward asset"`

	CPUProfile string `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	Profile    string `long:"profile"    description:"Enable HTTP profiling on given port -- must be between 1024 and 65535"`

	Ledger       LedgerConfig        `group:"Ledger"       namespace:"ledger"`
	Roster       roster.Config       `group:"Roster"       namespace:"roster"`
	Registration registration.Config `group:"Registration" namespace:"registration"`
	Submission   submission.Config   `group:"Submission"   namespace:"submission"`
	Service      service.Config      `group:"Service"`
}

type LedgerConfig struct {
	Simulate bool             `long:"simulate" description:"Run against an in-memory ledger instead of a node"`
	RPC      rpcclient.Config `group:"Ledger RPC"`
}

type Genesis time.Time

// UnmarshalFlag implements flags.Unmarshaler.
func (g *Genesis) UnmarshalFlag(value string) error {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return err
	}
	*g = Genesis(t)
	return nil
}

func (g Genesis) Time() time.Time {
	return time.Time(g)
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	dir := "./rostermint"
	cacheDir, err := os.UserCacheDir()
	if err == nil {
		dir = filepath.Join(cacheDir, "rostermint")
	}

	return &Config{
		Genesis:        Genesis(time.Now()),
		Dir:            dir,
		DataDir:        filepath.Join(dir, defaultDataDirname),
		DbDir:          filepath.Join(dir, defaultDbDirName),
		LogDir:         filepath.Join(dir, defaultLogDirname),
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		Ledger:         LedgerConfig{RPC: rpcclient.DefaultConfig()},
		Roster:         roster.DefaultConfig(),
		Registration:   registration.DefaultConfig(),
		Submission:     submission.DefaultConfig(),
		Service:        service.DefaultConfig(),
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads config from an ini file.
// It uses the provided `cfg` as a base config and overrides it with the values
// from the config file.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	logging.FromContext(context.Background()).Sugar().Debugf("reading config from %s", cfg.ConfigFile)
	if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err)
	}

	return cfg, nil
}

// SetupConfig expands paths and initializes filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	// Directories left at their defaults follow a non-default base directory.
	defaultCfg := DefaultConfig()
	if cfg.Dir != defaultCfg.Dir {
		if cfg.DataDir == defaultCfg.DataDir {
			cfg.DataDir = filepath.Join(cfg.Dir, defaultDataDirname)
		}
		if cfg.LogDir == defaultCfg.LogDir {
			cfg.LogDir = filepath.Join(cfg.Dir, defaultLogDirname)
		}
		if cfg.DbDir == defaultCfg.DbDir {
			cfg.DbDir = filepath.Join(cfg.Dir, defaultDbDirName)
		}
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %v: %w", cfg.Dir, err)
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DbDir = cleanAndExpandPath(cfg.DbDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.OperatorKey = cleanAndExpandPath(cfg.OperatorKey)

	return cfg, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// implement zap.ObjectMarshaler interface.
func (c *Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddTime("genesis", c.Genesis.Time())
	enc.AddString("datadir", c.DataDir)
	enc.AddString("dbdir", c.DbDir)
	enc.AddBool("once", c.Once)
	enc.AddBool("simulate", c.Ledger.Simulate)
	enc.AddString("program", c.Program.String())
	enc.AddString("registry", c.Registry.String())
	enc.AddString("asset", c.Asset.String())
	if err := enc.AddObject("ledger", c.Ledger.RPC); err != nil {
		return err
	}
	if err := enc.AddObject("roster", c.Roster); err != nil {
		return err
	}
	if err := enc.AddObject("registration", &c.Registration); err != nil {
		return err
	}
	if err := enc.AddObject("submission", &c.Submission); err != nil {
		return err
	}
	return enc.AddObject("service", &c.Service)
}
