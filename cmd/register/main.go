// Command register bulk-registers participants in the registry.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/fancoin/rostermint/addrbook"
	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/registration"
	"github.com/fancoin/rostermint/server"
)

type options struct {
	Participants string `long:"participants" short:"p" description:"CSV file of name,owner[,reward_address] lines" required:"true"`
	DryRun       bool   `long:"dry-run"                description:"Only validate the participants file. Neither the ledger nor the data directory is touched"`
}

func registerMain() (err error) {
	cfg := server.DefaultConfig()
	var opts options
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.AddGroup("Register", "", &opts); err != nil {
		return err
	}
	if _, err := parser.Parse(); err != nil {
		return err
	}
	if cfg, err = server.ReadConfigFile(cfg); err != nil {
		return err
	}
	if cfg, err = server.SetupConfig(cfg); err != nil {
		return err
	}
	// command line takes precedence over the config file
	if _, err := parser.Parse(); err != nil {
		return err
	}

	logLevel := zap.InfoLevel
	if cfg.DebugLog {
		logLevel = zap.DebugLevel
	}
	logger := logging.New(logLevel, logging.FileConfig{}, cfg.JSONLog)
	defer func() { _ = logger.Sync() }()
	ctx, stop := signal.NotifyContext(logging.NewContext(context.Background(), logger), os.Interrupt)
	defer stop()

	f, err := os.Open(opts.Participants)
	if err != nil {
		return err
	}
	entries, err := readParticipants(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("reading %s: %w", opts.Participants, err)
	}

	if opts.DryRun {
		checked, err := dryRun(cfg, entries)
		if err != nil {
			return err
		}
		if !checked {
			logger.Warn("program or asset address unknown, reward addresses were not checked")
		}
		logger.Info("participants file is valid", zap.Int("participants", len(entries)))
		return nil
	}

	srv, err := server.New(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer func() {
		err = errors.Join(err, srv.Close())
	}()
	if err := checkRewards(entries, srv.Registry().Deriver(), srv.Addresses().Asset); err != nil {
		return err
	}

	participants := make([]registration.Participant, len(entries))
	for i, e := range entries {
		participants[i] = e.Participant
	}
	results, err := srv.Registrar().RegisterAll(ctx, participants)
	registered := 0
	for _, res := range results {
		if res.Err == nil {
			registered++
			logger.Info("registered",
				zap.String("name", res.Identity.Name),
				zap.Uint32("index", res.Identity.SequenceIndex),
				zap.Stringer("reward", res.Identity.RewardAddress),
			)
		}
	}
	logger.Info("registration finished",
		zap.Int("registered", registered),
		zap.Int("failed", len(results)-registered),
		zap.Int("skipped", len(participants)-len(results)),
	)
	return err
}

// dryRun checks entries without opening the ledger or writing any state.
// Reward addresses are checked only when the program and asset addresses
// are known from the configuration or the address book.
func dryRun(cfg *server.Config, entries []entry) (checked bool, err error) {
	addresses, err := addrbook.New(cfg.DataDir).Resolve(addrbook.Addresses{Registry: cfg.Registry, Asset: cfg.Asset})
	if err != nil {
		return false, fmt.Errorf("reading address book: %w", err)
	}
	if cfg.Program.IsZero() || addresses.Asset.IsZero() {
		return false, nil
	}
	deriver, err := address.NewDeriver(cfg.Program, 0)
	if err != nil {
		return false, err
	}
	return true, checkRewards(entries, deriver, addresses.Asset)
}

func main() {
	if err := registerMain(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
