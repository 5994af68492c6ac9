package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fancoin/rostermint/addrbook"
	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/db"
	"github.com/fancoin/rostermint/ledger"
	"github.com/fancoin/rostermint/ledger/memory"
	"github.com/fancoin/rostermint/ledger/rpcclient"
	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/registration"
	"github.com/fancoin/rostermint/registry"
	"github.com/fancoin/rostermint/roster"
	"github.com/fancoin/rostermint/service"
	"github.com/fancoin/rostermint/signing"
	"github.com/fancoin/rostermint/submission"
)

const journalDirName = "journal"

var (
	ErrMissingProgram = errors.New("registry program address is not configured")
	ErrMissingAsset   = errors.New("asset address is not configured")
)

type Server struct {
	cfg       Config
	operator  *signing.Operator
	ledger    ledger.Ledger
	addresses addrbook.Addresses
	registry  *registry.Registry
	registrar *registration.Registrar
	journal   *db.Journal
	service   *service.Service

	metricsListener net.Listener
}

type newServerOptionFunc func(*newServerOptions)

type newServerOptions struct {
	roster service.RosterSource
}

// WithRosterSource replaces the roster built from the configuration.
func WithRosterSource(src service.RosterSource) newServerOptionFunc {
	return func(opts *newServerOptions) {
		opts.roster = src
	}
}

func New(ctx context.Context, cfg Config, opts ...newServerOptionFunc) (*Server, error) {
	options := newServerOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	logger := logging.FromContext(ctx)

	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, err
		}
	}

	operator, err := loadOperator(ctx, cfg.OperatorKey, cfg.DataDir, os.Getenv(KeyEnvVar))
	if err != nil {
		return nil, fmt.Errorf("loading operator: %w", err)
	}
	if cfg.OperatorKey == "" {
		if err := saveOperator(cfg.DataDir, operator); err != nil {
			return nil, fmt.Errorf("saving operator: %w", err)
		}
	}

	l, deriver, addresses, err := openLedger(ctx, cfg, operator)
	if err != nil {
		return nil, err
	}
	logger.Info("operating on", zap.Object("addresses", addresses), zap.Stringer("operator", operator.Address()))

	reg := registry.New(l, deriver, addresses.Registry)
	registrar, err := registration.New(l, reg, operator, addresses.Asset, registration.WithConfig(cfg.Registration))
	if err != nil {
		return nil, fmt.Errorf("creating registrar: %w", err)
	}
	client, err := submission.NewClient(l, operator, submission.Accounts{
		Registry: addresses.Registry,
		Role:     addresses.Role,
		Asset:    addresses.Asset,
	}, cfg.Submission)
	if err != nil {
		return nil, fmt.Errorf("creating submission client: %w", err)
	}

	src := options.roster
	if src == nil {
		discoverer, err := roster.NewDiscoverer(cfg.Roster)
		if err != nil {
			return nil, fmt.Errorf("creating server discovery: %w", err)
		}
		prober, err := roster.NewProber(cfg.Roster.Protocol)
		if err != nil {
			return nil, err
		}
		src = roster.NewSource(discoverer, prober, cfg.Roster)
	}

	journal, err := db.OpenJournal(ctx, filepath.Join(cfg.DbDir, journalDirName), filepath.Join(cfg.DataDir, journalDirName))
	if err != nil {
		return nil, err
	}

	svc, err := service.New(
		cfg.Genesis.Time(),
		operator.Address(),
		src,
		reg,
		registrar,
		client,
		service.WithConfig(cfg.Service),
		service.WithJournal(journal),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("creating service: %w", err), journal.Close())
	}

	var metricsListener net.Listener
	if cfg.MetricsPort != nil {
		metricsListener, err = net.Listen("tcp", fmt.Sprintf(":%d", *cfg.MetricsPort))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to listen: %w", err), journal.Close())
		}
	}

	return &Server{
		cfg:             cfg,
		operator:        operator,
		ledger:          l,
		addresses:       addresses,
		registry:        reg,
		registrar:       registrar,
		journal:         journal,
		service:         svc,
		metricsListener: metricsListener,
	}, nil
}

// openLedger connects to the configured ledger, or starts a simulated one,
// and resolves the deployment addresses.
func openLedger(
	ctx context.Context,
	cfg Config,
	operator *signing.Operator,
) (ledger.Ledger, *address.Deriver, addrbook.Addresses, error) {
	addresses := addrbook.Addresses{Registry: cfg.Registry, Asset: cfg.Asset}

	if cfg.Ledger.Simulate {
		program := cfg.Program
		if program.IsZero() {
			program = randomAddress()
		}
		if addresses.Asset.IsZero() {
			addresses.Asset = randomAddress()
		}
		l, err := memory.New(program)
		if err != nil {
			return nil, nil, addresses, err
		}
		addresses.Registry, err = l.CreateRegistry(operator.Address(), addresses.Asset)
		if err != nil {
			return nil, nil, addresses, fmt.Errorf("creating simulated registry: %w", err)
		}
		deriver, err := address.NewDeriver(program, 0)
		if err != nil {
			return nil, nil, addresses, err
		}
		addresses.Role, err = deriver.Role(addresses.Asset, operator.Address())
		logging.FromContext(ctx).Warn("using a simulated in-memory ledger")
		return l, deriver, addresses, err
	}

	if cfg.Program.IsZero() {
		return nil, nil, addresses, ErrMissingProgram
	}
	book := addrbook.New(cfg.DataDir)
	addresses, err := book.Resolve(addresses)
	if err != nil {
		return nil, nil, addresses, fmt.Errorf("reading address book: %w", err)
	}
	if addresses.Asset.IsZero() {
		return nil, nil, addresses, ErrMissingAsset
	}
	deriver, err := address.NewDeriver(cfg.Program, 0)
	if err != nil {
		return nil, nil, addresses, err
	}
	if addresses.Registry.IsZero() {
		if addresses.Registry, err = deriver.Registry(addresses.Asset); err != nil {
			return nil, nil, addresses, err
		}
	}
	// the role always follows the operator key in use
	if addresses.Role, err = deriver.Role(addresses.Asset, operator.Address()); err != nil {
		return nil, nil, addresses, err
	}
	if err := book.SaveAll(addresses); err != nil {
		return nil, nil, addresses, fmt.Errorf("saving address book: %w", err)
	}

	l, err := rpcclient.New(ctx, cfg.Ledger.RPC)
	if err != nil {
		return nil, nil, addresses, fmt.Errorf("creating ledger client: %w", err)
	}
	return l, deriver, addresses, nil
}

func randomAddress() address.Address {
	var a address.Address
	_, _ = rand.Read(a[:])
	return a
}

func (s *Server) Close() error {
	return s.journal.Close()
}

func (s *Server) Operator() *signing.Operator {
	return s.operator
}

func (s *Server) Addresses() addrbook.Addresses {
	return s.addresses
}

func (s *Server) Registry() *registry.Registry {
	return s.registry
}

func (s *Server) Registrar() *registration.Registrar {
	return s.registrar
}

func (s *Server) Journal() *db.Journal {
	return s.journal
}

// MetricsAddr returns the address the metrics endpoint listens on, if any.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}

// Start runs reconciliation cycles until ctx is canceled, or a single one
// with Once set.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	serverGroup, ctx := errgroup.WithContext(ctx)

	logger := logging.FromContext(ctx)

	if s.cfg.Once {
		logger.Info("running a single reconciliation cycle")
		serverGroup.Go(func() error {
			defer stop()
			report, err := s.service.RunCycle(ctx)
			if err != nil {
				return err
			}
			if failed := report.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d of %d batches failed", len(failed), len(report.Results))
			}
			return nil
		})
	} else {
		logger.Info("starting reconciliation service")
		serverGroup.Go(func() error {
			return s.service.Run(ctx)
		})
	}

	var server *http.Server
	if s.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Handler: mux, ReadHeaderTimeout: time.Second * 5}
		serverGroup.Go(func() error {
			logger.Sugar().Infof("metrics server listening on %s", s.metricsListener.Addr())
			err := server.Serve(s.metricsListener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	// Wait for the services to shut down gracefully
	<-ctx.Done()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Sugar().Errorf("failed to shutdown metrics server: %s", err)
		}
	}
	return serverGroup.Wait()
}
