package roster

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fancoin/rostermint/logging"
)

var (
	probesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rostermint",
		Subsystem: "roster",
		Name:      "probes_total",
		Help:      "Number of server probes by outcome",
	}, []string{"outcome"})

	rosterSizeMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rostermint",
		Subsystem: "roster",
		Name:      "names",
		Help:      "Number of raw names collected in the last roster",
	})
)

// Source probes every discovered server and merges the player names.
type Source struct {
	discoverer Discoverer
	prober     Prober
	cfg        Config
}

func NewSource(discoverer Discoverer, prober Prober, cfg Config) *Source {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	return &Source{discoverer: discoverer, prober: prober, cfg: cfg}
}

// Collect returns the raw names found on all servers. It never fails: a
// server that errors or does not answer within the probe timeout only
// contributes no names. The result may contain duplicates.
func (s *Source) Collect(ctx context.Context) []string {
	ctx, logger := logging.Named(ctx, "roster")
	servers, err := s.discoverer.Discover(ctx)
	if err != nil {
		probesMetric.WithLabelValues("discovery_failed").Inc()
		logger.Warn("server discovery failed", zap.Error(err))
		return nil
	}
	logger.Debug("probing servers", zap.Int("servers", len(servers)))

	var (
		mu     sync.Mutex
		names  []string
		errs   *multierror.Error
		probes errgroup.Group
	)
	probes.SetLimit(s.cfg.Concurrency)
	for _, server := range servers {
		server := server
		probes.Go(func() error {
			players, err := s.probe(ctx, server)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				probesMetric.WithLabelValues("failed").Inc()
				errs = multierror.Append(errs, fmt.Errorf("probing %s: %w", server, err))
				return nil
			}
			probesMetric.WithLabelValues("ok").Inc()
			names = append(names, players...)
			return nil
		})
	}
	_ = probes.Wait()

	if err := errs.ErrorOrNil(); err != nil {
		logger.Info("some servers did not answer",
			zap.Int("failed", errs.Len()),
			zap.Int("servers", len(servers)),
			zap.Error(err),
		)
	}
	rosterSizeMetric.Set(float64(len(names)))
	logger.Info("roster collected", zap.Int("servers", len(servers)), zap.Int("names", len(names)))
	return names
}

// probe bounds a single query by the probe timeout, even when the prober
// does not watch its context.
func (s *Source) probe(ctx context.Context, server Server) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	type result struct {
		players []string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		players, err := s.prober.QueryPlayers(ctx, server)
		done <- result{players, err}
	}()
	select {
	case r := <-done:
		return r.players, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
