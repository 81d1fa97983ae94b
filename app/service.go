// Package app assembles the engine from configuration: storage, event bus,
// domain components, the MQTT gateway, and the HTTP server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kilianp07/hemolink/api"
	"github.com/kilianp07/hemolink/config"
	"github.com/kilianp07/hemolink/core/dispatch"
	"github.com/kilianp07/hemolink/core/ledger"
	coremetrics "github.com/kilianp07/hemolink/core/metrics"
	"github.com/kilianp07/hemolink/core/pledge"
	"github.com/kilianp07/hemolink/core/simulate"
	"github.com/kilianp07/hemolink/core/store"
	"github.com/kilianp07/hemolink/core/swap"
	"github.com/kilianp07/hemolink/infra/logger"
	"github.com/kilianp07/hemolink/infra/metrics"
	"github.com/kilianp07/hemolink/infra/notifier"
	"github.com/kilianp07/hemolink/infra/store/sqlite"
	"github.com/kilianp07/hemolink/internal/eventbus"
	"github.com/kilianp07/hemolink/internal/memstore"
)

// Service orchestrates the engine components and transports.
type Service struct {
	Ranker    *dispatch.Ranker
	Pledges   *pledge.Manager
	Ledger    *ledger.Ledger
	Swaps     *swap.Matcher
	Simulator *simulate.Simulator

	store    store.Store
	bus      *eventbus.Bus
	gateway  *notifier.Gateway
	httpSrv  *http.Server
	promAddr string
	log      logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logger.Setup(cfg.Logging.Level, cfg.Logging.Pretty)
	log := logger.New("service")

	var st store.Store
	switch cfg.Store.Backend {
	case "memory":
		st = memstore.New()
	default:
		s, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		st = s
	}

	var sinks []coremetrics.MetricsSink
	if cfg.Metrics.PrometheusAddr != "" {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxURL != "" {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket,
			logger.New("influx")))
	}
	var sink coremetrics.MetricsSink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New()

	ranker, err := dispatch.NewRanker(st, bus, cfg.Engine.Dispatch, logger.New("dispatch"), sink)
	if err != nil {
		return nil, fmt.Errorf("ranker: %w", err)
	}
	led, err := ledger.New(st, cfg.Engine.Ledger, logger.New("ledger"))
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	pledges, err := pledge.NewManager(st, led, bus, cfg.Engine.Pledge, logger.New("pledge"), sink)
	if err != nil {
		return nil, fmt.Errorf("pledge manager: %w", err)
	}
	swaps, err := swap.NewMatcher(st, bus, logger.New("swap"), sink)
	if err != nil {
		return nil, fmt.Errorf("swap matcher: %w", err)
	}
	sim, err := simulate.New(st, bus, logger.New("simulate"))
	if err != nil {
		return nil, fmt.Errorf("simulator: %w", err)
	}

	var publisher notifier.Publisher = notifier.NopPublisher{}
	if cfg.MQTT.Broker != "" {
		p, err := notifier.NewMQTTPublisher(cfg.MQTT, logger.New("mqtt"))
		if err != nil {
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
		publisher = p
	}
	gateway, err := notifier.NewGateway(bus, publisher, cfg.MQTT.TopicPrefix, logger.New("notifier"))
	if err != nil {
		return nil, fmt.Errorf("notifier gateway: %w", err)
	}

	handler := api.New(st, ranker, pledges, led, swaps, sim, logger.New("api"))
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Service{
		Ranker:    ranker,
		Pledges:   pledges,
		Ledger:    led,
		Swaps:     swaps,
		Simulator: sim,
		store:     st,
		bus:       bus,
		gateway:   gateway,
		httpSrv:   httpSrv,
		promAddr:  cfg.Metrics.PrometheusAddr,
		log:       log,
	}, nil
}

// Run starts the transports and blocks until the context is cancelled or the
// HTTP server fails.
func (s *Service) Run(ctx context.Context) error {
	s.gateway.Start()
	if s.promAddr != "" {
		metrics.StartPromServer(s.promAddr)
		s.log.Infof("prometheus metrics on %s", s.promAddr)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("http listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("http shutdown: %v", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.gateway.Stop()
	s.bus.Close()
	return s.store.Close()
}
