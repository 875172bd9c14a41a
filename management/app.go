package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/broker"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/config"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/consumer"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/discovery"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/discovery/consul"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/logger"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/metrics"
)

// serviceName doubles as the request queue prefix, so it must match the
// service this block is registered under in the core's route table.
const serviceName = "management"

const shutdownGrace = 10 * time.Second

// ServiceConfig carries the deployment-specific settings read from the
// environment; tuning knobs come from config.Config.
type ServiceConfig struct {
	InstanceID  string
	MetricsAddr string
	ConsulAddr  string
}

// App wires the management block: the in-memory fleet store, the request
// consumer, and the operational HTTP listener for probes and metrics.
type App struct {
	svc ServiceConfig
	log *slog.Logger

	broker   *broker.Client
	store    *Store
	consumer *consumer.Consumer

	registry     discovery.Registry
	registration *discovery.Registration

	httpServer *http.Server
}

func NewApp(svc ServiceConfig, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = logger.New(serviceName)
	}

	registry, err := createRegistry(svc.ConsulAddr, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		svc:      svc,
		log:      log,
		registry: registry,
	}

	a.broker = broker.NewClient(broker.Options{
		URL:         cfg.Broker.URL,
		ServiceName: serviceName,
		Heartbeat:   cfg.Broker.Heartbeat(),
		Prefetch:    cfg.Broker.Prefetch,
	}, log, metrics.NewBrokerMetrics(serviceName))

	a.store = NewStore()

	a.consumer = consumer.New(serviceName, a.broker, consumer.Options{
		DedupCapacity: cfg.Dedup.Capacity,
		DedupTrimTo:   cfg.Dedup.TrimTo,
	}, log, metrics.NewConsumerMetrics(serviceName))
	newHandlers(a.store, a.broker, log).register(a.consumer)

	return a, nil
}

// Start connects the broker, subscribes the request consumer, registers with
// discovery, and serves the operational endpoints until ctx is cancelled or
// the listener dies.
func (a *App) Start(ctx context.Context) error {
	if a.registry != nil {
		registration, err := discovery.Register(
			ctx, a.registry, a.svc.InstanceID, serviceName, a.svc.MetricsAddr, a.log)
		if err != nil {
			return err
		}
		a.registration = registration
	}

	if err := a.broker.Connect(ctx); err != nil {
		return err
	}
	if err := a.consumer.Start(a.broker); err != nil {
		return err
	}

	a.httpServer = &http.Server{
		Addr:    a.svc.MetricsAddr,
		Handler: a.buildHandler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("starting operational endpoints", slog.String("addr", a.svc.MetricsAddr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildHandler exposes the block's probes and metrics. Domain traffic never
// arrives over HTTP; it comes in on the request queue.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", a.handleHealth)
	return mux
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	state := "healthy"
	if !a.broker.IsConnected() {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status":   state,
		"service":  serviceName,
		"consumer": a.consumer.Stats(),
	})
}

// Shutdown drains the HTTP listener, then tears down in dependency order:
// discovery registration, broker connection.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down gracefully")

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.log.Error("http server shutdown error", slog.Any("error", err))
		}
	}

	var firstErr error
	if a.registration != nil {
		if err := a.registration.Deregister(ctx); err != nil {
			a.log.Error("deregister error", slog.Any("error", err))
			firstErr = err
		}
	}

	if err := a.broker.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func createRegistry(addr string, log *slog.Logger) (discovery.Registry, error) {
	if addr == "" {
		log.Info("consul address not provided, service discovery disabled")
		return nil, nil
	}
	return consul.NewRegistry(addr)
}
