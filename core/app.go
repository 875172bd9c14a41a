package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/auth"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/breaker"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/broker"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/config"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/correlation"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/discovery"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/discovery/consul"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/health"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/logger"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/metrics"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/retry"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/routing"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/trace"
)

const shutdownGrace = 10 * time.Second

// ServiceConfig carries the deployment-specific settings read from the
// environment; tuning knobs come from config.Config.
type ServiceConfig struct {
	ServiceName string
	InstanceID  string
	HTTPAddr    string
	ConsulAddr  string
}

// App owns every component of the core and wires them explicitly. Nothing
// here is a package-level singleton; tests build a fresh App per case.
type App struct {
	svc ServiceConfig
	cfg *config.Config
	log *slog.Logger

	broker     *broker.Client
	pending    *correlation.Registry
	responses  *correlation.ResponseConsumer
	breakers   *breaker.Registry
	retrier    *retry.Retrier
	router     *routing.Router
	dispatcher *routing.Dispatcher
	tracer     *trace.Tracer
	verifier   *auth.Verifier
	health     *health.Aggregator

	httpMetrics     *metrics.HTTPMetrics
	dispatchMetrics *metrics.DispatchMetrics

	registry     discovery.Registry
	registration *discovery.Registration

	httpServer *http.Server

	// consumerReady flips once the response consumer is subscribed; the
	// readiness probe refuses traffic before that.
	consumerReady atomic.Bool
}

func NewApp(svc ServiceConfig, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = logger.New(svc.ServiceName)
	}

	verifier, err := auth.NewVerifier(auth.Options{
		Secret:    cfg.Auth.Secret,
		Algorithm: cfg.Auth.Algorithm,
	})
	if err != nil {
		return nil, err
	}

	registry, err := createRegistry(svc.ConsulAddr, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		svc:             svc,
		cfg:             cfg,
		log:             log,
		verifier:        verifier,
		registry:        registry,
		httpMetrics:     metrics.NewHTTPMetrics(svc.ServiceName),
		dispatchMetrics: metrics.NewDispatchMetrics(svc.ServiceName),
	}

	a.broker = broker.NewClient(broker.Options{
		URL:         cfg.Broker.URL,
		ServiceName: svc.ServiceName,
		Heartbeat:   cfg.Broker.Heartbeat(),
		Prefetch:    cfg.Broker.Prefetch,
	}, log, metrics.NewBrokerMetrics(svc.ServiceName))

	a.pending = correlation.NewRegistry(0, 0, log)
	a.responses = correlation.NewResponseConsumer(a.pending, log)

	a.breakers = breaker.NewRegistry(breaker.Options{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		OpenTimeout:      cfg.Circuit.OpenTimeout(),
		HalfOpenMax:      cfg.Circuit.HalfOpenMax,
	}, log, func(service string, state gobreaker.State) {
		a.dispatchMetrics.BreakerState.WithLabelValues(service).Set(breaker.StateValue(state))
	})

	a.retrier = retry.New(retry.Options{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay(),
		MaxDelay:    cfg.Retry.MaxDelay(),
		Jitter:      cfg.Retry.Jitter,
	}, log)

	a.router = routing.NewRouter(cfg.Router.Table)
	a.tracer = trace.NewTracer(cfg.Trace.RingCapacity, cfg.Trace.Retention())

	a.dispatcher = routing.NewDispatcher(routing.DispatcherConfig{
		Router:         a.router,
		Broker:         a.broker,
		Registry:       a.pending,
		Breakers:       a.breakers,
		Retrier:        a.retrier,
		Tracer:         a.tracer,
		Metrics:        a.dispatchMetrics,
		Logger:         log,
		DefaultTimeout: cfg.Request.DefaultTimeout(),
	})

	a.health = health.New()
	a.health.AddCheck("broker", true, a.broker.HealthCheck)
	if a.registry != nil {
		a.health.AddCheck("consul", false, func(ctx context.Context) error {
			_, err := a.registry.Discover(ctx, svc.ServiceName)
			return err
		})
	}
	a.health.AddDetail("correlation", func() any { return a.pending.Stats() })
	a.health.AddDetail("traces", func() any { return a.tracer.Stats() })
	a.health.AddDetail("circuit_breakers", func() any { return a.breakers.Snapshots() })

	return a, nil
}

// Start connects the broker, subscribes the response consumer, registers
// with discovery, and serves HTTP until ctx is cancelled or the server dies.
func (a *App) Start(ctx context.Context) error {
	if a.registry != nil {
		registration, err := discovery.Register(
			ctx, a.registry, a.svc.InstanceID, a.svc.ServiceName, a.svc.HTTPAddr, a.log)
		if err != nil {
			return err
		}
		a.registration = registration
	}

	if err := a.broker.Connect(ctx); err != nil {
		return err
	}
	if err := a.responses.Start(a.broker); err != nil {
		return err
	}
	a.consumerReady.Store(true)

	a.httpServer = &http.Server{
		Addr:    a.svc.HTTPAddr,
		Handler: a.buildHandler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("starting http server", slog.String("addr", a.svc.HTTPAddr))
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

// buildHandler assembles the mux and middleware chain.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()

	proxy := newProxyHandler(a.dispatcher, a.verifier, a.tracer, a.log)
	proxy.registerRoutes(mux)

	ops := newHealthHandler(a.svc.ServiceName, a.health, a.breakers, a.tracer, a.isReady, a.log)
	ops.registerRoutes(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	return a.corsMiddleware(a.metricsMiddleware(mux))
}

// isReady reports whether the core can usefully accept proxy traffic.
func (a *App) isReady() bool {
	return a.broker.IsConnected() && a.consumerReady.Load()
}

// Shutdown drains the HTTP server, then tears down in dependency order:
// discovery registration, pending awaiters, tracer, broker connection.
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

	a.consumerReady.Store(false)
	a.pending.Stop()
	a.tracer.Stop()

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
