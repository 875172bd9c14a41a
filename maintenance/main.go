package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/broker"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/config"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/consumer"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/discovery"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/discovery/consul"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/logger"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/metrics"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/tracing"
)

// serviceName doubles as the request queue prefix, so it must match the
// service this block is registered under in the core's route table.
const serviceName = "vehicle_maintenance"

var (
	instanceID  = config.GetEnv("INSTANCE_ID", "")
	metricsAddr = config.GetEnv("METRICS_ADDR", "localhost:8002")
	consulAddr  = config.GetEnv("CONSUL_ADDR", "")

	// Leaving POSTGRES_HOST empty keeps the block on its in-memory store.
	postgresHost = config.GetEnv("POSTGRES_HOST", "")
	postgresPort = config.GetEnv("POSTGRES_PORT", "5432")
	postgresUser = config.GetEnv("POSTGRES_USER", "maintenance")
	postgresPass = config.GetEnv("POSTGRES_PASSWORD", "maintenance123")
	postgresDB   = config.GetEnv("POSTGRES_DB", "maintenance")

	// Leaving REDIS_ADDR empty skips the cache layer.
	redisAddr = config.GetEnv("REDIS_ADDR", "")
	cacheTTL  = 5 * time.Minute

	sweepEvery    = time.Minute
	shutdownGrace = 10 * time.Second
)

func main() {
	if instanceID == "" {
		instanceID = discovery.GenerateInstanceID(serviceName)
	}

	log := logger.New(serviceName)
	log.Info("starting service",
		slog.String("instance_id", instanceID),
		slog.String("metrics_addr", metricsAddr),
	)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownTracer, err := tracing.InitTracer(serviceName)
	if err != nil {
		log.Error("failed to initialize tracer", slog.Any("error", err))
		os.Exit(1)
	}
	defer shutdownTracer(context.Background())

	store, err := buildStore(log)
	if err != nil {
		log.Error("failed to build store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	client := broker.NewClient(broker.Options{
		URL:         cfg.Broker.URL,
		ServiceName: serviceName,
		Heartbeat:   cfg.Broker.Heartbeat(),
		Prefetch:    cfg.Broker.Prefetch,
	}, log, metrics.NewBrokerMetrics(serviceName))

	h := newHandlers(store, client, log)
	cons := consumer.New(serviceName, client, consumer.Options{
		DedupCapacity: cfg.Dedup.Capacity,
		DedupTrimTo:   cfg.Dedup.TrimTo,
	}, log, metrics.NewConsumerMetrics(serviceName))
	h.register(cons)

	events := newEventConsumer(store, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		log.Error("failed to connect to broker", slog.Any("error", err))
		os.Exit(1)
	}
	defer client.Close()

	if err := cons.Start(client); err != nil {
		log.Error("failed to start request consumer", slog.Any("error", err))
		os.Exit(1)
	}
	if err := events.Start(client); err != nil {
		log.Error("failed to start event consumer", slog.Any("error", err))
		os.Exit(1)
	}

	if consulAddr != "" {
		registry, err := consul.NewRegistry(consulAddr)
		if err != nil {
			log.Error("failed to create consul registry", slog.Any("error", err))
			os.Exit(1)
		}
		registration, err := discovery.Register(ctx, registry, instanceID, serviceName, metricsAddr, log)
		if err != nil {
			log.Error("failed to register with consul", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := registration.Deregister(context.Background()); err != nil {
				log.Error("deregister error", slog.Any("error", err))
			}
		}()
	}

	go h.sweepOverdue(ctx, sweepEvery)

	httpServer := &http.Server{Addr: metricsAddr, Handler: opsHandler(client, cons)}
	go func() {
		log.Info("starting operational endpoints", slog.String("addr", metricsAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("operational listener failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", slog.Any("error", err))
	}
}

// buildStore picks the deepest storage stack the environment provides:
// PostgreSQL when POSTGRES_HOST is set, wrapped in the Redis cache when
// REDIS_ADDR is set too. With neither, state lives in memory.
func buildStore(log *slog.Logger) (Store, error) {
	if postgresHost == "" {
		log.Info("POSTGRES_HOST not set, using in-memory store")
		return NewMemoryStore(), nil
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPass, postgresHost, postgresPort, postgresDB)
	pg, err := NewPostgresStore(connStr)
	if err != nil {
		return nil, err
	}
	log.Info("connected to postgres", slog.String("database", postgresDB))

	if redisAddr == "" {
		return pg, nil
	}
	cache, err := NewCache(redisAddr, cacheTTL)
	if err != nil {
		pg.Close()
		return nil, err
	}
	log.Info("connected to redis",
		slog.String("addr", redisAddr),
		slog.Duration("ttl", cacheTTL),
	)
	return NewCachedStore(pg, cache, log), nil
}

// opsHandler exposes the block's probes and metrics. Domain traffic never
// arrives over HTTP; it comes in on the request queue.
func opsHandler(client *broker.Client, cons *consumer.Consumer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		state := "healthy"
		if !client.IsConnected() {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status":   state,
			"service":  serviceName,
			"consumer": cons.Stats(),
		})
	})
	return mux
}
