package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/config"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/discovery"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/logger"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/tracing"
)

func main() {
	// Load .env before anything reads the environment.
	dotenvErr := godotenv.Load()

	svc := ServiceConfig{
		InstanceID:  config.GetEnv("INSTANCE_ID", ""),
		MetricsAddr: config.GetEnv("METRICS_ADDR", "localhost:8001"),
		ConsulAddr:  config.GetEnv("CONSUL_ADDR", ""),
	}
	if svc.InstanceID == "" {
		svc.InstanceID = discovery.GenerateInstanceID(serviceName)
	}

	log := logger.New(serviceName)
	if dotenvErr != nil {
		log.Info("no .env file found, using environment")
	}
	log.Info("starting service",
		slog.String("instance_id", svc.InstanceID),
		slog.String("metrics_addr", svc.MetricsAddr),
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

	app, err := NewApp(svc, cfg, log)
	if err != nil {
		log.Error("failed to create app", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		if err := app.Shutdown(ctx); err != nil {
			log.Error("error during shutdown", slog.Any("error", err))
		}
		cancel()
	}()

	if err := app.Start(ctx); err != nil {
		log.Error("failed to start app", slog.Any("error", err))
		os.Exit(1)
	}
}
