package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/factory"
	"github.com/lychee-technology/fulltext/internal/logging"
)

func main() {
	cfg, err := fulltext.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := factory.NewPool(ctx, cfg.Database)
	if err != nil {
		sugar.Fatalf("failed to create database pool: %v", err)
	}
	defer pool.Close()

	cat, err := factory.LoadCatalog(ctx, cfg, pool)
	if err != nil {
		sugar.Fatalf("failed to load catalog: %v", err)
	}

	eng, err := factory.NewEngine(cfg, pool, cat, prometheus.DefaultRegisterer)
	if err != nil {
		sugar.Fatalf("failed to create engine: %v", err)
	}

	server, err := NewServer(eng, pool, cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		sugar.Fatalf("failed to create server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			sugar.Fatalf("server error: %v", err)
		}
	case <-ctx.Done():
		sugar.Infow("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			sugar.Errorw("graceful shutdown failed", "error", err)
		}
	}
}
