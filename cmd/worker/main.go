package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mtd-vat-service/internal/archive"
	"mtd-vat-service/internal/bundles"
	"mtd-vat-service/internal/config"
	"mtd-vat-service/internal/coordinator"
	"mtd-vat-service/internal/queue"
	"mtd-vat-service/internal/store"
	"mtd-vat-service/internal/telemetry"
	"mtd-vat-service/internal/vat"
	"mtd-vat-service/internal/worker"
)

func main() {
	cfg := config.Load()

	log, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN, cfg.RecordTTL)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal("migrations", zap.Error(err))
	}

	q := queue.NewRedisQueue(cfg)

	bundleSvc := bundles.NewService(bundles.DefaultCatalog(), bundles.NewPostgresGrants(st.Pool()), log)
	vatSvc := vat.NewService(vat.NewStubClient(), log)

	registry := coordinator.NewRegistry()
	bundleSvc.Register(registry)
	vatSvc.Register(registry)

	executor := worker.NewExecutor(cfg, q, st, registry, log)
	if receipts, err := archive.NewReceipts(ctx, cfg, log); err != nil {
		log.Fatal("init receipt archiver", zap.Error(err))
	} else if receipts != nil {
		executor.SetArchiver(receipts)
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	log.Info("worker started",
		zap.Duration("visibility", cfg.VisibilityTimeout),
		zap.Int("max_deliveries", cfg.MaxDeliveries))
	if err := executor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
