package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mtd-vat-service/internal/api"
	"mtd-vat-service/internal/bundles"
	"mtd-vat-service/internal/config"
	"mtd-vat-service/internal/coordinator"
	"mtd-vat-service/internal/queue"
	"mtd-vat-service/internal/ratelimit"
	"mtd-vat-service/internal/store"
	"mtd-vat-service/internal/vat"
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
	limiterClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewUserBucket(limiterClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	bundleSvc := bundles.NewService(bundles.DefaultCatalog(), bundles.NewPostgresGrants(st.Pool()), log)
	vatSvc := vat.NewService(vat.NewStubClient(), log)

	registry := coordinator.NewRegistry()
	bundleSvc.Register(registry)
	vatSvc.Register(registry)

	coord := coordinator.New(st, q, registry, coordinator.Options{
		Inline:       cfg.InlineExecution,
		MaxWait:      cfg.MaxWait,
		PollInterval: cfg.StorePollInterval,
	}, log)

	server := api.New(cfg, coord, bundleSvc, q, limiter, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info("api listening", zap.String("port", cfg.HTTPPort), zap.Bool("inline", cfg.InlineExecution))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
