package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fieldops/internal/auth"
	"fieldops/internal/config"
	"fieldops/internal/db"
	"fieldops/internal/events"
	internalhttp "fieldops/internal/http"
	"fieldops/internal/jobs"
	"fieldops/internal/logger"
	"fieldops/internal/repository"
	"fieldops/internal/storage"
)

func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL, zl); err != nil {
			zl.Fatal("migration failed", zap.Error(err))
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("db connection failed", zap.Error(err))
	}
	defer pool.Close()

	odometer := events.NewOdometerRecorded()
	deps := internalhttp.Deps{
		Odometer: odometer,
		Metrics:  internalhttp.NewMetrics(),
		Logger:   zl,
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rdb.Close() }()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			zl.Fatal("redis connection failed", zap.Error(err))
		}
		relay := events.NewRedisRelay(rdb, odometer, uuid.NewString(), zl)
		go relay.Run(ctx)
		deps.Revoker = auth.NewRedisRevoker(rdb)
		deps.Relay = relay
	} else {
		zl.Warn("REDIS_ADDR not set; token revocation and odometer events stay in this process")
	}

	if cfg.Storage.Endpoint != "" || cfg.Storage.AccessKey != "" {
		photos, err := storage.NewS3Store(ctx, cfg.Storage, zl)
		if err != nil {
			zl.Fatal("storage setup failed", zap.Error(err))
		}
		if err := photos.EnsureBucket(ctx); err != nil {
			zl.Fatal("storage bucket check failed", zap.Error(err))
		}
		deps.Photos = photos
	} else {
		zl.Warn("S3 not configured; odometer photos are kept in memory")
	}

	store := repository.NewStore(db.NewStore(pool))
	server := internalhttp.NewServer(cfg, store, deps)
	jobs.StartStaleSessionJob(ctx, cfg.StaleSessions, store, zl.Named("jobs"))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		// Event streams end when the process is asked to stop.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		zl.Info("fieldops listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown error", zap.Error(err))
	}
}
