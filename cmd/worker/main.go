package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gracelog/internal/audit"
	"gracelog/internal/config"
	"gracelog/internal/session"
	"gracelog/internal/store"
)

// Worker follows session events on redis and writes them to the audit trail.
func main() {
	cfg := config.Load()
	newLogger := zap.NewDevelopment
	if cfg.Production() {
		newLogger = zap.NewProduction
	}
	log, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := store.NewDB(connectCtx, cfg.DBDriver, cfg.DatabaseURL)
	if err == nil && cfg.AutoMigrate {
		err = db.Migrate(connectCtx)
	}
	cancel()
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	if cfg.SessionBus == "memory" {
		log.Fatal("the audit worker needs SESSION_BUS=redis to see server events")
	}
	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		log.Warn("redis not reachable yet", zap.String("addr", cfg.RedisAddr))
	}

	bus := session.NewRedisBus(rdb.Client, session.DefaultChannel, log)
	log.Info("worker started, waiting for session events", zap.String("channel", session.DefaultChannel))
	if err := audit.Consume(ctx, bus, audit.NewRepository(db.Client), log); err != nil {
		log.Fatal("consume failed", zap.Error(err))
	}
	log.Info("worker stopped")
}
