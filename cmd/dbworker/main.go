// The persistence worker: drains the database queue and writes trades and
// order snapshots to Postgres.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/orbitex/exchange-core/internal/config"
	"github.com/orbitex/exchange-core/internal/store"
	"github.com/orbitex/exchange-core/internal/transport/redisq"
	"github.com/orbitex/exchange-core/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := redisq.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Fatal("connect redis", zap.Error(err))
	}
	defer transport.Close()

	db, err := store.New(cfg.Database.DSN, log)
	if err != nil {
		log.Fatal("connect database", zap.Error(err))
	}

	log.Info("db worker started")
	store.NewWorker(db, transport, log).Run(ctx)
	log.Info("db worker stopped")
}
