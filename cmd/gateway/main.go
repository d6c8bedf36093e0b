// The API gateway: terminates REST calls and relays them to the engine over
// the Redis queues.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/orbitex/exchange-core/internal/config"
	"github.com/orbitex/exchange-core/internal/gateway"
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

	srv := gateway.New(transport, cfg.Gateway, log)
	log.Info("gateway started", zap.String("addr", cfg.Gateway.Addr))
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("gateway failed", zap.Error(err))
	}
	log.Info("gateway stopped")
}
