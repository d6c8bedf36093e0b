// The engine service: seeds one book per configured market, then serves the
// order and user queues until terminated.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orbitex/exchange-core/internal/config"
	"github.com/orbitex/exchange-core/internal/engine"
	"github.com/orbitex/exchange-core/internal/events"
	"github.com/orbitex/exchange-core/internal/ledger"
	"github.com/orbitex/exchange-core/internal/model"
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

	sinks := events.Multi{events.NewRedisPublisher(transport, redisq.QueueDatabase, log)}
	if cfg.Kafka.Enabled {
		kafkaSink := events.NewKafkaTradeSink(cfg.Kafka.Brokers, cfg.Kafka.TradeTopic, log)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}

	eng := engine.New(ledger.New(), sinks, log)
	for _, symbol := range cfg.Markets {
		pair, err := model.ParseMarket(symbol)
		if err != nil {
			log.Fatal("bad market in config", zap.String("market", symbol), zap.Error(err))
		}
		lastTradeID, err := db.LatestTradeID(ctx, symbol)
		if err != nil {
			log.Fatal("seed trade id", zap.String("market", symbol), zap.Error(err))
		}
		if err := eng.AddMarket(pair, lastTradeID); err != nil {
			log.Fatal("register market", zap.String("market", symbol), zap.Error(err))
		}
	}

	go serveMetrics(cfg.MetricsAddr, log)

	log.Info("engine started",
		zap.Strings("markets", cfg.Markets),
		zap.String("redis", cfg.Redis.Addr))
	engine.NewDispatcher(eng, transport, log).Run(ctx)
	log.Info("engine stopped")
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}
