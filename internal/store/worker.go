package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orbitex/exchange-core/internal/events"
	"github.com/orbitex/exchange-core/internal/transport/redisq"
	"github.com/orbitex/exchange-core/pkg/metrics"
)

// Persister is the slice of Store the worker writes through.
type Persister interface {
	InsertTrade(ctx context.Context, t events.Trade) error
	UpsertOrder(ctx context.Context, o events.OrderUpdate) error
}

// Queue is the blocking pop the worker consumes. Pop returns (nil, nil) when
// the queue stayed empty for the timeout.
type Queue interface {
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
}

// Worker drains the database queue and persists each record. Write failures
// retry a few times with backoff, then the record is dropped and counted;
// durable persistence is best effort and never blocks the queue forever.
type Worker struct {
	store      Persister
	queue      Queue
	log        *zap.Logger
	popTimeout time.Duration
	maxRetries int
}

func NewWorker(store Persister, queue Queue, log *zap.Logger) *Worker {
	return &Worker{
		store:      store,
		queue:      queue,
		log:        log,
		popTimeout: 5 * time.Second,
		maxRetries: 3,
	}
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := w.queue.Pop(ctx, redisq.QueueDatabase, w.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := redisq.Backoff(attempt)
			attempt++
			w.log.Warn("database queue pop failed",
				zap.Duration("retry_in", delay),
				zap.Error(err))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}
		attempt = 0
		if payload == nil {
			continue
		}
		w.persist(ctx, payload)
	}
}

func (w *Worker) persist(ctx context.Context, payload []byte) {
	var msg events.DbMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		w.log.Warn("malformed db message dropped", zap.Error(err))
		return
	}

	write, err := w.writerFor(msg)
	if err != nil {
		w.log.Warn("db message dropped", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	for attempt := 0; ; attempt++ {
		err = write(ctx)
		if err == nil {
			return
		}
		if attempt >= w.maxRetries {
			break
		}
		select {
		case <-time.After(redisq.Backoff(attempt)):
		case <-ctx.Done():
			return
		}
	}
	metrics.PersistFailures.WithLabelValues(msg.Type).Inc()
	w.log.Error("record dropped after retries",
		zap.String("type", msg.Type),
		zap.Error(err))
}

func (w *Worker) writerFor(msg events.DbMessage) (func(context.Context) error, error) {
	switch msg.Type {
	case events.DbTradeAdd:
		var trade events.Trade
		if err := json.Unmarshal(msg.Data, &trade); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return w.store.InsertTrade(ctx, trade) }, nil
	case events.DbOrderUpdate:
		var order events.OrderUpdate
		if err := json.Unmarshal(msg.Data, &order); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return w.store.UpsertOrder(ctx, order) }, nil
	}
	return nil, fmt.Errorf("unknown db message type %q", msg.Type)
}
