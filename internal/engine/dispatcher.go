package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/orbitex/exchange-core/internal/ledger"
	"github.com/orbitex/exchange-core/internal/model"
	"github.com/orbitex/exchange-core/internal/transport/redisq"
	"github.com/orbitex/exchange-core/pkg/metrics"
)

// Queue is the slice of the transport the dispatcher consumes: a blocking
// pop for inbound requests and a publish for correlation replies. Pop
// returns (nil, nil) when no message arrived before the timeout.
type Queue interface {
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Dispatcher pulls request envelopes off the order and user queues, applies
// them to the engine and publishes each reply on its correlation channel.
// Transport errors back off exponentially; decode errors skip the message.
type Dispatcher struct {
	engine     *Engine
	queue      Queue
	log        *zap.Logger
	popTimeout time.Duration
}

func NewDispatcher(e *Engine, q Queue, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		engine:     e,
		queue:      q,
		log:        log,
		popTimeout: 5 * time.Second,
	}
}

// Run consumes both queues until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, queue := range []string{redisq.QueueOrders, redisq.QueueUsers} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			d.consume(ctx, name)
		}(queue)
	}
	wg.Wait()
}

func (d *Dispatcher) consume(ctx context.Context, queue string) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := d.queue.Pop(ctx, queue, d.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := redisq.Backoff(attempt)
			attempt++
			d.log.Warn("queue pop failed",
				zap.String("queue", queue),
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
		d.handle(ctx, queue, payload)
	}
}

func (d *Dispatcher) handle(ctx context.Context, queue string, payload []byte) {
	var env model.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		d.log.Warn("malformed envelope dropped",
			zap.String("queue", queue),
			zap.Error(err))
		return
	}

	start := time.Now()
	reply := d.apply(ctx, env)
	metrics.RequestLatency.WithLabelValues(string(env.Type)).Observe(time.Since(start).Seconds())
	if reply.Status == model.ReplyError {
		metrics.RequestErrors.WithLabelValues(string(env.Type)).Inc()
	}

	if env.CorrelationID == "" {
		return
	}
	raw, err := json.Marshal(reply)
	if err != nil {
		d.log.Error("marshal reply", zap.String("type", string(env.Type)), zap.Error(err))
		return
	}
	if err := d.queue.Publish(ctx, env.CorrelationID, raw); err != nil {
		d.log.Warn("publish reply",
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err))
	}
}

func (d *Dispatcher) apply(ctx context.Context, env model.Envelope) model.Reply {
	switch env.Type {
	case model.MsgOrderCreate:
		var req model.CreateOrder
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return model.ErrReply(err)
		}
		order, err := d.engine.CreateOrder(ctx, req)
		if err != nil {
			return model.ErrReply(err)
		}
		reply := model.OKReply(order)
		reply.OrderID = order.ID.String()
		return reply

	case model.MsgOrderCancel:
		var req model.CancelOrder
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return model.ErrReply(err)
		}
		order, err := d.engine.CancelOrder(ctx, req)
		if err != nil {
			return model.ErrReply(err)
		}
		reply := model.OKReply(order)
		reply.OrderID = order.ID.String()
		return reply

	case model.MsgOrderCancelAll:
		var req model.CancelAllOrders
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return model.ErrReply(err)
		}
		removed, err := d.engine.CancelAllOrders(ctx, req)
		if err != nil {
			return model.ErrReply(err)
		}
		return model.OKReply(removed)

	case model.MsgOrderOpen:
		var req model.GetOpenOrder
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return model.ErrReply(err)
		}
		order, err := d.engine.OpenOrder(req)
		if err != nil {
			return model.ErrReply(err)
		}
		return model.OKReply(order)

	case model.MsgOrdersOpen:
		var req model.GetOpenOrders
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return model.ErrReply(err)
		}
		orders, err := d.engine.OpenOrders(req)
		if err != nil {
			return model.ErrReply(err)
		}
		return model.OKReply(orders)

	case model.MsgDepthGet:
		var req model.GetDepth
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return model.ErrReply(err)
		}
		depth, err := d.engine.Depth(req.Symbol)
		if err != nil {
			return model.ErrReply(err)
		}
		return model.OKReply(depth)

	case model.MsgUserCreate:
		var req model.CreateUser
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return model.ErrReply(err)
		}
		if err := d.createUser(req); err != nil {
			return model.ErrReply(err)
		}
		reply := model.OKReply(nil)
		reply.UserID = req.UserID
		return reply
	}
	return model.ErrReply(fmt.Errorf("unknown message type %q", env.Type))
}

// createUser registers the user and seeds any initial balances. Assets are
// validated before the user is created so a bad symbol rejects the whole
// request instead of leaving a half-seeded account.
func (d *Dispatcher) createUser(req model.CreateUser) error {
	seed := make(map[model.Asset]decimal.Decimal, len(req.Balances))
	for symbol, amount := range req.Balances {
		asset, err := model.ParseAsset(symbol)
		if err != nil {
			return err
		}
		if amount.IsNegative() {
			return fmt.Errorf("initial balance %s %s: %w", amount, asset, ledger.ErrNegativeAmount)
		}
		seed[asset] = amount
	}
	if err := d.engine.CreateUser(req.UserID); err != nil {
		return err
	}
	for asset, amount := range seed {
		if err := d.engine.Deposit(req.UserID, asset, amount); err != nil {
			return err
		}
	}
	return nil
}
