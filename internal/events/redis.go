package events

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Broker is the slice of the redis transport the publisher needs: pub/sub
// for stream fan-out and a list push for the database queue.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Push(ctx context.Context, queue string, payload []byte) error
}

// RedisPublisher publishes trade and depth events on their market channels
// and enqueues persistence records on the database queue.
type RedisPublisher struct {
	broker  Broker
	dbQueue string
	log     *zap.Logger
}

func NewRedisPublisher(broker Broker, dbQueue string, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{broker: broker, dbQueue: dbQueue, log: log}
}

func (p *RedisPublisher) TradeExecuted(ctx context.Context, trade Trade) {
	p.publish(ctx, StreamTradePrefix+trade.Market, trade.Stream())
	p.enqueue(ctx, DbTradeAdd, trade)
}

func (p *RedisPublisher) DepthChanged(ctx context.Context, depth DepthEvent) {
	p.publish(ctx, StreamDepthPrefix+depth.Symbol, depth)
}

func (p *RedisPublisher) OrderUpdated(ctx context.Context, order OrderUpdate) {
	p.enqueue(ctx, DbOrderUpdate, order)
}

// publish wraps the event in the websocket frame format so stream consumers
// can forward it verbatim.
func (p *RedisPublisher) publish(ctx context.Context, stream string, event any) {
	raw, err := json.Marshal(event)
	if err != nil {
		p.log.Error("marshal stream event", zap.String("stream", stream), zap.Error(err))
		return
	}
	frame, err := json.Marshal(WsMessage{Stream: stream, Data: raw})
	if err != nil {
		p.log.Error("marshal stream frame", zap.String("stream", stream), zap.Error(err))
		return
	}
	if err := p.broker.Publish(ctx, stream, frame); err != nil {
		p.log.Warn("publish stream event", zap.String("stream", stream), zap.Error(err))
	}
}

func (p *RedisPublisher) enqueue(ctx context.Context, msgType string, record any) {
	raw, err := json.Marshal(record)
	if err != nil {
		p.log.Error("marshal db record", zap.String("type", msgType), zap.Error(err))
		return
	}
	msg, err := json.Marshal(DbMessage{Type: msgType, Data: raw})
	if err != nil {
		p.log.Error("marshal db message", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := p.broker.Push(ctx, p.dbQueue, msg); err != nil {
		p.log.Warn("enqueue db record", zap.String("type", msgType), zap.Error(err))
	}
}
