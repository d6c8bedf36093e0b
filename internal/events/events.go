// Package events carries the side effects of matching out of the engine:
// trade ticks and depth snapshots for stream consumers plus persistence
// records for the database worker. Publishing is fire and forget; a failing
// sink is logged and never rolls back engine state.
package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stream event type tags.
const (
	EventTrade = "trade"
	EventDepth = "depth"
)

// Stream name prefixes, joined with the market symbol.
const (
	StreamTradePrefix = "trade."
	StreamDepthPrefix = "depth."
)

// Trade is one executed fill with both participants, as produced by the
// engine and persisted by the database worker.
type Trade struct {
	TradeID      int64           `json:"trade_id"`
	Market       string          `json:"market"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	BuyerUserID  string          `json:"buyer_user_id"`
	SellerUserID string          `json:"seller_user_id"`
	BuyerMaker   bool            `json:"buyer_maker"`
	Timestamp    int64           `json:"timestamp"` // unix millis
}

// Stream projects the trade onto the compact single-letter wire format the
// public trade stream uses. Participant identities are not exposed there.
func (t Trade) Stream() TradeEvent {
	return TradeEvent{
		Type:       EventTrade,
		TradeID:    t.TradeID,
		BuyerMaker: t.BuyerMaker,
		Price:      t.Price,
		Quantity:   t.Quantity,
		Symbol:     t.Market,
		Timestamp:  t.Timestamp,
	}
}

// TradeEvent is the public trade stream frame.
type TradeEvent struct {
	Type       string          `json:"e"` // always EventTrade
	TradeID    int64           `json:"t"`
	BuyerMaker bool            `json:"m"`
	Price      decimal.Decimal `json:"p"`
	Quantity   decimal.Decimal `json:"q"`
	Symbol     string          `json:"s"`
	Timestamp  int64           `json:"T"` // unix millis
}

// DepthEvent is a full aggregated book snapshot on the depth stream. Levels
// are [price, quantity] string pairs, asks ascending and bids best-first.
type DepthEvent struct {
	Type   string      `json:"e"` // always EventDepth
	Symbol string      `json:"s"`
	Bids   [][2]string `json:"b"`
	Asks   [][2]string `json:"a"`
}

// OrderUpdate is the persistence record for an order's latest state.
type OrderUpdate struct {
	OrderID        uuid.UUID       `json:"order_id"`
	UserID         string          `json:"user_id"`
	Market         string          `json:"market"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Side           string          `json:"side"`
	Status         string          `json:"status"`
	Timestamp      int64           `json:"timestamp"`
}

// Database queue message types.
const (
	DbTradeAdd    = "trade.add"
	DbOrderUpdate = "order.update"
)

// DbMessage wraps one persistence record on the database queue.
type DbMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WsMessage is the frame delivered to websocket clients: the stream it came
// from plus the raw event payload.
type WsMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Publisher receives the engine's side effects. Implementations must not
// block matching for long and must swallow their own failures.
type Publisher interface {
	TradeExecuted(ctx context.Context, trade Trade)
	DepthChanged(ctx context.Context, depth DepthEvent)
	OrderUpdated(ctx context.Context, order OrderUpdate)
}

// Multi fans one event out to several sinks in order.
type Multi []Publisher

func (m Multi) TradeExecuted(ctx context.Context, trade Trade) {
	for _, p := range m {
		p.TradeExecuted(ctx, trade)
	}
}

func (m Multi) DepthChanged(ctx context.Context, depth DepthEvent) {
	for _, p := range m {
		p.DepthChanged(ctx, depth)
	}
}

func (m Multi) OrderUpdated(ctx context.Context, order OrderUpdate) {
	for _, p := range m {
		p.OrderUpdated(ctx, order)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) TradeExecuted(context.Context, Trade)      {}
func (Nop) DepthChanged(context.Context, DepthEvent)  {}
func (Nop) OrderUpdated(context.Context, OrderUpdate) {}
