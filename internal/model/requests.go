package model

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MessageType tags a queued request envelope.
type MessageType string

const (
	MsgOrderCreate    MessageType = "order.create"
	MsgOrderCancel    MessageType = "order.cancel"
	MsgOrderCancelAll MessageType = "order.cancel_all"
	MsgOrderOpen      MessageType = "order.open"
	MsgOrdersOpen     MessageType = "orders.open"
	MsgDepthGet       MessageType = "depth.get"
	MsgUserCreate     MessageType = "user.create"
)

// Envelope wraps one inbound request on the orders or users queue. The
// correlation id is opaque to the engine: the dispatcher echoes replies to it
// and nothing else reads it.
type Envelope struct {
	Type          MessageType     `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope marshals data into a request envelope with a fresh correlation id.
func NewEnvelope(t MessageType, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, CorrelationID: uuid.NewString(), Data: raw}, nil
}

// CreateOrder is the inbound payload for order creation.
type CreateOrder struct {
	Market   string          `json:"market"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Side     string          `json:"side"`
	Type     string          `json:"type,omitempty"` // defaults to LIMIT
	UserID   string          `json:"user_id"`
}

// CancelOrder identifies a single resting order. Price and side are required
// so the book can locate the exact level without a full scan.
type CancelOrder struct {
	OrderID uuid.UUID       `json:"order_id"`
	UserID  string          `json:"user_id"`
	Price   decimal.Decimal `json:"price"`
	Side    string          `json:"side"`
	Market  string          `json:"market"`
}

// CancelAllOrders removes every resting order of one user in one market.
type CancelAllOrders struct {
	UserID string `json:"user_id"`
	Market string `json:"market"`
}

// GetOpenOrder looks up one resting order.
type GetOpenOrder struct {
	UserID  string    `json:"user_id"`
	OrderID uuid.UUID `json:"order_id"`
	Market  string    `json:"market"`
}

// GetOpenOrders lists a user's resting orders in one market.
type GetOpenOrders struct {
	UserID string `json:"user_id"`
	Market string `json:"market"`
}

// GetDepth requests the aggregated book for one market.
type GetDepth struct {
	Symbol string `json:"symbol"`
}

// CreateUser establishes a user and optionally seeds per-asset available
// balances. Users must exist before they may trade; trading against an
// unknown user is an error, never an implicit insert.
type CreateUser struct {
	UserID   string                     `json:"user_id"`
	Balances map[string]decimal.Decimal `json:"balances,omitempty"`
}

// Reply statuses on the correlation channel.
const (
	ReplyOK    = "ok"
	ReplyError = "error"
)

// Reply is the response published to a request's correlation channel.
type Reply struct {
	Status  string          `json:"status"`
	Error   string          `json:"error,omitempty"`
	OrderID string          `json:"order_id,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OKReply builds a success reply carrying an optional JSON body.
func OKReply(body any) Reply {
	r := Reply{Status: ReplyOK}
	if body != nil {
		if raw, err := json.Marshal(body); err == nil {
			r.Data = raw
		}
	}
	return r
}

// ErrReply builds an error reply from err.
func ErrReply(err error) Reply {
	return Reply{Status: ReplyError, Error: err.Error()}
}
