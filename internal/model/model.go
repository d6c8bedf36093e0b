// Package model holds the core domain types shared by the matching engine,
// the transport layer and the persistence workers.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Asset is a member of the closed asset catalog. Symbols outside the catalog
// are rejected at the boundary by ParseAsset; no component constructs Asset
// values from raw strings directly.
type Asset string

const (
	AssetUSDC Asset = "USDC"
	AssetUSDT Asset = "USDT"
	AssetBTC  Asset = "BTC"
	AssetETH  Asset = "ETH"
	AssetSOL  Asset = "SOL"
)

// ParseAsset validates a symbol against the asset catalog.
func ParseAsset(s string) (Asset, error) {
	switch Asset(s) {
	case AssetUSDC, AssetUSDT, AssetBTC, AssetETH, AssetSOL:
		return Asset(s), nil
	}
	return "", fmt.Errorf("unsupported asset: %q", s)
}

// AssetPair identifies one market. The market symbol is "BASE_QUOTE".
type AssetPair struct {
	Base  Asset `json:"base"`
	Quote Asset `json:"quote"`
}

// Symbol returns the market symbol for the pair, e.g. "SOL_USDC".
func (p AssetPair) Symbol() string {
	return string(p.Base) + "_" + string(p.Quote)
}

// ParseMarket splits a market symbol into a validated asset pair.
func ParseMarket(symbol string) (AssetPair, error) {
	parts := strings.Split(symbol, "_")
	if len(parts) != 2 {
		return AssetPair{}, fmt.Errorf("malformed market symbol: %q", symbol)
	}
	base, err := ParseAsset(parts[0])
	if err != nil {
		return AssetPair{}, err
	}
	quote, err := ParseAsset(parts[1])
	if err != nil {
		return AssetPair{}, err
	}
	return AssetPair{Base: base, Quote: quote}, nil
}

// Order sides, types and statuses.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	// TypeLimit rests any unfilled remainder in the book. TypeMarket matches
	// up to its protection price and releases the remainder immediately.
	TypeLimit  = "LIMIT"
	TypeMarket = "MARKET"

	StatusPending         = "PENDING"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCancelled       = "CANCELLED"
)

// ValidSide reports whether s is a known order side.
func ValidSide(s string) bool { return s == SideBuy || s == SideSell }

// Order is a limit or market order. FilledQuantity never exceeds Quantity;
// once an order is removed from a book the book keeps no trace of it, so
// copies handed out for reporting are plain values.
type Order struct {
	ID             uuid.UUID       `json:"order_id"`
	UserID         string          `json:"user_id"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	Timestamp      int64           `json:"timestamp"` // unix millis, server-assigned
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Fill is one matched quantity at one price between the incoming taker order
// and one resting maker order. TradeID is strictly increasing per market.
type Fill struct {
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	TradeID     int64           `json:"trade_id"`
	OrderID     uuid.UUID       `json:"order_id"`      // the taker order
	OtherUserID string          `json:"other_user_id"` // the maker
}

// ProcessOrderResult is the aggregate outcome of one matching pass.
type ProcessOrderResult struct {
	ExecutedQuantity decimal.Decimal `json:"executed_quantity"`
	Fills            []Fill          `json:"fills"`
}

// PriceLevel is one aggregated depth entry: total resting quantity at a price.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Depth is the aggregated book: asks ascending by price, bids descending
// (best level first on both sides).
type Depth struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// NowMillis returns the server timestamp used on orders and trades.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
