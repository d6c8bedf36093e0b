// Package orderbook implements the price-time-priority matching book for a
// single market. The book owns its resting orders exclusively; callers get
// copies for reporting. It performs no balance accounting and assumes the
// engine has already validated that an order belongs to this market.
package orderbook

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/orbitex/exchange-core/internal/model"
)

// priceLevel holds the FIFO queue of resting orders at one price. Arrival
// order within a level is the time component of price-time priority.
type priceLevel struct {
	price  decimal.Decimal
	orders []*model.Order
}

func levelLess(a, b *priceLevel) bool {
	return a.price.LessThan(b.price)
}

// OrderBook is the resting bid/ask ladder for one market. It is not safe for
// concurrent use; the engine serializes access.
type OrderBook struct {
	pair    model.AssetPair
	bids    *btree.BTreeG[*priceLevel] // ascending; best bid is the last level
	asks    *btree.BTreeG[*priceLevel] // ascending; best ask is the first level
	tradeID int64
}

// New creates an empty book. lastTradeID is the highest trade id previously
// persisted for this market; the first fill gets lastTradeID+1 so identifiers
// keep increasing across restarts.
func New(pair model.AssetPair, lastTradeID int64) *OrderBook {
	return &OrderBook{
		pair:    pair,
		bids:    btree.NewBTreeG(levelLess),
		asks:    btree.NewBTreeG(levelLess),
		tradeID: lastTradeID,
	}
}

// Symbol returns the market symbol this book serves.
func (b *OrderBook) Symbol() string { return b.pair.Symbol() }

// Pair returns the asset pair this book serves.
func (b *OrderBook) Pair() model.AssetPair { return b.pair }

// LastTradeID returns the most recently assigned trade id.
func (b *OrderBook) LastTradeID() int64 { return b.tradeID }

// ProcessOrder matches the incoming order against the opposing side and, for
// LIMIT orders, rests any unfilled remainder at its own price level. Market
// orders never rest: the caller releases the remainder's reservation.
//
// Levels are visited in favorable price order (cheapest ask first for a BUY,
// richest bid first for a SELL) and orders within a level in arrival order.
// Matching stops as soon as a level's price is no longer acceptable or the
// order is fully executed. Each fill is clamped to both participants'
// remaining capacity; zero-quantity fills are skipped, not errors.
func (b *OrderBook) ProcessOrder(o *model.Order) model.ProcessOrderResult {
	executed := decimal.Zero
	var fills []model.Fill
	var emptied []*priceLevel

	match := func(lvl *priceLevel) bool {
		if o.Side == model.SideBuy && lvl.price.GreaterThan(o.Price) {
			return false
		}
		if o.Side == model.SideSell && lvl.price.LessThan(o.Price) {
			return false
		}
		for _, resting := range lvl.orders {
			remaining := o.Quantity.Sub(executed)
			if !remaining.IsPositive() {
				break
			}
			filled := decimal.Min(remaining, resting.Remaining())
			if !filled.IsPositive() {
				continue
			}
			b.tradeID++
			executed = executed.Add(filled)
			resting.FilledQuantity = resting.FilledQuantity.Add(filled)
			if resting.Remaining().IsPositive() {
				resting.Status = model.StatusPartiallyFilled
			} else {
				resting.Status = model.StatusFilled
			}
			fills = append(fills, model.Fill{
				Price:       lvl.price,
				Quantity:    filled,
				TradeID:     b.tradeID,
				OrderID:     o.ID,
				OtherUserID: resting.UserID,
			})
		}
		kept := lvl.orders[:0]
		for _, r := range lvl.orders {
			if r.Remaining().IsPositive() {
				kept = append(kept, r)
			}
		}
		lvl.orders = kept
		if len(lvl.orders) == 0 {
			emptied = append(emptied, lvl)
		}
		return executed.LessThan(o.Quantity)
	}

	if o.Side == model.SideBuy {
		b.asks.Scan(match)
	} else {
		b.bids.Reverse(match)
	}

	// Deleting inside Scan/Reverse would invalidate the iteration.
	for _, lvl := range emptied {
		b.sideFor(opposite(o.Side)).Delete(lvl)
	}

	o.FilledQuantity = executed
	switch {
	case executed.Equal(o.Quantity):
		o.Status = model.StatusFilled
	case executed.IsPositive():
		o.Status = model.StatusPartiallyFilled
	default:
		o.Status = model.StatusPending
	}

	if o.Remaining().IsPositive() && o.Type == model.TypeLimit {
		b.rest(o)
	}

	return model.ProcessOrderResult{ExecutedQuantity: executed, Fills: fills}
}

// rest appends the order to its price level on its own side, creating the
// level if absent.
func (b *OrderBook) rest(o *model.Order) {
	side := b.sideFor(o.Side)
	key := &priceLevel{price: o.Price}
	lvl, ok := side.Get(key)
	if !ok {
		lvl = &priceLevel{price: o.Price}
		side.Set(lvl)
	}
	lvl.orders = append(lvl.orders, o)
}

// CancelOrder removes the order with the given id from the exact price level
// on the given side. It returns the removed order and true, or false if the
// level or order is absent. There is no partial cancellation.
func (b *OrderBook) CancelOrder(userID string, orderID uuid.UUID, price decimal.Decimal, side string) (model.Order, bool) {
	tree := b.sideFor(side)
	lvl, ok := tree.Get(&priceLevel{price: price})
	if !ok {
		return model.Order{}, false
	}
	for i, o := range lvl.orders {
		if o.ID == orderID && o.UserID == userID {
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			if len(lvl.orders) == 0 {
				tree.Delete(lvl)
			}
			removed := *o
			removed.Status = model.StatusCancelled
			return removed, true
		}
	}
	return model.Order{}, false
}

// CancelAllOrders removes every resting order belonging to the user on both
// sides and returns the removed orders so the caller can reconcile the
// remaining reservations.
func (b *OrderBook) CancelAllOrders(userID string) []model.Order {
	var removed []model.Order
	for _, tree := range []*btree.BTreeG[*priceLevel]{b.bids, b.asks} {
		var emptied []*priceLevel
		tree.Scan(func(lvl *priceLevel) bool {
			kept := lvl.orders[:0]
			for _, o := range lvl.orders {
				if o.UserID == userID {
					out := *o
					out.Status = model.StatusCancelled
					removed = append(removed, out)
					continue
				}
				kept = append(kept, o)
			}
			lvl.orders = kept
			if len(lvl.orders) == 0 {
				emptied = append(emptied, lvl)
			}
			return true
		})
		for _, lvl := range emptied {
			tree.Delete(lvl)
		}
	}
	return removed
}

// OpenOrder scans both sides for a resting order by user and id.
func (b *OrderBook) OpenOrder(userID string, orderID uuid.UUID) (model.Order, bool) {
	var found model.Order
	ok := false
	scan := func(lvl *priceLevel) bool {
		for _, o := range lvl.orders {
			if o.ID == orderID && o.UserID == userID {
				found = *o
				ok = true
				return false
			}
		}
		return true
	}
	b.bids.Scan(scan)
	if !ok {
		b.asks.Scan(scan)
	}
	return found, ok
}

// OpenOrders returns copies of all the user's resting orders, bids first.
func (b *OrderBook) OpenOrders(userID string) []model.Order {
	var out []model.Order
	scan := func(lvl *priceLevel) bool {
		for _, o := range lvl.orders {
			if o.UserID == userID {
				out = append(out, *o)
			}
		}
		return true
	}
	b.bids.Scan(scan)
	b.asks.Scan(scan)
	return out
}

// Depth aggregates the unfilled resting quantity per price level. Asks come
// back ascending by price and bids descending, best level first on both
// sides. Purely derived; the book is not mutated.
func (b *OrderBook) Depth() model.Depth {
	depth := model.Depth{}
	b.bids.Reverse(func(lvl *priceLevel) bool {
		depth.Bids = append(depth.Bids, model.PriceLevel{Price: lvl.price, Quantity: lvl.total()})
		return true
	})
	b.asks.Scan(func(lvl *priceLevel) bool {
		depth.Asks = append(depth.Asks, model.PriceLevel{Price: lvl.price, Quantity: lvl.total()})
		return true
	})
	return depth
}

func (lvl *priceLevel) total() decimal.Decimal {
	sum := decimal.Zero
	for _, o := range lvl.orders {
		sum = sum.Add(o.Remaining())
	}
	return sum
}

func (b *OrderBook) sideFor(side string) *btree.BTreeG[*priceLevel] {
	if side == model.SideBuy {
		return b.bids
	}
	return b.asks
}

func opposite(side string) string {
	if side == model.SideBuy {
		return model.SideSell
	}
	return model.SideBuy
}
