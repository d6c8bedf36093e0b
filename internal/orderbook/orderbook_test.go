package orderbook

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitex/exchange-core/internal/model"
)

func solUSDC() model.AssetPair {
	return model.AssetPair{Base: model.AssetSOL, Quote: model.AssetUSDC}
}

func limit(user, side, price, qty string) *model.Order {
	return &model.Order{
		ID:             uuid.New(),
		UserID:         user,
		Price:          decimal.RequireFromString(price),
		Quantity:       decimal.RequireFromString(qty),
		FilledQuantity: decimal.Zero,
		Side:           side,
		Type:           model.TypeLimit,
		Status:         model.StatusPending,
		Timestamp:      model.NowMillis(),
	}
}

func TestProcessOrderRestsWhenNoMatch(t *testing.T) {
	book := New(solUSDC(), 0)

	buy := limit("alice", model.SideBuy, "10", "5")
	res := book.ProcessOrder(buy)

	assert.True(t, res.ExecutedQuantity.IsZero())
	assert.Empty(t, res.Fills)
	assert.Equal(t, model.StatusPending, buy.Status)

	depth := book.Depth()
	require.Len(t, depth.Bids, 1)
	assert.True(t, depth.Bids[0].Price.Equal(decimal.NewFromInt(10)))
	assert.True(t, depth.Bids[0].Quantity.Equal(decimal.NewFromInt(5)))
	assert.Empty(t, depth.Asks)
}

func TestProcessOrderFullFillSingleMaker(t *testing.T) {
	book := New(solUSDC(), 0)
	ask := limit("bob", model.SideSell, "10", "5")
	book.ProcessOrder(ask)

	buy := limit("alice", model.SideBuy, "10", "5")
	res := book.ProcessOrder(buy)

	assert.True(t, res.ExecutedQuantity.Equal(decimal.NewFromInt(5)))
	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Price.Equal(decimal.NewFromInt(10)))
	assert.True(t, res.Fills[0].Quantity.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, buy.ID, res.Fills[0].OrderID)
	assert.Equal(t, "bob", res.Fills[0].OtherUserID)
	assert.Equal(t, model.StatusFilled, buy.Status)
	assert.Equal(t, model.StatusFilled, ask.Status)

	depth := book.Depth()
	assert.Empty(t, depth.Bids)
	assert.Empty(t, depth.Asks)
}

func TestProcessOrderPartialFillRestsRemainder(t *testing.T) {
	book := New(solUSDC(), 0)
	book.ProcessOrder(limit("bob", model.SideSell, "10", "3"))

	buy := limit("alice", model.SideBuy, "10", "5")
	res := book.ProcessOrder(buy)

	assert.True(t, res.ExecutedQuantity.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, model.StatusPartiallyFilled, buy.Status)
	assert.True(t, buy.Remaining().Equal(decimal.NewFromInt(2)))

	depth := book.Depth()
	require.Len(t, depth.Bids, 1)
	assert.True(t, depth.Bids[0].Quantity.Equal(decimal.NewFromInt(2)))
	assert.Empty(t, depth.Asks)
}

func TestProcessOrderPricePriority(t *testing.T) {
	book := New(solUSDC(), 0)
	book.ProcessOrder(limit("carol", model.SideSell, "11", "5"))
	book.ProcessOrder(limit("bob", model.SideSell, "10", "5"))

	buy := limit("alice", model.SideBuy, "11", "6")
	res := book.ProcessOrder(buy)

	require.Len(t, res.Fills, 2)
	assert.True(t, res.Fills[0].Price.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "bob", res.Fills[0].OtherUserID)
	assert.True(t, res.Fills[1].Price.Equal(decimal.NewFromInt(11)))
	assert.Equal(t, "carol", res.Fills[1].OtherUserID)
	assert.True(t, res.Fills[1].Quantity.Equal(decimal.NewFromInt(1)))
}

func TestProcessOrderTimePriorityWithinLevel(t *testing.T) {
	book := New(solUSDC(), 0)
	book.ProcessOrder(limit("first", model.SideSell, "10", "2"))
	book.ProcessOrder(limit("second", model.SideSell, "10", "2"))

	res := book.ProcessOrder(limit("alice", model.SideBuy, "10", "3"))

	require.Len(t, res.Fills, 2)
	assert.Equal(t, "first", res.Fills[0].OtherUserID)
	assert.True(t, res.Fills[0].Quantity.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "second", res.Fills[1].OtherUserID)
	assert.True(t, res.Fills[1].Quantity.Equal(decimal.NewFromInt(1)))
}

func TestProcessOrderStopsAtIneligiblePrice(t *testing.T) {
	book := New(solUSDC(), 0)
	book.ProcessOrder(limit("bob", model.SideSell, "12", "5"))

	buy := limit("alice", model.SideBuy, "11", "5")
	res := book.ProcessOrder(buy)

	assert.True(t, res.ExecutedQuantity.IsZero())
	assert.Empty(t, res.Fills)

	// The ask survives untouched and the bid rests below it.
	depth := book.Depth()
	require.Len(t, depth.Asks, 1)
	assert.True(t, depth.Asks[0].Quantity.Equal(decimal.NewFromInt(5)))
	require.Len(t, depth.Bids, 1)
}

func TestProcessOrderSellMatchesBestBidFirst(t *testing.T) {
	book := New(solUSDC(), 0)
	book.ProcessOrder(limit("low", model.SideBuy, "9", "5"))
	book.ProcessOrder(limit("high", model.SideBuy, "10", "5"))

	sell := limit("alice", model.SideSell, "9", "7")
	res := book.ProcessOrder(sell)

	require.Len(t, res.Fills, 2)
	assert.True(t, res.Fills[0].Price.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "high", res.Fills[0].OtherUserID)
	assert.True(t, res.Fills[1].Price.Equal(decimal.NewFromInt(9)))
	assert.True(t, res.Fills[1].Quantity.Equal(decimal.NewFromInt(2)))
}

func TestProcessOrderNeverOverfills(t *testing.T) {
	book := New(solUSDC(), 0)
	makers := []*model.Order{
		limit("m1", model.SideSell, "10", "4"),
		limit("m2", model.SideSell, "10", "4"),
		limit("m3", model.SideSell, "11", "4"),
	}
	for _, m := range makers {
		book.ProcessOrder(m)
	}

	taker := limit("alice", model.SideBuy, "11", "7")
	res := book.ProcessOrder(taker)

	total := decimal.Zero
	for _, f := range res.Fills {
		total = total.Add(f.Quantity)
		assert.True(t, f.Quantity.IsPositive())
	}
	assert.True(t, total.Equal(res.ExecutedQuantity))
	assert.True(t, res.ExecutedQuantity.Equal(decimal.NewFromInt(7)))
	for _, m := range makers {
		assert.True(t, m.FilledQuantity.LessThanOrEqual(m.Quantity))
	}
	assert.True(t, taker.FilledQuantity.LessThanOrEqual(taker.Quantity))
}

func TestTradeIDsStrictlyIncreaseAndSeed(t *testing.T) {
	book := New(solUSDC(), 41)
	book.ProcessOrder(limit("m1", model.SideSell, "10", "1"))
	book.ProcessOrder(limit("m2", model.SideSell, "10", "1"))

	res := book.ProcessOrder(limit("alice", model.SideBuy, "10", "2"))

	require.Len(t, res.Fills, 2)
	assert.Equal(t, int64(42), res.Fills[0].TradeID)
	assert.Equal(t, int64(43), res.Fills[1].TradeID)
	assert.Equal(t, int64(43), book.LastTradeID())
}

func TestMarketOrderNeverRests(t *testing.T) {
	book := New(solUSDC(), 0)
	book.ProcessOrder(limit("bob", model.SideSell, "10", "3"))

	mkt := limit("alice", model.SideBuy, "10", "5")
	mkt.Type = model.TypeMarket
	res := book.ProcessOrder(mkt)

	assert.True(t, res.ExecutedQuantity.Equal(decimal.NewFromInt(3)))
	depth := book.Depth()
	assert.Empty(t, depth.Bids)
	assert.Empty(t, depth.Asks)
}

func TestCancelOrderRoundTrip(t *testing.T) {
	book := New(solUSDC(), 0)
	buy := limit("alice", model.SideBuy, "10", "5")
	book.ProcessOrder(buy)

	removed, ok := book.CancelOrder("alice", buy.ID, buy.Price, buy.Side)
	require.True(t, ok)
	assert.Equal(t, buy.ID, removed.ID)
	assert.Equal(t, model.StatusCancelled, removed.Status)
	assert.True(t, removed.Remaining().Equal(decimal.NewFromInt(5)))

	_, found := book.OpenOrder("alice", buy.ID)
	assert.False(t, found)
	assert.Empty(t, book.Depth().Bids)
}

func TestCancelOrderNotFound(t *testing.T) {
	book := New(solUSDC(), 0)
	buy := limit("alice", model.SideBuy, "10", "5")
	book.ProcessOrder(buy)

	_, ok := book.CancelOrder("alice", uuid.New(), buy.Price, buy.Side)
	assert.False(t, ok)

	// Wrong price level misses even with the right id.
	_, ok = book.CancelOrder("alice", buy.ID, decimal.NewFromInt(11), buy.Side)
	assert.False(t, ok)

	// Another user may not cancel it.
	_, ok = book.CancelOrder("mallory", buy.ID, buy.Price, buy.Side)
	assert.False(t, ok)

	_, found := book.OpenOrder("alice", buy.ID)
	assert.True(t, found)
}

func TestCancelAllOrdersReturnsRemoved(t *testing.T) {
	book := New(solUSDC(), 0)
	b1 := limit("alice", model.SideBuy, "10", "5")
	b2 := limit("alice", model.SideBuy, "9", "2")
	s1 := limit("alice", model.SideSell, "12", "1")
	other := limit("bob", model.SideBuy, "10", "7")
	for _, o := range []*model.Order{b1, b2, s1, other} {
		book.ProcessOrder(o)
	}

	removed := book.CancelAllOrders("alice")
	require.Len(t, removed, 3)
	for _, o := range removed {
		assert.Equal(t, "alice", o.UserID)
		assert.Equal(t, model.StatusCancelled, o.Status)
	}

	assert.Empty(t, book.OpenOrders("alice"))
	require.Len(t, book.OpenOrders("bob"), 1)

	depth := book.Depth()
	require.Len(t, depth.Bids, 1)
	assert.True(t, depth.Bids[0].Quantity.Equal(decimal.NewFromInt(7)))
	assert.Empty(t, depth.Asks)

	// Idempotent on an already-clean book.
	assert.Empty(t, book.CancelAllOrders("alice"))
}

func TestOpenOrdersListsBothSides(t *testing.T) {
	book := New(solUSDC(), 0)
	buy := limit("alice", model.SideBuy, "10", "5")
	sell := limit("alice", model.SideSell, "12", "3")
	book.ProcessOrder(buy)
	book.ProcessOrder(sell)
	book.ProcessOrder(limit("bob", model.SideSell, "13", "1"))

	orders := book.OpenOrders("alice")
	require.Len(t, orders, 2)
	assert.Equal(t, buy.ID, orders[0].ID)
	assert.Equal(t, sell.ID, orders[1].ID)
}

func TestDepthAggregatesAndOrders(t *testing.T) {
	book := New(solUSDC(), 0)
	book.ProcessOrder(limit("a", model.SideBuy, "9", "3"))
	book.ProcessOrder(limit("b", model.SideBuy, "10", "2"))
	book.ProcessOrder(limit("c", model.SideBuy, "10", "4"))
	book.ProcessOrder(limit("d", model.SideSell, "12", "1"))
	book.ProcessOrder(limit("e", model.SideSell, "11", "2"))

	depth := book.Depth()
	require.Len(t, depth.Bids, 2)
	assert.True(t, depth.Bids[0].Price.Equal(decimal.NewFromInt(10)))
	assert.True(t, depth.Bids[0].Quantity.Equal(decimal.NewFromInt(6)))
	assert.True(t, depth.Bids[1].Price.Equal(decimal.NewFromInt(9)))

	require.Len(t, depth.Asks, 2)
	assert.True(t, depth.Asks[0].Price.Equal(decimal.NewFromInt(11)))
	assert.True(t, depth.Asks[1].Price.Equal(decimal.NewFromInt(12)))
}

func TestDecimalPriceOrderingNotLexicographic(t *testing.T) {
	book := New(solUSDC(), 0)
	book.ProcessOrder(limit("a", model.SideSell, "9", "1"))
	book.ProcessOrder(limit("b", model.SideSell, "10", "1"))
	book.ProcessOrder(limit("c", model.SideSell, "100", "1"))

	depth := book.Depth()
	require.Len(t, depth.Asks, 3)
	assert.True(t, depth.Asks[0].Price.Equal(decimal.NewFromInt(9)))
	assert.True(t, depth.Asks[1].Price.Equal(decimal.NewFromInt(10)))
	assert.True(t, depth.Asks[2].Price.Equal(decimal.NewFromInt(100)))
}
