// Package engine coordinates the order lifecycle: reserve funds, match in
// the market's book, settle each fill between the two parties and emit the
// resulting events. One mutex serializes every call end to end, so a
// reservation, its matching pass and its settlement are never interleaved
// with another request.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/orbitex/exchange-core/internal/events"
	"github.com/orbitex/exchange-core/internal/ledger"
	"github.com/orbitex/exchange-core/internal/model"
	"github.com/orbitex/exchange-core/internal/orderbook"
	"github.com/orbitex/exchange-core/pkg/metrics"
)

var (
	ErrMarketNotFound = errors.New("market not found")
	ErrMarketExists   = errors.New("market already registered")
	ErrOrderNotFound  = errors.New("order not found")
	ErrInvalidOrder   = errors.New("invalid order")
)

// Engine owns one book per market and the shared ledger. It is safe for
// concurrent use.
type Engine struct {
	mu     sync.Mutex
	books  map[string]*orderbook.OrderBook
	ledger *ledger.Ledger
	pub    events.Publisher
	log    *zap.Logger
}

func New(l *ledger.Ledger, pub events.Publisher, log *zap.Logger) *Engine {
	return &Engine{
		books:  make(map[string]*orderbook.OrderBook),
		ledger: l,
		pub:    pub,
		log:    log,
	}
}

// AddMarket registers a book for the pair. lastTradeID is the highest trade
// id previously persisted for the market, so ids keep increasing across
// restarts.
func (e *Engine) AddMarket(pair model.AssetPair, lastTradeID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	symbol := pair.Symbol()
	if _, ok := e.books[symbol]; ok {
		return fmt.Errorf("market %s: %w", symbol, ErrMarketExists)
	}
	e.books[symbol] = orderbook.New(pair, lastTradeID)
	e.log.Info("market registered",
		zap.String("symbol", symbol),
		zap.Int64("last_trade_id", lastTradeID))
	return nil
}

// Markets returns the registered market symbols.
func (e *Engine) Markets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.books))
	for s := range e.books {
		out = append(out, s)
	}
	return out
}

// book resolves the market symbol. The caller holds e.mu.
func (e *Engine) book(market string) (*orderbook.OrderBook, error) {
	if _, err := model.ParseMarket(market); err != nil {
		return nil, err
	}
	b, ok := e.books[market]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", market, ErrMarketNotFound)
	}
	return b, nil
}

// CreateOrder validates the request, reserves the full cost up front and
// runs the matching pass. A failed reservation rejects the order with no
// state change at all. A MARKET order matches up to its protection price and
// never rests; its unfilled remainder's reservation is released immediately.
func (e *Engine) CreateOrder(ctx context.Context, req model.CreateOrder) (model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.book(req.Market)
	if err != nil {
		return model.Order{}, err
	}
	if err := validateCreate(req); err != nil {
		return model.Order{}, err
	}
	orderType := req.Type
	if orderType == "" {
		orderType = model.TypeLimit
	}

	pair := b.Pair()
	if req.Side == model.SideBuy {
		err = e.ledger.Reserve(req.UserID, pair.Quote, req.Price.Mul(req.Quantity))
	} else {
		err = e.ledger.Reserve(req.UserID, pair.Base, req.Quantity)
	}
	if err != nil {
		return model.Order{}, err
	}

	order := &model.Order{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Price:          req.Price,
		Quantity:       req.Quantity,
		FilledQuantity: decimal.Zero,
		Side:           req.Side,
		Type:           orderType,
		Status:         model.StatusPending,
		Timestamp:      model.NowMillis(),
	}

	res := b.ProcessOrder(order)

	for _, fill := range res.Fills {
		e.settleFill(order, pair, fill)
	}

	// An unfilled MARKET remainder is dead capital: nothing rests in the
	// book to claim it, so the reservation comes straight back.
	if order.Type == model.TypeMarket && order.Remaining().IsPositive() {
		e.releaseRemainder(*order, pair)
		order.Status = model.StatusCancelled
	}

	metrics.OrdersProcessed.WithLabelValues(b.Symbol(), order.Side, order.Status).Inc()
	e.publishOrder(ctx, b, *order)
	e.publishTrades(ctx, b, *order, res.Fills)
	if len(res.Fills) > 0 || order.Status == model.StatusPending || order.Status == model.StatusPartiallyFilled {
		e.publishDepth(ctx, b)
	}
	return *order, nil
}

// settleFill moves the traded base and quote between taker and maker. A BUY
// taker reserved at its limit price but trades at the maker's price, so the
// per-fill improvement goes back to its available balance; locked funds must
// always be backed by a resting order or a pending settlement.
func (e *Engine) settleFill(taker *model.Order, pair model.AssetPair, fill model.Fill) {
	quoteAmt := fill.Price.Mul(fill.Quantity)
	var err error
	if taker.Side == model.SideBuy {
		if err = e.ledger.SettleTransfer(taker.UserID, fill.OtherUserID, pair.Quote, quoteAmt); err == nil {
			err = e.ledger.SettleTransfer(fill.OtherUserID, taker.UserID, pair.Base, fill.Quantity)
		}
		if err == nil {
			improvement := taker.Price.Sub(fill.Price).Mul(fill.Quantity)
			if improvement.IsPositive() {
				err = e.ledger.ReleaseToAvailable(taker.UserID, pair.Quote, improvement)
			}
		}
	} else {
		if err = e.ledger.SettleTransfer(taker.UserID, fill.OtherUserID, pair.Base, fill.Quantity); err == nil {
			err = e.ledger.SettleTransfer(fill.OtherUserID, taker.UserID, pair.Quote, quoteAmt)
		}
	}
	if err != nil {
		// Reservations make this unreachable for well-formed books; if it
		// fires, the ledger and the book have diverged.
		e.log.Error("settlement failed",
			zap.String("market", pair.Symbol()),
			zap.Int64("trade_id", fill.TradeID),
			zap.String("taker", taker.UserID),
			zap.String("maker", fill.OtherUserID),
			zap.Error(err))
	}
}

// CancelOrder removes one resting order and releases the reservation backing
// its unfilled remainder. A miss mutates nothing.
func (e *Engine) CancelOrder(ctx context.Context, req model.CancelOrder) (model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.book(req.Market)
	if err != nil {
		return model.Order{}, err
	}
	if !model.ValidSide(req.Side) {
		return model.Order{}, fmt.Errorf("side %q: %w", req.Side, ErrInvalidOrder)
	}

	removed, ok := b.CancelOrder(req.UserID, req.OrderID, req.Price, req.Side)
	if !ok {
		return model.Order{}, fmt.Errorf("order %s in %s: %w", req.OrderID, req.Market, ErrOrderNotFound)
	}

	e.releaseRemainder(removed, b.Pair())
	metrics.OrdersCancelled.WithLabelValues(b.Symbol()).Inc()
	e.publishOrder(ctx, b, removed)
	e.publishDepth(ctx, b)
	return removed, nil
}

// CancelAllOrders removes every resting order of the user in the market and
// releases each remainder's reservation.
func (e *Engine) CancelAllOrders(ctx context.Context, req model.CancelAllOrders) ([]model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.book(req.Market)
	if err != nil {
		return nil, err
	}

	removed := b.CancelAllOrders(req.UserID)
	for _, o := range removed {
		e.releaseRemainder(o, b.Pair())
		metrics.OrdersCancelled.WithLabelValues(b.Symbol()).Inc()
		e.publishOrder(ctx, b, o)
	}
	if len(removed) > 0 {
		e.publishDepth(ctx, b)
	}
	return removed, nil
}

// releaseRemainder unlocks the reservation backing an order's unfilled
// quantity: quote at the limit price for a BUY, base for a SELL.
func (e *Engine) releaseRemainder(o model.Order, pair model.AssetPair) {
	remaining := o.Remaining()
	if !remaining.IsPositive() {
		return
	}
	var err error
	if o.Side == model.SideBuy {
		err = e.ledger.ReleaseToAvailable(o.UserID, pair.Quote, remaining.Mul(o.Price))
	} else {
		err = e.ledger.ReleaseToAvailable(o.UserID, pair.Base, remaining)
	}
	if err != nil {
		e.log.Error("release reservation failed",
			zap.String("order_id", o.ID.String()),
			zap.String("user_id", o.UserID),
			zap.Error(err))
	}
}

// OpenOrder returns one resting order.
func (e *Engine) OpenOrder(req model.GetOpenOrder) (model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.book(req.Market)
	if err != nil {
		return model.Order{}, err
	}
	o, ok := b.OpenOrder(req.UserID, req.OrderID)
	if !ok {
		return model.Order{}, fmt.Errorf("order %s in %s: %w", req.OrderID, req.Market, ErrOrderNotFound)
	}
	return o, nil
}

// OpenOrders lists the user's resting orders in one market.
func (e *Engine) OpenOrders(req model.GetOpenOrders) ([]model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.book(req.Market)
	if err != nil {
		return nil, err
	}
	return b.OpenOrders(req.UserID), nil
}

// Depth returns the aggregated book for one market.
func (e *Engine) Depth(symbol string) (model.Depth, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.book(symbol)
	if err != nil {
		return model.Depth{}, err
	}
	return b.Depth(), nil
}

// CreateUser registers a user with the ledger.
func (e *Engine) CreateUser(userID string) error {
	if userID == "" {
		return fmt.Errorf("empty user id: %w", ErrInvalidOrder)
	}
	return e.ledger.CreateUser(userID)
}

// Deposit credits funds to a user's available balance.
func (e *Engine) Deposit(userID string, asset model.Asset, amount decimal.Decimal) error {
	return e.ledger.Deposit(userID, asset, amount)
}

// Balances returns the user's ledger snapshot.
func (e *Engine) Balances(userID string) (map[model.Asset]ledger.Amount, error) {
	return e.ledger.Balances(userID)
}

func validateCreate(req model.CreateOrder) error {
	if req.UserID == "" {
		return fmt.Errorf("empty user id: %w", ErrInvalidOrder)
	}
	if !model.ValidSide(req.Side) {
		return fmt.Errorf("side %q: %w", req.Side, ErrInvalidOrder)
	}
	if req.Type != "" && req.Type != model.TypeLimit && req.Type != model.TypeMarket {
		return fmt.Errorf("type %q: %w", req.Type, ErrInvalidOrder)
	}
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("quantity %s: %w", req.Quantity, ErrInvalidOrder)
	}
	if !req.Price.IsPositive() {
		return fmt.Errorf("price %s: %w", req.Price, ErrInvalidOrder)
	}
	return nil
}

func (e *Engine) publishOrder(ctx context.Context, b *orderbook.OrderBook, o model.Order) {
	e.pub.OrderUpdated(ctx, events.OrderUpdate{
		OrderID:        o.ID,
		UserID:         o.UserID,
		Market:         b.Symbol(),
		Price:          o.Price,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		Side:           o.Side,
		Status:         o.Status,
		Timestamp:      o.Timestamp,
	})
}

func (e *Engine) publishTrades(ctx context.Context, b *orderbook.OrderBook, taker model.Order, fills []model.Fill) {
	now := model.NowMillis()
	for _, fill := range fills {
		trade := events.Trade{
			TradeID:   fill.TradeID,
			Market:    b.Symbol(),
			Price:     fill.Price,
			Quantity:  fill.Quantity,
			Timestamp: now,
		}
		if taker.Side == model.SideBuy {
			trade.BuyerUserID = taker.UserID
			trade.SellerUserID = fill.OtherUserID
		} else {
			trade.BuyerUserID = fill.OtherUserID
			trade.SellerUserID = taker.UserID
			trade.BuyerMaker = true
		}
		metrics.TradesExecuted.WithLabelValues(b.Symbol()).Inc()
		e.pub.TradeExecuted(ctx, trade)
	}
}

func (e *Engine) publishDepth(ctx context.Context, b *orderbook.OrderBook) {
	depth := b.Depth()
	event := events.DepthEvent{
		Type:   events.EventDepth,
		Symbol: b.Symbol(),
		Bids:   make([][2]string, 0, len(depth.Bids)),
		Asks:   make([][2]string, 0, len(depth.Asks)),
	}
	for _, lvl := range depth.Bids {
		event.Bids = append(event.Bids, [2]string{lvl.Price.String(), lvl.Quantity.String()})
	}
	for _, lvl := range depth.Asks {
		event.Asks = append(event.Asks, [2]string{lvl.Price.String(), lvl.Quantity.String()})
	}
	e.pub.DepthChanged(ctx, event)
}
