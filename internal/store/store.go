// Package store persists trades and order snapshots to Postgres and supplies
// the per-market trade-id high-water mark used to seed the books at startup.
package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/orbitex/exchange-core/internal/events"
)

// TradeRow is one executed fill.
type TradeRow struct {
	ID           uint            `gorm:"primaryKey"`
	TradeID      int64           `gorm:"uniqueIndex:idx_trades_market_trade"`
	Market       string          `gorm:"uniqueIndex:idx_trades_market_trade;size:32"`
	Price        decimal.Decimal `gorm:"type:numeric"`
	Quantity     decimal.Decimal `gorm:"type:numeric"`
	BuyerUserID  string          `gorm:"size:64"`
	SellerUserID string          `gorm:"size:64"`
	BuyerMaker   bool
	Timestamp    int64
}

func (TradeRow) TableName() string { return "trades" }

// OrderRow is the latest known state of one order.
type OrderRow struct {
	OrderID        string          `gorm:"primaryKey;size:36"`
	UserID         string          `gorm:"index;size:64"`
	Market         string          `gorm:"index;size:32"`
	Price          decimal.Decimal `gorm:"type:numeric"`
	Quantity       decimal.Decimal `gorm:"type:numeric"`
	FilledQuantity decimal.Decimal `gorm:"type:numeric"`
	Side           string          `gorm:"size:8"`
	Status         string          `gorm:"size:24"`
	Timestamp      int64
}

func (OrderRow) TableName() string { return "orders" }

// Store wraps the gorm connection.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&TradeRow{}, &OrderRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// InsertTrade writes one trade. Replayed records are ignored, the
// (market, trade_id) pair is unique.
func (s *Store) InsertTrade(ctx context.Context, t events.Trade) error {
	row := TradeRow{
		TradeID:      t.TradeID,
		Market:       t.Market,
		Price:        t.Price,
		Quantity:     t.Quantity,
		BuyerUserID:  t.BuyerUserID,
		SellerUserID: t.SellerUserID,
		BuyerMaker:   t.BuyerMaker,
		Timestamp:    t.Timestamp,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("insert trade %s/%d: %w", t.Market, t.TradeID, err)
	}
	return nil
}

// UpsertOrder writes the order snapshot, replacing any previous state.
func (s *Store) UpsertOrder(ctx context.Context, o events.OrderUpdate) error {
	row := OrderRow{
		OrderID:        o.OrderID.String(),
		UserID:         o.UserID,
		Market:         o.Market,
		Price:          o.Price,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		Side:           o.Side,
		Status:         o.Status,
		Timestamp:      o.Timestamp,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", row.OrderID, err)
	}
	return nil
}

// LatestTradeID returns the highest persisted trade id for the market, zero
// when the market has no trades yet.
func (s *Store) LatestTradeID(ctx context.Context, market string) (int64, error) {
	var latest int64
	err := s.db.WithContext(ctx).
		Model(&TradeRow{}).
		Where("market = ?", market).
		Select("COALESCE(MAX(trade_id), 0)").
		Scan(&latest).Error
	if err != nil {
		return 0, fmt.Errorf("latest trade id %s: %w", market, err)
	}
	return latest, nil
}
