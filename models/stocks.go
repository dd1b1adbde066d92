package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockPrice is a persisted closing price observation, written by the price
// snapshot job.
type StockPrice struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	Symbol    string          `gorm:"type:varchar(16);not null;index:idx_stock_prices_symbol_ts" json:"symbol"`
	Price     decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"price"`
	Timestamp time.Time       `gorm:"not null;index:idx_stock_prices_symbol_ts" json:"timestamp"`
}
