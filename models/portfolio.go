package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the side of a ledger entry.
type TransactionType string

const (
	Buy  TransactionType = "buy"
	Sell TransactionType = "sell"
)

// Position is the current holding of one ticker by one user. A position whose
// quantity reaches zero is deleted rather than kept as an empty row.
type Position struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	UserID    uint            `gorm:"not null;uniqueIndex:idx_positions_user_ticker" json:"user_id"`
	Ticker    string          `gorm:"type:varchar(16);not null;uniqueIndex:idx_positions_user_ticker" json:"ticker"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	AvgPrice  decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"avg_price"`
	Version   int64           `gorm:"not null;default:1" json:"-"`
	UpdatedAt time.Time       `json:"updated_at"`

	User User `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// CostBasis is the amount paid for the shares currently held.
func (p Position) CostBasis() decimal.Decimal {
	return p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// Transaction is an immutable buy or sell event.
type Transaction struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uint            `gorm:"not null;index" json:"user_id"`
	Ticker    string          `gorm:"type:varchar(16);not null;index" json:"ticker"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"price"`
	Type      TransactionType `gorm:"column:transaction_type;type:varchar(10);not null" json:"transaction_type"`
	Timestamp time.Time       `gorm:"not null;index" json:"timestamp"`

	User User `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// SignedQuantity is positive for buys and negative for sells.
func (t Transaction) SignedQuantity() int64 {
	if t.Type == Sell {
		return -t.Quantity
	}
	return t.Quantity
}
