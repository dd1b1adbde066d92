package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"portfolio-tracker/models"
)

// PriceScale is the number of decimal places kept for prices and average cost.
const PriceScale = 8

const (
	maxTickerLen   = 16
	maxCASAttempts = 5
)

var errConcurrentUpdate = errors.New("position changed concurrently")

// Order is a request to buy or sell shares at a given price.
type Order struct {
	UserID   uint
	Ticker   string
	Quantity int64
	Price    decimal.Decimal
}

// Receipt is the outcome of an applied order. Position is nil when a sell
// closed the holding.
type Receipt struct {
	Transaction models.Transaction
	Position    *models.Position
}

// Engine applies orders to the ledger. Each order commits its transaction row
// and its position change together or not at all.
type Engine struct {
	db  *gorm.DB
	now func() time.Time
	log zerolog.Logger
}

func NewEngine(db *gorm.DB, log zerolog.Logger) *Engine {
	return &Engine{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
		log: log.With().Str("service", "ledger").Logger(),
	}
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func (o Order) validate() (Order, error) {
	o.Ticker = NormalizeTicker(o.Ticker)
	switch {
	case o.Ticker == "":
		return o, fmt.Errorf("%w: ticker is required", models.ErrValidation)
	case len(o.Ticker) > maxTickerLen:
		return o, fmt.Errorf("%w: ticker %q is too long", models.ErrValidation, o.Ticker)
	case o.Quantity <= 0:
		return o, fmt.Errorf("%w: quantity must be positive, got %d", models.ErrValidation, o.Quantity)
	case !o.Price.IsPositive():
		return o, fmt.Errorf("%w: price must be positive, got %s", models.ErrValidation, o.Price)
	}
	return o, nil
}

// WeightedAverage folds a purchase of qty shares at price into a holding of
// heldQty shares at avg.
func WeightedAverage(avg decimal.Decimal, heldQty int64, price decimal.Decimal, qty int64) decimal.Decimal {
	total := decimal.NewFromInt(heldQty).Add(decimal.NewFromInt(qty))
	if total.IsZero() {
		return decimal.Zero
	}
	cost := avg.Mul(decimal.NewFromInt(heldQty)).Add(price.Mul(decimal.NewFromInt(qty)))
	return cost.DivRound(total, PriceScale)
}

// Buy records a purchase and folds it into the user's average cost.
func (e *Engine) Buy(ctx context.Context, order Order) (*Receipt, error) {
	order, err := order.validate()
	if err != nil {
		return nil, err
	}

	var receipt Receipt
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUser(tx, order.UserID); err != nil {
			return err
		}

		pos, err := e.addToPosition(tx, order)
		if err != nil {
			return err
		}

		txn, err := e.record(tx, order, models.Buy)
		if err != nil {
			return err
		}

		receipt = Receipt{Transaction: txn, Position: &pos}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Uint("user_id", order.UserID).
		Str("ticker", order.Ticker).
		Int64("quantity", order.Quantity).
		Str("price", order.Price.String()).
		Str("avg_price", receipt.Position.AvgPrice.String()).
		Msg("Bought shares")
	return &receipt, nil
}

// Sell records a sale and decrements the holding. The sufficiency check and
// the decrement happen in a single conditional UPDATE, so two concurrent sells
// cannot both pass against the same shares. The average cost is unchanged.
func (e *Engine) Sell(ctx context.Context, order Order) (*Receipt, error) {
	order, err := order.validate()
	if err != nil {
		return nil, err
	}

	var receipt Receipt
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUser(tx, order.UserID); err != nil {
			return err
		}

		res := tx.Model(&models.Position{}).
			Where("user_id = ? AND ticker = ? AND quantity >= ?", order.UserID, order.Ticker, order.Quantity).
			Updates(map[string]interface{}{
				"quantity":   gorm.Expr("quantity - ?", order.Quantity),
				"version":    gorm.Expr("version + 1"),
				"updated_at": e.now(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to decrement position: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %d %s requested", models.ErrInsufficientShares, order.Quantity, order.Ticker)
		}

		if err := tx.Where("user_id = ? AND ticker = ? AND quantity = 0", order.UserID, order.Ticker).
			Delete(&models.Position{}).Error; err != nil {
			return fmt.Errorf("failed to remove closed position: %w", err)
		}

		var pos models.Position
		err := tx.Where("user_id = ? AND ticker = ?", order.UserID, order.Ticker).First(&pos).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to reload position: %w", err)
		}
		if err == nil {
			receipt.Position = &pos
		}

		txn, err := e.record(tx, order, models.Sell)
		if err != nil {
			return err
		}
		receipt.Transaction = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	remaining := int64(0)
	if receipt.Position != nil {
		remaining = receipt.Position.Quantity
	}
	e.log.Info().
		Uint("user_id", order.UserID).
		Str("ticker", order.Ticker).
		Int64("quantity", order.Quantity).
		Str("price", order.Price.String()).
		Int64("remaining", remaining).
		Msg("Sold shares")
	return &receipt, nil
}

// addToPosition creates the position on first purchase or updates it with a
// version compare-and-swap, retrying when a concurrent writer got there first.
func (e *Engine) addToPosition(tx *gorm.DB, order Order) (models.Position, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		pos, err := lockPosition(tx, order.UserID, order.Ticker)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			pos = models.Position{
				UserID:    order.UserID,
				Ticker:    order.Ticker,
				Quantity:  order.Quantity,
				AvgPrice:  order.Price.Round(PriceScale),
				Version:   1,
				UpdatedAt: e.now(),
			}
			res := tx.Omit(clause.Associations).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&pos)
			if res.Error != nil {
				return models.Position{}, fmt.Errorf("failed to create position: %w", res.Error)
			}
			if res.RowsAffected == 1 {
				return pos, nil
			}
			continue
		}
		if err != nil {
			return models.Position{}, fmt.Errorf("failed to read position: %w", err)
		}

		if order.Quantity > math.MaxInt64-pos.Quantity {
			return models.Position{}, fmt.Errorf("%w: buying %d %s would exceed the maximum position size",
				models.ErrValidation, order.Quantity, order.Ticker)
		}

		next := pos
		next.Quantity = pos.Quantity + order.Quantity
		next.AvgPrice = WeightedAverage(pos.AvgPrice, pos.Quantity, order.Price, order.Quantity)
		next.Version = pos.Version + 1
		next.UpdatedAt = e.now()

		res := tx.Model(&models.Position{}).
			Where("id = ? AND version = ?", pos.ID, pos.Version).
			Updates(map[string]interface{}{
				"quantity":   next.Quantity,
				"avg_price":  next.AvgPrice,
				"version":    next.Version,
				"updated_at": next.UpdatedAt,
			})
		if res.Error != nil {
			return models.Position{}, fmt.Errorf("failed to update position: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return next, nil
		}
	}
	return models.Position{}, errConcurrentUpdate
}

func (e *Engine) record(tx *gorm.DB, order Order, side models.TransactionType) (models.Transaction, error) {
	txn := models.Transaction{
		UserID:    order.UserID,
		Ticker:    order.Ticker,
		Quantity:  order.Quantity,
		Price:     order.Price.Round(PriceScale),
		Type:      side,
		Timestamp: e.now(),
	}
	if err := tx.Omit(clause.Associations).Create(&txn).Error; err != nil {
		return models.Transaction{}, fmt.Errorf("failed to record %s transaction: %w", side, err)
	}
	return txn, nil
}

func requireUser(tx *gorm.DB, userID uint) error {
	ok, err := userExists(tx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: id %d", models.ErrUserNotFound, userID)
	}
	return nil
}
