package ledger

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"portfolio-tracker/models"
	"portfolio-tracker/testutil"
)

func setup(t *testing.T) (*Engine, *Store, *gorm.DB, models.User) {
	t.Helper()
	db := testutil.NewTestDB(t)
	user := testutil.CreateUser(t, db, "Ada", "ada@example.com")
	return NewEngine(db, zerolog.Nop()), NewStore(db, zerolog.Nop()), db, user
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func order(userID uint, ticker string, qty int64, price string) Order {
	return Order{UserID: userID, Ticker: ticker, Quantity: qty, Price: d(price)}
}

func TestEngine_WorkedExample(t *testing.T) {
	engine, store, _, user := setup(t)
	ctx := context.Background()

	_, err := engine.Buy(ctx, order(user.ID, "AAPL", 10, "100"))
	require.NoError(t, err)

	receipt, err := engine.Buy(ctx, order(user.ID, "aapl ", 10, "200"))
	require.NoError(t, err)
	require.NotNil(t, receipt.Position)
	assert.Equal(t, int64(20), receipt.Position.Quantity)
	assert.True(t, d("150").Equal(receipt.Position.AvgPrice), "avg %s", receipt.Position.AvgPrice)

	receipt, err = engine.Sell(ctx, order(user.ID, "AAPL", 5, "180"))
	require.NoError(t, err)
	require.NotNil(t, receipt.Position)
	assert.Equal(t, int64(15), receipt.Position.Quantity)
	assert.True(t, d("150").Equal(receipt.Position.AvgPrice), "avg unchanged on sell")
	assert.Equal(t, models.Sell, receipt.Transaction.Type)
	assert.True(t, d("180").Equal(receipt.Transaction.Price), "sell recorded at requested price")

	pos, ok, err := store.Position(ctx, user.ID, "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(15), pos.Quantity)
	assert.True(t, d("150").Equal(pos.AvgPrice))

	txns, err := store.Transactions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, []models.TransactionType{models.Buy, models.Buy, models.Sell},
		[]models.TransactionType{txns[0].Type, txns[1].Type, txns[2].Type})

	receipt, err = engine.Sell(ctx, order(user.ID, "AAPL", 15, "180"))
	require.NoError(t, err)
	assert.Nil(t, receipt.Position, "selling the full holding closes the position")

	_, ok, err = store.Position(ctx, user.ID, "AAPL")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_ClosedPositionLeavesNoRow(t *testing.T) {
	engine, _, db, user := setup(t)
	ctx := context.Background()

	_, err := engine.Buy(ctx, order(user.ID, "MSFT", 3, "310.5"))
	require.NoError(t, err)
	_, err = engine.Sell(ctx, order(user.ID, "MSFT", 3, "300"))
	require.NoError(t, err)

	var rows int64
	require.NoError(t, db.Model(&models.Position{}).Where("user_id = ?", user.ID).Count(&rows).Error)
	assert.Zero(t, rows)

	receipt, err := engine.Buy(ctx, order(user.ID, "MSFT", 2, "250"))
	require.NoError(t, err)
	assert.True(t, d("250").Equal(receipt.Position.AvgPrice), "a reopened position starts a fresh cost basis")
}

func TestEngine_OversellLeavesPositionUnchanged(t *testing.T) {
	engine, store, _, user := setup(t)
	ctx := context.Background()

	_, err := engine.Buy(ctx, order(user.ID, "TSLA", 4, "210"))
	require.NoError(t, err)

	_, err = engine.Sell(ctx, order(user.ID, "TSLA", 5, "220"))
	assert.ErrorIs(t, err, models.ErrInsufficientShares)

	pos, ok, err := store.Position(ctx, user.ID, "TSLA")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), pos.Quantity)
	assert.True(t, d("210").Equal(pos.AvgPrice))

	txns, err := store.Transactions(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 1, "a rejected sell records nothing")
}

func TestEngine_SellWithoutPosition(t *testing.T) {
	engine, _, _, user := setup(t)

	_, err := engine.Sell(context.Background(), order(user.ID, "NVDA", 1, "100"))
	assert.ErrorIs(t, err, models.ErrInsufficientShares)
}

func TestEngine_UnknownUser(t *testing.T) {
	engine, store, _, _ := setup(t)
	ctx := context.Background()

	_, err := engine.Sell(ctx, order(999, "AAPL", 1, "100"))
	assert.ErrorIs(t, err, models.ErrUserNotFound)

	_, err = engine.Buy(ctx, order(999, "AAPL", 1, "100"))
	assert.ErrorIs(t, err, models.ErrUserNotFound)

	txns, err := store.Transactions(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestEngine_Validation(t *testing.T) {
	engine, store, _, user := setup(t)
	ctx := context.Background()

	cases := map[string]Order{
		"zero quantity":     order(user.ID, "AAPL", 0, "10"),
		"negative quantity": order(user.ID, "AAPL", -2, "10"),
		"zero price":        order(user.ID, "AAPL", 1, "0"),
		"negative price":    order(user.ID, "AAPL", 1, "-3"),
		"blank ticker":      order(user.ID, "  ", 1, "10"),
		"long ticker":       order(user.ID, "ABCDEFGHIJKLMNOPQ", 1, "10"),
	}

	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := engine.Buy(ctx, o)
			assert.ErrorIs(t, err, models.ErrValidation)
			_, err = engine.Sell(ctx, o)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	txns, err := store.Transactions(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestEngine_AverageEqualsWeightedMeanOfBuys(t *testing.T) {
	engine, store, _, user := setup(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	totalCost := decimal.Zero
	totalQty := int64(0)
	for i := 0; i < 25; i++ {
		qty := int64(rng.Intn(50) + 1)
		price := decimal.New(int64(rng.Intn(50000)+1), -2) // 0.01 .. 500.00

		_, err := engine.Buy(ctx, Order{UserID: user.ID, Ticker: "GOOGL", Quantity: qty, Price: price})
		require.NoError(t, err)

		totalCost = totalCost.Add(price.Mul(decimal.NewFromInt(qty)))
		totalQty += qty
	}

	pos, ok, err := store.Position(ctx, user.ID, "GOOGL")
	require.NoError(t, err)
	require.True(t, ok)

	want := totalCost.Div(decimal.NewFromInt(totalQty))
	assert.Equal(t, totalQty, pos.Quantity)
	assert.True(t, pos.AvgPrice.Sub(want).Abs().LessThan(d("0.000001")),
		"avg %s, weighted mean %s", pos.AvgPrice, want)
}

func TestWeightedAverage(t *testing.T) {
	assert.True(t, d("150").Equal(WeightedAverage(d("100"), 10, d("200"), 10)))
	assert.True(t, d("120").Equal(WeightedAverage(d("100"), 10, d("130"), 20)))
	assert.True(t, d("42.5").Equal(WeightedAverage(decimal.Zero, 0, d("42.5"), 7)))
	assert.True(t, d("133.33333333").Equal(WeightedAverage(d("100"), 1, d("150"), 2)))
}

func TestEngine_Reconciliation(t *testing.T) {
	engine, store, _, user := setup(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 60; i++ {
		qty := int64(rng.Intn(10) + 1)
		price := decimal.NewFromInt(int64(rng.Intn(300) + 1))
		if rng.Intn(3) == 0 {
			_, err := engine.Sell(ctx, Order{UserID: user.ID, Ticker: "META", Quantity: qty, Price: price})
			if err != nil {
				require.ErrorIs(t, err, models.ErrInsufficientShares)
			}
			continue
		}
		_, err := engine.Buy(ctx, Order{UserID: user.ID, Ticker: "META", Quantity: qty, Price: price})
		require.NoError(t, err)
	}

	txns, err := store.Transactions(ctx, user.ID)
	require.NoError(t, err)

	net := int64(0)
	for _, txn := range txns {
		net += txn.SignedQuantity()
	}

	pos, ok, err := store.Position(ctx, user.ID, "META")
	require.NoError(t, err)
	if net == 0 {
		assert.False(t, ok)
		return
	}
	require.True(t, ok)
	assert.Equal(t, net, pos.Quantity)
}

func TestEngine_ConcurrentSellsOnlyOneSucceeds(t *testing.T) {
	engine, store, _, user := setup(t)
	ctx := context.Background()

	_, err := engine.Buy(ctx, order(user.ID, "NFLX", 10, "400"))
	require.NoError(t, err)

	const sellers = 2
	errs := make([]error, sellers)
	var wg sync.WaitGroup
	for i := 0; i < sellers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Sell(ctx, order(user.ID, "NFLX", 10, "410"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrInsufficientShares)
	}
	assert.Equal(t, 1, succeeded)

	_, ok, err := store.Position(ctx, user.ID, "NFLX")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_ConcurrentBuysAndSells(t *testing.T) {
	engine, store, _, user := setup(t)
	ctx := context.Background()

	_, err := engine.Buy(ctx, order(user.ID, "DIS", 20, "90"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold := 0
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := engine.Sell(ctx, order(user.ID, "DIS", 5, "95")); err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			_, err := engine.Buy(ctx, order(user.ID, "DIS", 1, "90"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	txns, err := store.Transactions(ctx, user.ID)
	require.NoError(t, err)
	net := int64(0)
	for _, txn := range txns {
		net += txn.SignedQuantity()
	}
	assert.Equal(t, int64(20+8-5*sold), net)

	pos, ok, err := store.Position(ctx, user.ID, "DIS")
	require.NoError(t, err)
	if net == 0 {
		assert.False(t, ok)
		return
	}
	require.True(t, ok)
	assert.Equal(t, net, pos.Quantity)
	assert.True(t, d("90").Equal(pos.AvgPrice), "every buy was at 90")
}

func TestEngine_BuyRejectsQuantityOverflow(t *testing.T) {
	engine, store, _, user := setup(t)
	ctx := context.Background()

	_, err := engine.Buy(ctx, order(user.ID, "AAPL", math.MaxInt64, "1"))
	require.NoError(t, err)

	_, err = engine.Buy(ctx, order(user.ID, "AAPL", 10, "1"))
	assert.ErrorIs(t, err, models.ErrValidation)

	pos, ok, err := store.Position(ctx, user.ID, "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64), pos.Quantity)
	assert.True(t, d("1").Equal(pos.AvgPrice))

	txns, err := store.Transactions(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 1, "rejected buy must not be recorded")
}

// bumpVersionBeforeUpdate makes a concurrent writer win the next n position
// updates by advancing the row version just before each one runs.
func bumpVersionBeforeUpdate(t *testing.T, db *gorm.DB, n int) *int {
	t.Helper()
	bumps := 0
	err := db.Callback().Update().Before("gorm:update").Register("test:bump_version", func(tx *gorm.DB) {
		if tx.Statement.Table != "positions" || bumps >= n {
			return
		}
		bumps++
		err := tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE positions SET version = version + 1").Error
		require.NoError(t, err)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Callback().Update().Remove("test:bump_version") })
	return &bumps
}

func TestEngine_BuyRetriesAfterVersionConflict(t *testing.T) {
	engine, store, db, user := setup(t)
	ctx := context.Background()

	_, err := engine.Buy(ctx, order(user.ID, "AMZN", 10, "100"))
	require.NoError(t, err)

	bumps := bumpVersionBeforeUpdate(t, db, 2)

	receipt, err := engine.Buy(ctx, order(user.ID, "AMZN", 10, "200"))
	require.NoError(t, err)
	assert.Equal(t, 2, *bumps, "two conflicting writes forced two retries")
	assert.Equal(t, int64(20), receipt.Position.Quantity)
	assert.True(t, d("150").Equal(receipt.Position.AvgPrice))

	pos, ok, err := store.Position(ctx, user.ID, "AMZN")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(20), pos.Quantity)
	assert.Equal(t, int64(4), pos.Version, "initial 1, two bumps, one successful update")
}

func TestEngine_BuyGivesUpAfterRepeatedConflicts(t *testing.T) {
	engine, store, db, user := setup(t)
	ctx := context.Background()

	_, err := engine.Buy(ctx, order(user.ID, "AMZN", 10, "100"))
	require.NoError(t, err)

	bumpVersionBeforeUpdate(t, db, maxCASAttempts)

	_, err = engine.Buy(ctx, order(user.ID, "AMZN", 10, "200"))
	assert.ErrorIs(t, err, errConcurrentUpdate)

	pos, ok, err := store.Position(ctx, user.ID, "AMZN")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), pos.Quantity)
	assert.Equal(t, int64(1), pos.Version, "bumps roll back with the failed buy")

	txns, err := store.Transactions(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}
