package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/ledger"
	"portfolio-tracker/market/markettest"
	"portfolio-tracker/models"
	"portfolio-tracker/testutil"
)

func TestPriceSnapshotJob(t *testing.T) {
	db := testutil.NewTestDB(t)
	user := testutil.CreateUser(t, db, "Ada", "ada@example.com")
	engine := ledger.NewEngine(db, zerolog.Nop())
	ctx := context.Background()

	for _, ticker := range []string{"AAPL", "MSFT", "TSLA"} {
		_, err := engine.Buy(ctx, ledger.Order{UserID: user.ID, Ticker: ticker, Quantity: 1, Price: decimal.NewFromInt(10)})
		require.NoError(t, err)
	}

	provider := markettest.NewProvider().
		SetQuote("AAPL", 180, 181.5).
		SetQuote("MSFT", 400, 410.25).
		Fail("TSLA", errors.New("rate limited"))

	job := NewPriceSnapshotJob(db, ledger.NewStore(db, zerolog.Nop()), provider, 2, zerolog.Nop())
	require.NoError(t, job.Run(ctx))

	var prices []models.StockPrice
	require.NoError(t, db.Order("symbol").Find(&prices).Error)
	require.Len(t, prices, 2)
	assert.Equal(t, "AAPL", prices[0].Symbol)
	assert.True(t, decimal.RequireFromString("181.5").Equal(prices[0].Price))
	assert.Equal(t, "MSFT", prices[1].Symbol)
	assert.False(t, prices[1].Timestamp.IsZero())
}

func TestPriceSnapshotJob_NothingHeld(t *testing.T) {
	db := testutil.NewTestDB(t)
	job := NewPriceSnapshotJob(db, ledger.NewStore(db, zerolog.Nop()), markettest.NewProvider(), 1, zerolog.Nop())

	require.NoError(t, job.Run(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.StockPrice{}).Count(&count).Error)
	assert.Zero(t, count)
}

type funcJob struct {
	run func(ctx context.Context) error
}

func (f funcJob) Name() string                  { return "func" }
func (f funcJob) Run(ctx context.Context) error { return f.run(ctx) }

func TestScheduler(t *testing.T) {
	s := NewScheduler(time.Second, zerolog.Nop())

	assert.Error(t, s.Add("not a schedule", funcJob{}))

	done := make(chan struct{})
	require.NoError(t, s.Add("@every 1s", funcJob{run: func(ctx context.Context) error {
		select {
		case <-done:
		default:
			close(done)
		}
		return nil
	}}))

	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestScheduler_RunNowBoundsRun(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, zerolog.Nop())

	err := s.RunNow(funcJob{run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
