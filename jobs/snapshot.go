package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"portfolio-tracker/database"
	"portfolio-tracker/market"
	"portfolio-tracker/models"
)

const snapshotBatchSize = 100

// TickerSource lists the tickers to snapshot.
type TickerSource interface {
	HeldTickers(ctx context.Context) ([]string, error)
}

// PriceSnapshotJob stores the latest close of every held ticker as a
// StockPrice row. Tickers without a quote are skipped.
type PriceSnapshotJob struct {
	db          *gorm.DB
	tickers     TickerSource
	provider    market.Provider
	concurrency int
	log         zerolog.Logger
}

func NewPriceSnapshotJob(db *gorm.DB, tickers TickerSource, provider market.Provider, concurrency int, log zerolog.Logger) *PriceSnapshotJob {
	if concurrency < 1 {
		concurrency = 1
	}
	return &PriceSnapshotJob{
		db:          db,
		tickers:     tickers,
		provider:    provider,
		concurrency: concurrency,
		log:         log.With().Str("job", "price-snapshot").Logger(),
	}
}

func (j *PriceSnapshotJob) Name() string { return "price-snapshot" }

func (j *PriceSnapshotJob) Run(ctx context.Context) error {
	tickers, err := j.tickers.HeldTickers(ctx)
	if err != nil {
		return err
	}
	if len(tickers) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		prices []models.StockPrice
	)
	var g errgroup.Group
	g.SetLimit(j.concurrency)
	for _, ticker := range tickers {
		g.Go(func() error {
			price, ok := j.latest(ctx, ticker)
			if !ok {
				return nil
			}
			mu.Lock()
			prices = append(prices, price)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := database.CreateInBatches(j.db.WithContext(ctx), prices, snapshotBatchSize); err != nil {
		return fmt.Errorf("failed to store price snapshot: %w", err)
	}

	j.log.Info().
		Int("tickers", len(tickers)).
		Int("stored", len(prices)).
		Msg("Stored price snapshot")
	return nil
}

func (j *PriceSnapshotJob) latest(ctx context.Context, ticker string) (models.StockPrice, bool) {
	bars, err := j.provider.FetchHistory(ctx, ticker, "1d")
	if err != nil {
		j.log.Warn().Err(err).Str("ticker", ticker).Msg("Skipping ticker")
		return models.StockPrice{}, false
	}
	if len(bars) == 0 || bars[len(bars)-1].Close <= 0 {
		j.log.Warn().Str("ticker", ticker).Msg("Skipping ticker without a quote")
		return models.StockPrice{}, false
	}

	last := bars[len(bars)-1]
	ts := last.Date
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return models.StockPrice{
		Symbol:    ticker,
		Price:     decimal.NewFromFloat(last.Close),
		Timestamp: ts,
	}, true
}
