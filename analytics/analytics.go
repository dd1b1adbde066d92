// Package analytics derives index series, annualized returns and quote
// snapshots from raw price history.
package analytics

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"portfolio-tracker/market"
	"portfolio-tracker/models"
)

// TradingDaysPerYear is the fixed annualization constant.
const TradingDaysPerYear = 252

const (
	indexPeriod  = "6mo"
	returnPeriod = "1y"
	quotePeriod  = "1d"
	dateLayout   = "2006-01-02"
)

// Index is a tracked market index.
type Index struct {
	Name   string
	Symbol string
}

// Indices reported by the index and return endpoints, in display order.
var Indices = []Index{
	{Name: "NASDAQ", Symbol: "^IXIC"},
	{Name: "SP500", Symbol: "^GSPC"},
	{Name: "DowJones", Symbol: "^DJI"},
}

// StockSymbols is the pool RandomQuotes samples from.
var StockSymbols = []string{
	"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA",
	"META", "NVDA", "NFLX", "BABA", "V", "JPM", "JNJ", "DIS", "PYPL",
}

// Series is a closing-price time series. Dates and Prices are parallel and
// empty, never nil, when the source has no data.
type Series struct {
	Symbol string    `json:"symbol"`
	Dates  []string  `json:"dates"`
	Prices []float64 `json:"prices"`
}

type IndexReturn struct {
	Symbol           string                   `json:"symbol"`
	AnnualizedReturn models.Optional[float64] `json:"annualized_return"`
}

type Chart struct {
	Dates  []string  `json:"dates"`
	Prices []float64 `json:"prices"`
}

// Snapshot summarizes one instrument over a range.
type Snapshot struct {
	Name          string                   `json:"name"`
	CurrentPrice  float64                  `json:"currentPrice"`
	DayRange      string                   `json:"dayRange"`
	MarketCap     models.Optional[int64]   `json:"marketCap"`
	PERatio       models.Optional[float64] `json:"peRatio"`
	AvgVolume     models.Optional[int64]   `json:"avgVolume"`
	PreviousClose models.Optional[float64] `json:"previousClose"`
	Exchange      models.Optional[string]  `json:"exchange"`
	Chart         Chart                    `json:"chart"`
}

// Quote is the latest session move for a ticker.
type Quote struct {
	Ticker     string                   `json:"ticker"`
	Name       models.Optional[string]  `json:"name"`
	Price      models.Optional[float64] `json:"price"`
	Change     models.Optional[float64] `json:"change"`
	Percentage models.Optional[float64] `json:"percentage"`
}

type Service struct {
	provider    market.Provider
	concurrency int
	log         zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewService(provider market.Provider, concurrency int, log zerolog.Logger) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		provider:    provider,
		concurrency: concurrency,
		log:         log.With().Str("component", "analytics").Logger(),
		rng:         rand.New(rand.NewSource(rand.Int63())),
	}
}

// AnnualizedReturn compounds the one-year price change of symbol over
// TradingDaysPerYear sessions and reports it as a percentage.
func (s *Service) AnnualizedReturn(ctx context.Context, symbol string) models.Optional[float64] {
	bars, err := s.provider.FetchHistory(ctx, symbol, returnPeriod)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to get return history")
		return models.None[float64]()
	}
	return AnnualizedReturn(closes(bars))
}

// AnnualizedReturn computes ((last/first)^(252/n) - 1) * 100 rounded to two
// decimals, where n is the number of closes.
func AnnualizedReturn(closes []float64) models.Optional[float64] {
	n := len(closes)
	if n == 0 || closes[0] <= 0 {
		return models.None[float64]()
	}
	growth := math.Pow(closes[n-1]/closes[0], float64(TradingDaysPerYear)/float64(n)) - 1
	if math.IsNaN(growth) || math.IsInf(growth, 0) {
		return models.None[float64]()
	}
	return models.Some(round2(growth * 100))
}

// IndexSeries returns the closes of symbol over period. Provider failures
// yield an empty series.
func (s *Service) IndexSeries(ctx context.Context, symbol, period string) (Series, error) {
	if err := market.ValidatePeriod(period); err != nil {
		return Series{}, err
	}
	series := Series{Symbol: symbol, Dates: []string{}, Prices: []float64{}}

	bars, err := s.provider.FetchHistory(ctx, symbol, period)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Str("period", period).Msg("Failed to get index history")
		return series, nil
	}
	series.Dates, series.Prices = chart(bars)
	return series, nil
}

// Indices returns the six-month series of every tracked index keyed by name.
func (s *Service) Indices(ctx context.Context) map[string]Series {
	out := make(map[string]Series, len(Indices))
	var mu sync.Mutex
	s.eachIndex(func(idx Index) {
		series, _ := s.IndexSeries(ctx, idx.Symbol, indexPeriod)
		mu.Lock()
		out[idx.Name] = series
		mu.Unlock()
	})
	return out
}

// AnnualizedReturns reports the annualized return of every tracked index
// keyed by name.
func (s *Service) AnnualizedReturns(ctx context.Context) map[string]IndexReturn {
	out := make(map[string]IndexReturn, len(Indices))
	var mu sync.Mutex
	s.eachIndex(func(idx Index) {
		r := IndexReturn{Symbol: idx.Symbol, AnnualizedReturn: s.AnnualizedReturn(ctx, idx.Symbol)}
		mu.Lock()
		out[idx.Name] = r
		mu.Unlock()
	})
	return out
}

// StockSnapshot summarizes symbol over period. It fails with
// models.ErrQuoteUnavailable when there is no history; instrument details are
// reported individually as unavailable.
func (s *Service) StockSnapshot(ctx context.Context, symbol, period string) (*Snapshot, error) {
	if err := market.ValidatePeriod(period); err != nil {
		return nil, err
	}

	bars, err := s.provider.FetchHistory(ctx, symbol, period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrQuoteUnavailable, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no data found for %s in range %s", models.ErrQuoteUnavailable, symbol, period)
	}

	last := bars[len(bars)-1]
	snap := &Snapshot{
		Name:         symbol,
		CurrentPrice: last.Close,
		DayRange:     fmt.Sprintf("%.2f - %.2f", last.Low, last.High),
	}
	if len(bars) > 1 {
		snap.PreviousClose = models.Some(bars[len(bars)-2].Close)
	}
	snap.Chart.Dates, snap.Chart.Prices = chart(bars)

	info, err := s.provider.FetchInfo(ctx, symbol)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to get stock info")
		return snap, nil
	}
	snap.Name = info.LongName.OrElse(symbol)
	snap.MarketCap = info.MarketCap
	snap.PERatio = info.TrailingPE
	snap.AvgVolume = info.AverageVolume
	snap.Exchange = info.Exchange
	return snap, nil
}

// RandomQuotes samples n distinct symbols from StockSymbols and reports the
// latest session move of each.
func (s *Service) RandomQuotes(ctx context.Context, n int) []Quote {
	symbols := s.sample(n)
	quotes := make([]Quote, len(symbols))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, symbol := range symbols {
		g.Go(func() error {
			quotes[i] = s.quote(ctx, symbol)
			return nil
		})
	}
	_ = g.Wait()
	return quotes
}

func (s *Service) quote(ctx context.Context, symbol string) Quote {
	q := Quote{Ticker: symbol}

	bars, err := s.provider.FetchHistory(ctx, symbol, quotePeriod)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to get quote")
	} else if len(bars) > 0 {
		last := bars[len(bars)-1]
		q.Price = models.Some(round2(last.Close))
		if last.Open > 0 {
			q.Change = models.Some(round2(last.Close - last.Open))
			q.Percentage = models.Some(round2((last.Close - last.Open) / last.Open * 100))
		}
	}

	if info, err := s.provider.FetchInfo(ctx, symbol); err == nil {
		q.Name = info.LongName
	}
	return q
}

func (s *Service) sample(n int) []string {
	if n > len(StockSymbols) {
		n = len(StockSymbols)
	}
	if n < 0 {
		n = 0
	}

	s.mu.Lock()
	perm := s.rng.Perm(len(StockSymbols))
	s.mu.Unlock()

	out := make([]string, n)
	for i := range out {
		out[i] = StockSymbols[perm[i]]
	}
	return out
}

func (s *Service) eachIndex(fn func(Index)) {
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, idx := range Indices {
		g.Go(func() error {
			fn(idx)
			return nil
		})
	}
	_ = g.Wait()
}

func closes(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func chart(bars []market.Bar) ([]string, []float64) {
	dates := make([]string, len(bars))
	for i, b := range bars {
		dates[i] = b.Date.Format(dateLayout)
	}
	return dates, closes(bars)
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
