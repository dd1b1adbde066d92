// Package valuation prices a user's positions against live quotes and sums
// them into a portfolio summary.
package valuation

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"portfolio-tracker/market"
	"portfolio-tracker/models"
)

const (
	quotePeriod     = "1d"
	logoURLTemplate = "https://logo.clearbit.com/%s.com"
	currency        = money.USD
)

// Ledger is the read side of the ledger the aggregator needs.
type Ledger interface {
	Positions(ctx context.Context, userID uint) ([]models.Position, error)
	Transactions(ctx context.Context, userID uint) ([]models.Transaction, error)
}

// Holding is one valued position. Price-derived fields are unavailable when
// the quote for the ticker could not be fetched.
type Holding struct {
	Ticker       string                           `json:"ticker"`
	Name         string                           `json:"name"`
	Quantity     int64                            `json:"quantity"`
	AvgPrice     decimal.Decimal                  `json:"avg_price"`
	CostBasis    decimal.Decimal                  `json:"cost_basis"`
	CurrentPrice models.Optional[decimal.Decimal] `json:"current_price"`
	CurrentValue models.Optional[decimal.Decimal] `json:"current_value"`
	ProfitLoss   models.Optional[decimal.Decimal] `json:"profit_loss"`
	TodaysProfit models.Optional[decimal.Decimal] `json:"todays_profit"`
	Logo         string                           `json:"logo"`
}

// Summary totals the available values across holdings.
type Summary struct {
	TotalAssets   decimal.Decimal `json:"total_assets"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TodaysRevenue decimal.Decimal `json:"todays_revenue"`
	Display       SummaryDisplay  `json:"display"`
}

// SummaryDisplay holds the summary totals formatted as currency.
type SummaryDisplay struct {
	TotalAssets   string `json:"total_assets"`
	TotalRevenue  string `json:"total_revenue"`
	TodaysRevenue string `json:"todays_revenue"`
}

type Valuation struct {
	Portfolio []Holding `json:"portfolio"`
	Summary   Summary   `json:"summary"`
}

// quote is the latest session for a ticker.
type quote struct {
	close decimal.Decimal
	open  models.Optional[decimal.Decimal]
}

type Aggregator struct {
	ledger      Ledger
	provider    market.Provider
	concurrency int
	log         zerolog.Logger
}

func NewAggregator(ledger Ledger, provider market.Provider, concurrency int, log zerolog.Logger) *Aggregator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Aggregator{
		ledger:      ledger,
		provider:    provider,
		concurrency: concurrency,
		log:         log.With().Str("component", "valuation").Logger(),
	}
}

// Portfolio values every position userID holds. Quote failures are isolated
// to the affected holding and never fail the request.
func (a *Aggregator) Portfolio(ctx context.Context, userID uint) (*Valuation, error) {
	positions, err := a.ledger.Positions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("%w: user %d", models.ErrNoPortfolio, userID)
	}

	holdings := make([]Holding, len(positions))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, pos := range positions {
		g.Go(func() error {
			holdings[i] = a.value(ctx, pos)
			return nil
		})
	}
	_ = g.Wait()

	return &Valuation{
		Portfolio: holdings,
		Summary:   summarize(holdings),
	}, nil
}

// Transactions returns the user's full transaction history, oldest first.
func (a *Aggregator) Transactions(ctx context.Context, userID uint) ([]models.Transaction, error) {
	txs, err := a.ledger.Transactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: user %d", models.ErrNoTransactions, userID)
	}
	return txs, nil
}

func (a *Aggregator) value(ctx context.Context, pos models.Position) Holding {
	h := Holding{
		Ticker:    pos.Ticker,
		Name:      a.name(ctx, pos.Ticker),
		Quantity:  pos.Quantity,
		AvgPrice:  pos.AvgPrice,
		CostBasis: pos.CostBasis(),
		Logo:      fmt.Sprintf(logoURLTemplate, strings.ToLower(pos.Ticker)),
	}

	q, err := a.quote(ctx, pos.Ticker)
	if err != nil {
		a.log.Warn().Err(err).Str("ticker", pos.Ticker).Msg("Quote unavailable")
		return h
	}

	qty := decimal.NewFromInt(pos.Quantity)
	value := q.close.Mul(qty)
	h.CurrentPrice = models.Some(q.close)
	h.CurrentValue = models.Some(value)
	h.ProfitLoss = models.Some(value.Sub(h.CostBasis))
	if open, ok := q.open.Get(); ok {
		h.TodaysProfit = models.Some(q.close.Sub(open).Mul(qty))
	}
	return h
}

func (a *Aggregator) quote(ctx context.Context, ticker string) (quote, error) {
	bars, err := a.provider.FetchHistory(ctx, ticker, quotePeriod)
	if err != nil {
		return quote{}, fmt.Errorf("%w: %v", models.ErrQuoteUnavailable, err)
	}
	if len(bars) == 0 {
		return quote{}, fmt.Errorf("%w: no data for %s", models.ErrQuoteUnavailable, ticker)
	}

	last := bars[len(bars)-1]
	if last.Close <= 0 {
		return quote{}, fmt.Errorf("%w: no close for %s", models.ErrQuoteUnavailable, ticker)
	}
	q := quote{close: decimal.NewFromFloat(last.Close)}
	if last.Open > 0 {
		q.open = models.Some(decimal.NewFromFloat(last.Open))
	}
	return q, nil
}

func (a *Aggregator) name(ctx context.Context, ticker string) string {
	info, err := a.provider.FetchInfo(ctx, ticker)
	if err != nil {
		a.log.Debug().Err(err).Str("ticker", ticker).Msg("Info unavailable, using ticker as name")
		return ticker
	}
	return info.LongName.OrElse(ticker)
}

func summarize(holdings []Holding) Summary {
	var s Summary
	for _, h := range holdings {
		s.TotalAssets = s.TotalAssets.Add(h.CurrentValue.OrElse(decimal.Zero))
		s.TotalRevenue = s.TotalRevenue.Add(h.ProfitLoss.OrElse(decimal.Zero))
		s.TodaysRevenue = s.TodaysRevenue.Add(h.TodaysProfit.OrElse(decimal.Zero))
	}
	s.Display = SummaryDisplay{
		TotalAssets:   FormatMoney(s.TotalAssets),
		TotalRevenue:  FormatMoney(s.TotalRevenue),
		TodaysRevenue: FormatMoney(s.TodaysRevenue),
	}
	return s
}

// FormatMoney renders amount in dollars, rounded to the cent.
func FormatMoney(amount decimal.Decimal) string {
	fraction := int32(money.GetCurrency(currency).Fraction)
	return money.New(amount.Shift(fraction).Round(0).IntPart(), currency).Display()
}
