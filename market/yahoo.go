package market

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	yfmodels "github.com/wnjoon/go-yfinance/pkg/models"
	yfticker "github.com/wnjoon/go-yfinance/pkg/ticker"

	"portfolio-tracker/models"
)

// YahooProvider reads Yahoo Finance through go-yfinance.
type YahooProvider struct {
	log zerolog.Logger
}

func NewYahooProvider(log zerolog.Logger) *YahooProvider {
	return &YahooProvider{
		log: log.With().Str("client", "yahoo").Logger(),
	}
}

// FetchHistory returns daily bars for period.
func (p *YahooProvider) FetchHistory(ctx context.Context, ticker, period string) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, err := yfticker.New(ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker %s: %w", ticker, err)
	}
	defer t.Close()

	raw, err := t.History(yfmodels.HistoryParams{
		Period:     period,
		Interval:   "1d",
		AutoAdjust: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s history for %s: %w", period, ticker, err)
	}

	bars := toBars(raw)
	p.log.Debug().Str("ticker", ticker).Str("period", period).Int("bars", len(bars)).Msg("Fetched history")
	return bars, nil
}

// FetchInfo returns descriptive fields. Average volume is derived from the
// last three months of bars since the quote summary does not always carry it.
func (p *YahooProvider) FetchInfo(ctx context.Context, ticker string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}

	t, err := yfticker.New(ticker)
	if err != nil {
		return Info{}, fmt.Errorf("failed to create ticker %s: %w", ticker, err)
	}
	defer t.Close()

	raw, err := t.Info()
	if err != nil {
		return Info{}, fmt.Errorf("failed to get info for %s: %w", ticker, err)
	}

	info := Info{
		LongName: optionalString(raw.LongName),
		Exchange: optionalString(raw.Exchange),
	}
	if !info.LongName.Valid() {
		info.LongName = optionalString(raw.ShortName)
	}
	if raw.MarketCap > 0 {
		info.MarketCap = models.Some(int64(raw.MarketCap))
	}
	if raw.TrailingPE > 0 {
		info.TrailingPE = models.Some(float64(raw.TrailingPE))
	}

	history, err := t.History(yfmodels.HistoryParams{Period: "3mo", Interval: "1d"})
	if err != nil {
		p.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to get volume history")
	} else {
		info.AverageVolume = AverageVolume(toBars(history))
	}

	return info, nil
}

func toBars(raw []yfmodels.Bar) []Bar {
	bars := make([]Bar, 0, len(raw))
	for _, b := range raw {
		// Yahoo pads sessions without trades with zeroes.
		if b.Open == 0 && b.High == 0 && b.Low == 0 && b.Close == 0 {
			continue
		}
		bars = append(bars, Bar{
			Date:   b.Date,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		})
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars
}
