// Package market fetches price history and instrument details from external
// quote sources. Callers treat every failure as "data unavailable" for that
// ticker, never as a reason to abort a larger request.
package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"portfolio-tracker/models"
)

// Bar is one daily OHLCV observation.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Info describes an instrument. Every field may be missing independently.
type Info struct {
	LongName      models.Optional[string]  `json:"long_name"`
	MarketCap     models.Optional[int64]   `json:"market_cap"`
	TrailingPE    models.Optional[float64] `json:"trailing_pe"`
	AverageVolume models.Optional[int64]   `json:"average_volume"`
	Exchange      models.Optional[string]  `json:"exchange"`
}

// Provider is the quote source contract. FetchHistory returns bars in
// ascending date order; an empty slice with a nil error means the source has
// no data for the period.
type Provider interface {
	FetchHistory(ctx context.Context, ticker, period string) ([]Bar, error)
	FetchInfo(ctx context.Context, ticker string) (Info, error)
}

// Periods accepted by FetchHistory.
var Periods = []string{"1d", "5d", "1mo", "3mo", "6mo", "1y", "2y", "5y", "10y", "ytd", "max"}

// ValidatePeriod rejects periods the providers do not understand.
func ValidatePeriod(period string) error {
	for _, p := range Periods {
		if p == period {
			return nil
		}
	}
	return fmt.Errorf("%w: unsupported range %q (want one of %s)", models.ErrValidation, period, strings.Join(Periods, ", "))
}

// TrimToPeriod keeps the bars that fall inside period, counted back from now.
// "1d" and "5d" count trading sessions rather than calendar days.
func TrimToPeriod(bars []Bar, period string, now time.Time) []Bar {
	lastN := func(n int) []Bar {
		if len(bars) <= n {
			return bars
		}
		return bars[len(bars)-n:]
	}

	var start time.Time
	switch period {
	case "1d":
		return lastN(1)
	case "5d":
		return lastN(5)
	case "1mo":
		start = now.AddDate(0, -1, 0)
	case "3mo":
		start = now.AddDate(0, -3, 0)
	case "6mo":
		start = now.AddDate(0, -6, 0)
	case "1y":
		start = now.AddDate(-1, 0, 0)
	case "2y":
		start = now.AddDate(-2, 0, 0)
	case "5y":
		start = now.AddDate(-5, 0, 0)
	case "10y":
		start = now.AddDate(-10, 0, 0)
	case "ytd":
		start = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	default:
		return bars
	}

	for i, b := range bars {
		if !b.Date.Before(start) {
			return bars[i:]
		}
	}
	return nil
}

// AverageVolume is the mean daily volume of bars.
func AverageVolume(bars []Bar) models.Optional[int64] {
	if len(bars) == 0 {
		return models.None[int64]()
	}
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		volumes[i] = float64(b.Volume)
	}
	return models.Some(int64(stat.Mean(volumes, nil)))
}

func optionalString(s string) models.Optional[string] {
	if strings.TrimSpace(s) == "" {
		return models.None[string]()
	}
	return models.Some(s)
}
