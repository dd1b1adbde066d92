package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"portfolio-tracker/models"
)

const alphaVantageURL = "https://www.alphavantage.co/query"

type alphaVantageDaily struct {
	TimeSeriesDaily map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	} `json:"Time Series (Daily)"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

type alphaVantageOverview struct {
	Name                 string `json:"Name"`
	Exchange             string `json:"Exchange"`
	MarketCapitalization string `json:"MarketCapitalization"`
	PERatio              string `json:"PERatio"`
	Note                 string `json:"Note"`
	Information          string `json:"Information"`
	ErrorMessage         string `json:"Error Message"`
}

// AlphaVantageProvider reads daily series and company overviews from the
// Alpha Vantage REST API.
type AlphaVantageProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	now     func() time.Time
	log     zerolog.Logger
}

func NewAlphaVantageProvider(apiKey string, log zerolog.Logger) *AlphaVantageProvider {
	return &AlphaVantageProvider{
		apiKey:  apiKey,
		baseURL: alphaVantageURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		now:     time.Now,
		log:     log.With().Str("client", "alphavantage").Logger(),
	}
}

// FetchHistory returns daily bars for period. Periods beyond the compact
// 100-session window request the full series.
func (p *AlphaVantageProvider) FetchHistory(ctx context.Context, ticker, period string) ([]Bar, error) {
	outputSize := "compact"
	switch period {
	case "1y", "2y", "5y", "10y", "max", "ytd":
		outputSize = "full"
	}

	var result alphaVantageDaily
	if err := p.get(ctx, url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {ticker},
		"outputsize": {outputSize},
	}, &result); err != nil {
		return nil, err
	}
	if msg := firstNonEmpty(result.ErrorMessage, result.Note, result.Information); msg != "" {
		return nil, fmt.Errorf("alpha vantage error for %s: %s", ticker, msg)
	}

	bars := make([]Bar, 0, len(result.TimeSeriesDaily))
	for date, data := range result.TimeSeriesDaily {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			p.log.Warn().Str("ticker", ticker).Str("date", date).Msg("Skipping bar with bad date")
			continue
		}
		bar := Bar{Date: day}
		if bar.Open, err = strconv.ParseFloat(data.Open, 64); err != nil {
			continue
		}
		if bar.High, err = strconv.ParseFloat(data.High, 64); err != nil {
			continue
		}
		if bar.Low, err = strconv.ParseFloat(data.Low, 64); err != nil {
			continue
		}
		if bar.Close, err = strconv.ParseFloat(data.Close, 64); err != nil {
			continue
		}
		bar.Volume, _ = strconv.ParseInt(data.Volume, 10, 64)
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return TrimToPeriod(bars, period, p.now()), nil
}

// FetchInfo reads the company overview and derives the average volume from
// the compact daily series.
func (p *AlphaVantageProvider) FetchInfo(ctx context.Context, ticker string) (Info, error) {
	var overview alphaVantageOverview
	if err := p.get(ctx, url.Values{
		"function": {"OVERVIEW"},
		"symbol":   {ticker},
	}, &overview); err != nil {
		return Info{}, err
	}
	if msg := firstNonEmpty(overview.ErrorMessage, overview.Note, overview.Information); msg != "" {
		return Info{}, fmt.Errorf("alpha vantage error for %s: %s", ticker, msg)
	}

	info := Info{
		LongName: optionalString(overview.Name),
		Exchange: optionalString(overview.Exchange),
	}
	if v, err := strconv.ParseInt(overview.MarketCapitalization, 10, 64); err == nil && v > 0 {
		info.MarketCap = models.Some(v)
	}
	if v, err := strconv.ParseFloat(overview.PERatio, 64); err == nil && v > 0 {
		info.TrailingPE = models.Some(v)
	}

	bars, err := p.FetchHistory(ctx, ticker, "3mo")
	if err != nil {
		p.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to get volume history")
	} else {
		info.AverageVolume = AverageVolume(bars)
	}
	return info, nil
}

func (p *AlphaVantageProvider) get(ctx context.Context, params url.Values, out interface{}) error {
	params.Set("apikey", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", params.Get("function"), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alpha vantage returned status %d for %s", resp.StatusCode, params.Get("function"))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", params.Get("function"), err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
