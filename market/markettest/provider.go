// Package markettest provides an in-memory market.Provider for tests.
package markettest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"portfolio-tracker/market"
)

// Provider serves canned bars and info keyed by ticker. Tickers listed in
// Failures return that error instead.
type Provider struct {
	mu       sync.Mutex
	bars     map[string][]market.Bar
	info     map[string]market.Info
	failures map[string]error
	calls    map[string]int
}

func NewProvider() *Provider {
	return &Provider{
		bars:     make(map[string][]market.Bar),
		info:     make(map[string]market.Info),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// SetBars registers the history returned for ticker regardless of period.
func (p *Provider) SetBars(ticker string, bars ...market.Bar) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars[ticker] = bars
	return p
}

// SetQuote registers a single session with the given open and close.
func (p *Provider) SetQuote(ticker string, open, close float64) *Provider {
	return p.SetBars(ticker, market.Bar{
		Date:  time.Now().UTC().Truncate(24 * time.Hour),
		Open:  open,
		High:  max(open, close),
		Low:   min(open, close),
		Close: close,
	})
}

func (p *Provider) SetInfo(ticker string, info market.Info) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.info[ticker] = info
	return p
}

// Fail makes every call for ticker return err.
func (p *Provider) Fail(ticker string, err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[ticker] = err
	return p
}

// Calls reports how many fetches were made for ticker.
func (p *Provider) Calls(ticker string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[ticker]
}

func (p *Provider) FetchHistory(ctx context.Context, ticker, period string) ([]market.Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[ticker]++
	if err := p.failures[ticker]; err != nil {
		return nil, fmt.Errorf("history %s: %w", ticker, err)
	}
	return append([]market.Bar(nil), p.bars[ticker]...), nil
}

func (p *Provider) FetchInfo(ctx context.Context, ticker string) (market.Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[ticker]++
	if err := p.failures[ticker]; err != nil {
		return market.Info{}, fmt.Errorf("info %s: %w", ticker, err)
	}
	info, ok := p.info[ticker]
	if !ok {
		return market.Info{}, fmt.Errorf("no info for %s", ticker)
	}
	return info, nil
}
