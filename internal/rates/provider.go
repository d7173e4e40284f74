// Package rates supplies exchange-rate tables to the pricing engine. The
// HTTP provider sits behind a circuit breaker with retries; the cached source
// keeps the last good table in redis so a flapping provider does not take
// pricing down with it.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/noah-isme/promo-core/internal/fx"
	"github.com/noah-isme/promo-core/internal/obs"
	"github.com/noah-isme/promo-core/internal/resilience"
)

// Source produces the rate table for one pricing pass.
type Source interface {
	GetRates(ctx context.Context, asOf time.Time) (fx.RateTable, error)
}

// HTTPProvider fetches rates from an external quote API. The response is the
// usual base-plus-quotes shape: {"base":"USD","rates":{"EUR":0.92,...}}.
type HTTPProvider struct {
	BaseURL string
	Client  resilience.HTTPClient
	Logger  zerolog.Logger
}

func NewHTTPProvider(baseURL string, client *http.Client, breaker *resilience.Breaker, logger zerolog.Logger) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: baseURL,
		Client: resilience.HTTPClient{
			Client:      client,
			Breaker:     breaker,
			MaxAttempts: 3,
			BaseBackoff: 200 * time.Millisecond,
			Jitter:      0.2,
		},
		Logger: logger,
	}
}

type quoteResponse struct {
	Base  string            `json:"base"`
	Rates map[string]string `json:"rates"`
}

func (p *HTTPProvider) GetRates(ctx context.Context, asOf time.Time) (fx.RateTable, error) {
	url := fmt.Sprintf("%s/v1/rates?date=%s", p.BaseURL, asOf.UTC().Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build rates request: %w", err)
	}

	resp, err := p.Client.Do(ctx, req)
	if err != nil {
		obs.ObserveRatesFetch("http", "error")
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		obs.ObserveRatesFetch("http", "error")
		return nil, fmt.Errorf("fetch rates: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		obs.ObserveRatesFetch("http", "error")
		return nil, fmt.Errorf("read rates response: %w", err)
	}

	var quote quoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		obs.ObserveRatesFetch("http", "error")
		return nil, fmt.Errorf("decode rates response: %w", err)
	}

	table, err := tableFromQuote(quote, p.Logger)
	if err != nil {
		obs.ObserveRatesFetch("http", "error")
		return nil, err
	}
	obs.ObserveRatesFetch("http", "ok")
	return table, nil
}

func tableFromQuote(quote quoteResponse, logger zerolog.Logger) (fx.RateTable, error) {
	base, err := currency.ParseISO(quote.Base)
	if err != nil {
		return nil, fmt.Errorf("rates base currency %q: %w", quote.Base, err)
	}
	table := make(fx.RateTable, len(quote.Rates))
	for code, raw := range quote.Rates {
		unit, err := currency.ParseISO(code)
		if err != nil {
			logger.Warn().Str("currency", code).Msg("skipping unknown currency in rates feed")
			continue
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil || !rate.IsPositive() {
			logger.Warn().Str("currency", code).Str("rate", raw).Msg("skipping bad rate in rates feed")
			continue
		}
		table[fx.Pair{From: base, To: unit}] = rate
	}
	return table, nil
}
