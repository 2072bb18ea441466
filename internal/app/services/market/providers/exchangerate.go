package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"
)

const exchangeRateDefaultBaseURL = "https://v6.exchangerate-api.com"

// ExchangeRate fetches currency conversion rates from exchangerate-api's
// v6 pair endpoint.
type ExchangeRate struct {
	client  *Client
	apiKey  string
	baseURL string
}

var _ RateFetcher = (*ExchangeRate)(nil)

// NewExchangeRate creates an exchangerate-api client. baseURL may be empty
// for the public API.
func NewExchangeRate(client *Client, apiKey, baseURL string) *ExchangeRate {
	if baseURL == "" {
		baseURL = exchangeRateDefaultBaseURL
	}
	return &ExchangeRate{client: client, apiKey: apiKey, baseURL: baseURL}
}

func (e *ExchangeRate) Name() string { return "exchangerate" }

func (e *ExchangeRate) Rate(ctx context.Context, from, to string) (float64, error) {
	if e.apiKey == "" {
		return 0, fmt.Errorf("exchangerate: api key not configured")
	}

	body, err := e.client.Get(ctx, e.Name(), fmt.Sprintf("%s/v6/%s/pair/%s/%s", e.baseURL, url.PathEscape(e.apiKey), url.PathEscape(from), url.PathEscape(to)), nil)
	if err != nil {
		return 0, err
	}

	rate := gjson.GetBytes(body, "conversion_rate")
	if !rate.Exists() {
		return 0, fmt.Errorf("exchangerate: %s/%s: %w", from, to, ErrNoQuote)
	}
	return rate.Float(), nil
}
