package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"
)

const yahooDefaultBaseURL = "https://query1.finance.yahoo.com"

// Yahoo is the fallback stock price provider, reading the chart endpoint's
// regular market price.
type Yahoo struct {
	client  *Client
	baseURL string
}

var _ StockPricer = (*Yahoo)(nil)

// NewYahoo creates a yahoo finance client. baseURL may be empty for the
// public API.
func NewYahoo(client *Client, baseURL string) *Yahoo {
	if baseURL == "" {
		baseURL = yahooDefaultBaseURL
	}
	return &Yahoo{client: client, baseURL: baseURL}
}

func (y *Yahoo) Name() string { return "yahoo" }

func (y *Yahoo) StockPrice(ctx context.Context, identifier string) (Quote, error) {
	body, err := y.client.Get(ctx, y.Name(), fmt.Sprintf("%s/v8/finance/chart/%s", y.baseURL, url.PathEscape(identifier)), nil)
	if err != nil {
		return Quote{}, err
	}

	meta := gjson.GetBytes(body, "chart.result.0.meta")
	price := meta.Get("regularMarketPrice")
	if !price.Exists() {
		return Quote{}, fmt.Errorf("yahoo: %s: %w", identifier, ErrNoQuote)
	}
	currency := meta.Get("currency").String()
	if currency == "" {
		currency = "USD"
	}
	return Quote{Price: price.Float(), Currency: currency, Source: y.Name()}, nil
}
