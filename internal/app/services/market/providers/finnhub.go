package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"
)

const finnhubDefaultBaseURL = "https://finnhub.io/api/v1"

// Finnhub is the primary stock price provider. ISIN identifiers are first
// resolved to an exchange symbol through the symbol-lookup endpoint.
type Finnhub struct {
	client  *Client
	apiKey  string
	baseURL string
}

var _ StockPricer = (*Finnhub)(nil)

// NewFinnhub creates a finnhub client. baseURL may be empty for the public
// API.
func NewFinnhub(client *Client, apiKey, baseURL string) *Finnhub {
	if baseURL == "" {
		baseURL = finnhubDefaultBaseURL
	}
	return &Finnhub{client: client, apiKey: apiKey, baseURL: baseURL}
}

func (f *Finnhub) Name() string { return "finnhub" }

// IsISIN reports whether the identifier looks like an ISIN: exactly 12
// alphanumeric characters.
func IsISIN(identifier string) bool {
	if len(identifier) != 12 {
		return false
	}
	for _, r := range identifier {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// StockPrice returns the current quote for the identifier. Finnhub quotes
// are USD.
func (f *Finnhub) StockPrice(ctx context.Context, identifier string) (Quote, error) {
	symbol := identifier
	if IsISIN(identifier) {
		resolved, err := f.lookupSymbol(ctx, identifier)
		if err != nil {
			return Quote{}, err
		}
		symbol = resolved
	}

	body, err := f.client.Get(ctx, f.Name(), fmt.Sprintf("%s/quote?symbol=%s&token=%s", f.baseURL, url.QueryEscape(symbol), f.apiKey), nil)
	if err != nil {
		return Quote{}, err
	}

	price := gjson.GetBytes(body, "c")
	if !price.Exists() || price.Float() == 0 {
		return Quote{}, fmt.Errorf("finnhub: %s: %w", symbol, ErrNoQuote)
	}
	return Quote{Price: price.Float(), Currency: "USD", Source: f.Name()}, nil
}

func (f *Finnhub) lookupSymbol(ctx context.Context, isin string) (string, error) {
	body, err := f.client.Get(ctx, f.Name(), fmt.Sprintf("%s/search?q=%s&token=%s", f.baseURL, url.QueryEscape(isin), f.apiKey), nil)
	if err != nil {
		return "", err
	}
	if gjson.GetBytes(body, "count").Int() == 0 {
		return "", fmt.Errorf("finnhub: no symbol for isin %s: %w", isin, ErrNoQuote)
	}
	symbol := gjson.GetBytes(body, "result.0.symbol").String()
	if symbol == "" {
		return "", fmt.Errorf("finnhub: empty symbol for isin %s: %w", isin, ErrNoQuote)
	}
	return symbol, nil
}
