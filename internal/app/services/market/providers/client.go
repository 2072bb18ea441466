// Package providers contains the upstream market-data clients. Each
// provider wraps one external HTTP API behind a small interface so the
// fetch orchestrator can try them in order.
package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Quote is a single price observation returned by a provider.
type Quote struct {
	Price    float64
	Currency string
	Source   string
}

// StockPricer resolves a stock identifier (ticker or ISIN) to a quote.
type StockPricer interface {
	Name() string
	StockPrice(ctx context.Context, identifier string) (Quote, error)
}

// CryptoPricer resolves a crypto symbol to a quote.
type CryptoPricer interface {
	Name() string
	CryptoPrice(ctx context.Context, symbol string) (Quote, error)
}

// DerivativePricer resolves a derivative ISIN to a quote.
type DerivativePricer interface {
	Name() string
	DerivativePrice(ctx context.Context, isin string) (Quote, error)
}

// RateFetcher resolves a currency pair to a conversion rate.
type RateFetcher interface {
	Name() string
	Rate(ctx context.Context, from, to string) (float64, error)
}

// StatusError reports a non-success HTTP response from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.StatusCode)
}

// ErrNoQuote is returned when a provider answers successfully but carries
// no usable price for the identifier.
var ErrNoQuote = fmt.Errorf("provider returned no quote")

// Client is the HTTP plumbing shared by all providers: one pooled
// http.Client plus a token-bucket limiter pacing outbound requests.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a shared provider client. requestsPerSecond <= 0
// disables pacing.
func NewClient(connectTimeout, requestTimeout time.Duration, requestsPerSecond int) *Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: connectTimeout,
	}
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
	return &Client{
		http:    &http.Client{Transport: transport, Timeout: requestTimeout},
		limiter: limiter,
	}
}

// Get performs a paced GET and returns the response body. Non-2xx
// responses yield a *StatusError carrying the upstream status code.
func (c *Client) Get(ctx context.Context, provider, url string, header http.Header) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", provider, err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Provider: provider, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", provider, err)
	}
	return body, nil
}
