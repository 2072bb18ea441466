// Package market holds the domain models for cached market data: price and
// conversion-rate observations plus the result views returned to API
// callers.
package market

import (
	"strings"
	"time"
)

// AssetClass identifies the kind of instrument a price belongs to.
type AssetClass string

const (
	AssetStock      AssetClass = "stock"
	AssetCrypto     AssetClass = "crypto"
	AssetDerivative AssetClass = "derivative"
)

// Valid reports whether the class is one of the known values.
func (c AssetClass) Valid() bool {
	switch c {
	case AssetStock, AssetCrypto, AssetDerivative:
		return true
	}
	return false
}

// PriceQuote is one observed price for a (symbol, asset class) key. Quotes
// are immutable once written; the latest quote for a key is the one with
// the greatest FetchedAt.
type PriceQuote struct {
	ID         string     `json:"-"`
	Symbol     string     `json:"symbol"`
	AssetClass AssetClass `json:"asset_class"`
	Price      float64    `json:"price"`
	Currency   string     `json:"currency"`
	Source     string     `json:"source"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

// RateQuote is one observed conversion rate for an ordered currency pair.
// The pair (From, To) is directional: (USD, EUR) and (EUR, USD) are
// distinct keys.
type RateQuote struct {
	ID           string    `json:"-"`
	FromCurrency string    `json:"from_currency"`
	ToCurrency   string    `json:"to_currency"`
	Rate         float64   `json:"rate"`
	Source       string    `json:"source"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// CurrencyPair is the ordered key of a conversion-rate observation.
type CurrencyPair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// FetchOptions are the caller-controlled knobs on every lookup.
type FetchOptions struct {
	// ForceRefresh bypasses the cache entirely; even a brand-new entry is
	// treated as stale.
	ForceRefresh bool
	// AllowExpired accepts a cached entry older than its TTL.
	AllowExpired bool
}

// CacheStatus describes how a returned value relates to its TTL.
type CacheStatus struct {
	IsValid               bool          `json:"is_valid"`
	AgeMinutes            float64       `json:"age_minutes"`
	ExpiresAt             time.Time     `json:"expires_at"`
	TTL                   time.Duration `json:"-"`
	TTLMinutes            float64       `json:"ttl_minutes"`
	ForceRefreshRequested bool          `json:"force_refresh_requested"`
	UsingExpiredCache     bool          `json:"using_expired_cache"`
}

// PriceResult is the orchestrator's answer to a price lookup.
type PriceResult struct {
	Symbol      string      `json:"symbol"`
	AssetClass  AssetClass  `json:"asset_class"`
	Price       float64     `json:"price"`
	Currency    string      `json:"currency"`
	Cached      bool        `json:"cached"`
	Source      string      `json:"source"`
	FetchedAt   time.Time   `json:"fetched_at"`
	CacheStatus CacheStatus `json:"cache_status"`
}

// RateResult is the orchestrator's answer to a conversion-rate lookup.
type RateResult struct {
	From          string      `json:"from"`
	To            string      `json:"to"`
	Rate          float64     `json:"rate"`
	Cached        bool        `json:"cached"`
	Source        string      `json:"source"`
	FetchedAt     time.Time   `json:"fetched_at"`
	IsInversePair bool        `json:"is_inverse_pair"`
	CacheStatus   CacheStatus `json:"cache_status"`
}

// ConversionResult extends a RateResult with a converted amount.
type ConversionResult struct {
	RateResult
	Amount    float64 `json:"amount"`
	Converted float64 `json:"converted"`
}
