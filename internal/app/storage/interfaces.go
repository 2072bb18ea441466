// Package storage defines the persistence contracts for the application
// along with the shared sentinel errors. Implementations live in the
// memory, postgres, and redis subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/trackfolio/backend/internal/app/domain/asset"
	"github.com/trackfolio/backend/internal/app/domain/auth"
	"github.com/trackfolio/backend/internal/app/domain/market"
)

// ErrNotFound is returned by lookup methods when no row matches.
var ErrNotFound = errors.New("storage: not found")

// PriceCacheStore persists price observations. Writes append; reads return
// the newest observation per (symbol, asset class) key.
type PriceCacheStore interface {
	// PutPriceQuote stores a new observation and returns it with its
	// assigned ID.
	PutPriceQuote(ctx context.Context, q market.PriceQuote) (market.PriceQuote, error)
	// LatestPriceQuote returns the newest observation for the key, or
	// ErrNotFound.
	LatestPriceQuote(ctx context.Context, symbol string, class market.AssetClass) (market.PriceQuote, error)
	// LatestPriceQuoteBatch returns the newest observation for each of the
	// given symbols within one asset class. Symbols with no cached
	// observation are absent from the result.
	LatestPriceQuoteBatch(ctx context.Context, symbols []string, class market.AssetClass) (map[string]market.PriceQuote, error)
	// DeletePriceQuotesBefore removes observations fetched before cutoff
	// and reports how many were removed.
	DeletePriceQuotesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// ClearPriceQuotes removes every observation.
	ClearPriceQuotes(ctx context.Context) (int64, error)
	// PriceCacheRows returns every stored observation, for statistics.
	PriceCacheRows(ctx context.Context) ([]market.PriceQuote, error)
}

// RateCacheStore persists conversion-rate observations keyed by the
// ordered currency pair.
type RateCacheStore interface {
	PutRateQuote(ctx context.Context, q market.RateQuote) (market.RateQuote, error)
	// LatestRateQuote returns the newest observation for the ordered pair,
	// or ErrNotFound.
	LatestRateQuote(ctx context.Context, from, to string) (market.RateQuote, error)
	// LatestRateQuoteBatch returns the newest observation for each of the
	// given ordered pairs. Pairs with no cached observation are absent
	// from the result.
	LatestRateQuoteBatch(ctx context.Context, pairs []market.CurrencyPair) (map[market.CurrencyPair]market.RateQuote, error)
	DeleteRateQuotesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ClearRateQuotes(ctx context.Context) (int64, error)
	RateCacheRows(ctx context.Context) ([]market.RateQuote, error)
}

// AssetStore persists portfolio positions.
type AssetStore interface {
	CreateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error)
	GetAsset(ctx context.Context, id string) (asset.Asset, error)
	ListAssets(ctx context.Context, userID string) ([]asset.Asset, error)
	UpdateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error)
	DeleteAsset(ctx context.Context, id string) error
}

// UserStore persists login principals.
type UserStore interface {
	CreateUser(ctx context.Context, u auth.User) (auth.User, error)
	GetUserByUsername(ctx context.Context, username string) (auth.User, error)
}

// SessionStore persists login sessions. Implementations may expire
// sessions on their own (redis TTL) or rely on the expiry check in the
// auth service.
type SessionStore interface {
	PutSession(ctx context.Context, s auth.Session) error
	GetSession(ctx context.Context, token string) (auth.Session, error)
	DeleteSession(ctx context.Context, token string) error
	// DeleteExpiredSessions removes sessions that expired before now and
	// reports how many were removed. Stores with native expiry return 0.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
