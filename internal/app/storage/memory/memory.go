// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/trackfolio/backend/internal/app/domain/asset"
	"github.com/trackfolio/backend/internal/app/domain/auth"
	"github.com/trackfolio/backend/internal/app/domain/market"
	"github.com/trackfolio/backend/internal/app/storage"
)

// Store holds all records in process memory. Price and rate observations
// are append-only slices; latest-quote reads scan for the greatest
// FetchedAt so the semantics match the SQL store.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	priceRows   []market.PriceQuote
	rateRows    []market.RateQuote
	assets      map[string]asset.Asset
	users       map[string]auth.User
	usersByName map[string]string
	sessions    map[string]auth.Session
}

var _ storage.PriceCacheStore = (*Store)(nil)
var _ storage.RateCacheStore = (*Store)(nil)
var _ storage.AssetStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:      1,
		assets:      make(map[string]asset.Asset),
		users:       make(map[string]auth.User),
		usersByName: make(map[string]string),
		sessions:    make(map[string]auth.Session),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// --- PriceCacheStore --------------------------------------------------------

func (s *Store) PutPriceQuote(_ context.Context, q market.PriceQuote) (market.PriceQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.ID == "" {
		q.ID = s.nextIDLocked()
	}
	if q.FetchedAt.IsZero() {
		q.FetchedAt = time.Now().UTC()
	}
	s.priceRows = append(s.priceRows, q)
	return q, nil
}

func (s *Store) LatestPriceQuote(_ context.Context, symbol string, class market.AssetClass) (market.PriceQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  market.PriceQuote
		found bool
	)
	for _, q := range s.priceRows {
		if q.AssetClass != class || !strings.EqualFold(q.Symbol, symbol) {
			continue
		}
		if !found || q.FetchedAt.After(best.FetchedAt) {
			best = q
			found = true
		}
	}
	if !found {
		return market.PriceQuote{}, storage.ErrNotFound
	}
	return best, nil
}

func (s *Store) LatestPriceQuoteBatch(ctx context.Context, symbols []string, class market.AssetClass) (map[string]market.PriceQuote, error) {
	result := make(map[string]market.PriceQuote, len(symbols))
	for _, symbol := range symbols {
		q, err := s.LatestPriceQuote(ctx, symbol, class)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}
		result[symbol] = q
	}
	return result, nil
}

func (s *Store) DeletePriceQuotesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.priceRows[:0]
	var removed int64
	for _, q := range s.priceRows {
		if q.FetchedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, q)
	}
	s.priceRows = kept
	return removed, nil
}

func (s *Store) ClearPriceQuotes(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := int64(len(s.priceRows))
	s.priceRows = nil
	return removed, nil
}

func (s *Store) PriceCacheRows(_ context.Context) ([]market.PriceQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]market.PriceQuote, len(s.priceRows))
	copy(rows, s.priceRows)
	return rows, nil
}

// --- RateCacheStore ---------------------------------------------------------

func (s *Store) PutRateQuote(_ context.Context, q market.RateQuote) (market.RateQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.ID == "" {
		q.ID = s.nextIDLocked()
	}
	if q.FetchedAt.IsZero() {
		q.FetchedAt = time.Now().UTC()
	}
	q.FromCurrency = market.NormalizeCurrency(q.FromCurrency)
	q.ToCurrency = market.NormalizeCurrency(q.ToCurrency)
	s.rateRows = append(s.rateRows, q)
	return q, nil
}

func (s *Store) LatestRateQuote(_ context.Context, from, to string) (market.RateQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from = market.NormalizeCurrency(from)
	to = market.NormalizeCurrency(to)

	var (
		best  market.RateQuote
		found bool
	)
	for _, q := range s.rateRows {
		if q.FromCurrency != from || q.ToCurrency != to {
			continue
		}
		if !found || q.FetchedAt.After(best.FetchedAt) {
			best = q
			found = true
		}
	}
	if !found {
		return market.RateQuote{}, storage.ErrNotFound
	}
	return best, nil
}

func (s *Store) LatestRateQuoteBatch(ctx context.Context, pairs []market.CurrencyPair) (map[market.CurrencyPair]market.RateQuote, error) {
	result := make(map[market.CurrencyPair]market.RateQuote, len(pairs))
	for _, pair := range pairs {
		q, err := s.LatestRateQuote(ctx, pair.From, pair.To)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}
		key := market.CurrencyPair{
			From: market.NormalizeCurrency(pair.From),
			To:   market.NormalizeCurrency(pair.To),
		}
		result[key] = q
	}
	return result, nil
}

func (s *Store) DeleteRateQuotesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rateRows[:0]
	var removed int64
	for _, q := range s.rateRows {
		if q.FetchedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, q)
	}
	s.rateRows = kept
	return removed, nil
}

func (s *Store) ClearRateQuotes(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := int64(len(s.rateRows))
	s.rateRows = nil
	return removed, nil
}

func (s *Store) RateCacheRows(_ context.Context) ([]market.RateQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]market.RateQuote, len(s.rateRows))
	copy(rows, s.rateRows)
	return rows, nil
}

// --- AssetStore -------------------------------------------------------------

func (s *Store) CreateAsset(_ context.Context, a asset.Asset) (asset.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = s.nextIDLocked()
	} else if _, exists := s.assets[a.ID]; exists {
		return asset.Asset{}, fmt.Errorf("asset %s already exists", a.ID)
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	s.assets[a.ID] = a
	return a, nil
}

func (s *Store) GetAsset(_ context.Context, id string) (asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	if !ok {
		return asset.Asset{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListAssets(_ context.Context, userID string) ([]asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]asset.Asset, 0)
	for _, a := range s.assets {
		if userID == "" || a.UserID == userID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) UpdateAsset(_ context.Context, a asset.Asset) (asset.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.assets[a.ID]
	if !ok {
		return asset.Asset{}, storage.ErrNotFound
	}
	a.UserID = original.UserID
	a.CreatedAt = original.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	s.assets[a.ID] = a
	return a, nil
}

func (s *Store) DeleteAsset(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.assets, id)
	return nil
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(u.Username)
	if _, exists := s.usersByName[key]; exists {
		return auth.User{}, fmt.Errorf("user %s already exists", u.Username)
	}
	if u.ID == "" {
		u.ID = s.nextIDLocked()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = u
	s.usersByName[key] = u.ID
	return u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByName[strings.ToLower(username)]
	if !ok {
		return auth.User{}, storage.ErrNotFound
	}
	return s.users[id], nil
}

// --- SessionStore -----------------------------------------------------------

func (s *Store) PutSession(_ context.Context, sess auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.Token] = sess
	return nil
}

func (s *Store) GetSession(_ context.Context, token string) (auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok {
		return auth.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	return nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}
