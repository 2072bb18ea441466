// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/trackfolio/backend/internal/app/domain/asset"
	"github.com/trackfolio/backend/internal/app/domain/auth"
	"github.com/trackfolio/backend/internal/app/domain/market"
	"github.com/trackfolio/backend/internal/app/storage"
)

// QueryStrategy selects how LatestPriceQuoteBatch fetches the newest quote
// per symbol.
type QueryStrategy string

const (
	// StrategyNaive issues one latest-quote query per symbol.
	StrategyNaive QueryStrategy = "naive"
	// StrategyBatch issues a single group-by query covering all symbols.
	StrategyBatch QueryStrategy = "batch"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db       *sql.DB
	strategy QueryStrategy
}

var _ storage.PriceCacheStore = (*Store)(nil)
var _ storage.RateCacheStore = (*Store)(nil)
var _ storage.AssetStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)

// New creates a Store using the provided database handle and the batch
// lookup strategy.
func New(db *sql.DB) *Store {
	return NewWithStrategy(db, StrategyBatch)
}

// NewWithStrategy creates a Store with an explicit batch-lookup strategy.
// Unknown strategies fall back to StrategyBatch.
func NewWithStrategy(db *sql.DB, strategy QueryStrategy) *Store {
	if strategy != StrategyNaive {
		strategy = StrategyBatch
	}
	return &Store{db: db, strategy: strategy}
}

// Strategy reports the batch-lookup strategy chosen at construction.
func (s *Store) Strategy() QueryStrategy {
	return s.strategy
}

// --- PriceCacheStore --------------------------------------------------------

func (s *Store) PutPriceQuote(ctx context.Context, q market.PriceQuote) (market.PriceQuote, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.FetchedAt.IsZero() {
		q.FetchedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_price_cache (id, symbol, asset_class, price, currency, source, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, q.ID, q.Symbol, string(q.AssetClass), q.Price, q.Currency, q.Source, q.FetchedAt)
	if err != nil {
		return market.PriceQuote{}, err
	}
	return q, nil
}

func (s *Store) LatestPriceQuote(ctx context.Context, symbol string, class market.AssetClass) (market.PriceQuote, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, asset_class, price, currency, source, fetched_at
		FROM app_price_cache
		WHERE symbol = $1 AND asset_class = $2
		ORDER BY fetched_at DESC
		LIMIT 1
	`, symbol, string(class))

	q, err := scanPriceQuote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return market.PriceQuote{}, storage.ErrNotFound
	}
	return q, err
}

func (s *Store) LatestPriceQuoteBatch(ctx context.Context, symbols []string, class market.AssetClass) (map[string]market.PriceQuote, error) {
	if len(symbols) == 0 {
		return map[string]market.PriceQuote{}, nil
	}
	if s.strategy == StrategyNaive {
		return s.latestPriceQuoteBatchNaive(ctx, symbols, class)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.symbol, p.asset_class, p.price, p.currency, p.source, p.fetched_at
		FROM app_price_cache p
		JOIN (
			SELECT symbol, MAX(fetched_at) AS fetched_at
			FROM app_price_cache
			WHERE symbol = ANY($1) AND asset_class = $2
			GROUP BY symbol
		) latest ON p.symbol = latest.symbol AND p.fetched_at = latest.fetched_at
		WHERE p.asset_class = $2
	`, pq.Array(symbols), string(class))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]market.PriceQuote, len(symbols))
	for rows.Next() {
		q, err := scanPriceQuote(rows)
		if err != nil {
			return nil, err
		}
		result[q.Symbol] = q
	}
	return result, rows.Err()
}

func (s *Store) latestPriceQuoteBatchNaive(ctx context.Context, symbols []string, class market.AssetClass) (map[string]market.PriceQuote, error) {
	result := make(map[string]market.PriceQuote, len(symbols))
	for _, symbol := range symbols {
		q, err := s.LatestPriceQuote(ctx, symbol, class)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[symbol] = q
	}
	return result, nil
}

func (s *Store) DeletePriceQuotesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM app_price_cache WHERE fetched_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) ClearPriceQuotes(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_price_cache`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) PriceCacheRows(ctx context.Context) ([]market.PriceQuote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, asset_class, price, currency, source, fetched_at
		FROM app_price_cache
		ORDER BY fetched_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []market.PriceQuote
	for rows.Next() {
		q, err := scanPriceQuote(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, q)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPriceQuote(row rowScanner) (market.PriceQuote, error) {
	var (
		q     market.PriceQuote
		class string
	)
	if err := row.Scan(&q.ID, &q.Symbol, &class, &q.Price, &q.Currency, &q.Source, &q.FetchedAt); err != nil {
		return market.PriceQuote{}, err
	}
	q.AssetClass = market.AssetClass(class)
	return q, nil
}

// --- RateCacheStore ---------------------------------------------------------

func (s *Store) PutRateQuote(ctx context.Context, q market.RateQuote) (market.RateQuote, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.FetchedAt.IsZero() {
		q.FetchedAt = time.Now().UTC()
	}
	q.FromCurrency = market.NormalizeCurrency(q.FromCurrency)
	q.ToCurrency = market.NormalizeCurrency(q.ToCurrency)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_conversion_cache (id, from_currency, to_currency, rate, source, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, q.ID, q.FromCurrency, q.ToCurrency, q.Rate, q.Source, q.FetchedAt)
	if err != nil {
		return market.RateQuote{}, err
	}
	return q, nil
}

func (s *Store) LatestRateQuote(ctx context.Context, from, to string) (market.RateQuote, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, from_currency, to_currency, rate, source, fetched_at
		FROM app_conversion_cache
		WHERE from_currency = $1 AND to_currency = $2
		ORDER BY fetched_at DESC
		LIMIT 1
	`, market.NormalizeCurrency(from), market.NormalizeCurrency(to))

	q, err := scanRateQuote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return market.RateQuote{}, storage.ErrNotFound
	}
	return q, err
}

func (s *Store) LatestRateQuoteBatch(ctx context.Context, pairs []market.CurrencyPair) (map[market.CurrencyPair]market.RateQuote, error) {
	if len(pairs) == 0 {
		return map[market.CurrencyPair]market.RateQuote{}, nil
	}
	if s.strategy == StrategyNaive {
		return s.latestRateQuoteBatchNaive(ctx, pairs)
	}

	placeholders := make([]string, len(pairs))
	args := make([]any, 0, len(pairs)*2)
	for i, pair := range pairs {
		placeholders[i] = fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2)
		args = append(args, market.NormalizeCurrency(pair.From), market.NormalizeCurrency(pair.To))
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT r.id, r.from_currency, r.to_currency, r.rate, r.source, r.fetched_at
		FROM app_conversion_cache r
		JOIN (
			SELECT from_currency, to_currency, MAX(fetched_at) AS fetched_at
			FROM app_conversion_cache
			WHERE (from_currency, to_currency) IN (%s)
			GROUP BY from_currency, to_currency
		) latest ON r.from_currency = latest.from_currency
			AND r.to_currency = latest.to_currency
			AND r.fetched_at = latest.fetched_at
	`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[market.CurrencyPair]market.RateQuote, len(pairs))
	for rows.Next() {
		q, err := scanRateQuote(rows)
		if err != nil {
			return nil, err
		}
		result[market.CurrencyPair{From: q.FromCurrency, To: q.ToCurrency}] = q
	}
	return result, rows.Err()
}

func (s *Store) latestRateQuoteBatchNaive(ctx context.Context, pairs []market.CurrencyPair) (map[market.CurrencyPair]market.RateQuote, error) {
	result := make(map[market.CurrencyPair]market.RateQuote, len(pairs))
	for _, pair := range pairs {
		q, err := s.LatestRateQuote(ctx, pair.From, pair.To)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[market.CurrencyPair{From: q.FromCurrency, To: q.ToCurrency}] = q
	}
	return result, nil
}

func (s *Store) DeleteRateQuotesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM app_conversion_cache WHERE fetched_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) ClearRateQuotes(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_conversion_cache`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) RateCacheRows(ctx context.Context) ([]market.RateQuote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_currency, to_currency, rate, source, fetched_at
		FROM app_conversion_cache
		ORDER BY fetched_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []market.RateQuote
	for rows.Next() {
		q, err := scanRateQuote(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, q)
	}
	return result, rows.Err()
}

func scanRateQuote(row rowScanner) (market.RateQuote, error) {
	var q market.RateQuote
	if err := row.Scan(&q.ID, &q.FromCurrency, &q.ToCurrency, &q.Rate, &q.Source, &q.FetchedAt); err != nil {
		return market.RateQuote{}, err
	}
	return q, nil
}

// --- AssetStore -------------------------------------------------------------

func (s *Store) CreateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.PurchasedAt.IsZero() {
		a.PurchasedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_assets (id, user_id, identifier, asset_class, display_name, quantity, purchase_price, currency, purchased_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, a.UserID, a.Identifier, string(a.AssetClass), a.DisplayName, a.Quantity, a.PurchasePrice, a.Currency, a.PurchasedAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return asset.Asset{}, err
	}
	return a, nil
}

func (s *Store) GetAsset(ctx context.Context, id string) (asset.Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, identifier, asset_class, display_name, quantity, purchase_price, currency, purchased_at, created_at, updated_at
		FROM app_assets
		WHERE id = $1
	`, id)

	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return asset.Asset{}, storage.ErrNotFound
	}
	return a, err
}

func (s *Store) ListAssets(ctx context.Context, userID string) ([]asset.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, identifier, asset_class, display_name, quantity, purchase_price, currency, purchased_at, created_at, updated_at
		FROM app_assets
		WHERE $1 = '' OR user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []asset.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) UpdateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error) {
	existing, err := s.GetAsset(ctx, a.ID)
	if err != nil {
		return asset.Asset{}, err
	}
	a.UserID = existing.UserID
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_assets
		SET identifier = $2, asset_class = $3, display_name = $4, quantity = $5,
		    purchase_price = $6, currency = $7, purchased_at = $8, updated_at = $9
		WHERE id = $1
	`, a.ID, a.Identifier, string(a.AssetClass), a.DisplayName, a.Quantity, a.PurchasePrice, a.Currency, a.PurchasedAt, a.UpdatedAt)
	if err != nil {
		return asset.Asset{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return asset.Asset{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *Store) DeleteAsset(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_assets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanAsset(row rowScanner) (asset.Asset, error) {
	var (
		a     asset.Asset
		class string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Identifier, &class, &a.DisplayName, &a.Quantity, &a.PurchasePrice, &a.Currency, &a.PurchasedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return asset.Asset{}, err
	}
	a.AssetClass = market.AssetClass(class)
	return a, nil
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, u.ID, u.Username, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM app_users
		WHERE lower(username) = lower($1)
	`, username)

	var u auth.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, storage.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}

func (s *Store) PutSession(ctx context.Context, sess auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_sessions (token, user_id, username, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`, sess.Token, sess.UserID, sess.Username, sess.CreatedAt, sess.ExpiresAt)
	return err
}

func (s *Store) GetSession(ctx context.Context, token string) (auth.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, user_id, username, created_at, expires_at
		FROM app_sessions
		WHERE token = $1
	`, token)

	var sess auth.Session
	err := row.Scan(&sess.Token, &sess.UserID, &sess.Username, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return auth.Session{}, err
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_sessions WHERE token = $1`, token)
	return err
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM app_sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
