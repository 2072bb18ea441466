// Package market implements the price and conversion-rate fetch
// orchestrator: cache lookups, provider fallback chains, resilience, and
// the stale-cache fallback when every provider fails.
package market

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/trackfolio/backend/internal/app/domain/market"
	"github.com/trackfolio/backend/internal/app/metrics"
	"github.com/trackfolio/backend/internal/app/services/cache"
	"github.com/trackfolio/backend/internal/app/services/market/providers"
	"github.com/trackfolio/backend/internal/app/storage"
	"github.com/trackfolio/backend/internal/resilience"
	"github.com/trackfolio/backend/pkg/logger"
)

// sourceSameCurrency marks a conversion answered without any provider or
// cache involvement.
const sourceSameCurrency = "same_currency"

// Options wires the orchestrator's collaborators.
type Options struct {
	Prices             storage.PriceCacheStore
	Rates              storage.RateCacheStore
	StockProviders     []providers.StockPricer
	CryptoProvider     providers.CryptoPricer
	DerivativeProvider providers.DerivativePricer
	RateProvider       providers.RateFetcher
	Breakers           *resilience.Registry
	Caller             *resilience.Caller
	Cache              *cache.Service
	PriceTTL           time.Duration
	ConversionTTL      time.Duration
	Log                *logger.Logger
}

// Service orchestrates price and rate lookups across the cache and the
// provider chains.
type Service struct {
	prices      storage.PriceCacheStore
	rates       storage.RateCacheStore
	stocks      []providers.StockPricer
	crypto      providers.CryptoPricer
	derivatives providers.DerivativePricer
	rateFetcher providers.RateFetcher
	breakers    *resilience.Registry
	caller      *resilience.Caller
	cache       *cache.Service
	counters    *cache.StatsRegistry

	priceTTL time.Duration
	rateTTL  time.Duration

	log   *logger.Logger
	clock func() time.Time
}

// New constructs the orchestrator. Zero TTLs default to 15 minutes for
// prices and 24 hours for conversions.
func New(opts Options) *Service {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("market")
	}
	breakers := opts.Breakers
	if breakers == nil {
		breakers = resilience.NewRegistry(resilience.DefaultBreakerConfig())
	}
	caller := opts.Caller
	if caller == nil {
		caller = resilience.NewCaller(resilience.DefaultRetryConfig(), breakers, log)
	}
	cacheSvc := opts.Cache
	if cacheSvc == nil {
		cacheSvc = cache.New(opts.Prices, opts.Rates, nil, cache.Config{
			PriceTTL:      opts.PriceTTL,
			ConversionTTL: opts.ConversionTTL,
		}, log)
	}
	priceTTL := opts.PriceTTL
	if priceTTL <= 0 {
		priceTTL = 15 * time.Minute
	}
	rateTTL := opts.ConversionTTL
	if rateTTL <= 0 {
		rateTTL = 24 * time.Hour
	}
	return &Service{
		prices:      opts.Prices,
		rates:       opts.Rates,
		stocks:      opts.StockProviders,
		crypto:      opts.CryptoProvider,
		derivatives: opts.DerivativeProvider,
		rateFetcher: opts.RateProvider,
		breakers:    breakers,
		caller:      caller,
		cache:       cacheSvc,
		counters:    cacheSvc.Counters(),
		priceTTL:    priceTTL,
		rateTTL:     rateTTL,
		log:         log,
		clock:       time.Now,
	}
}

// GetStockPrice resolves a stock identifier (ticker or ISIN) to a price,
// trying the configured stock providers in order.
func (s *Service) GetStockPrice(ctx context.Context, identifier string, opts market.FetchOptions) (market.PriceResult, error) {
	identifier = strings.ToUpper(strings.TrimSpace(identifier))
	if identifier == "" {
		return market.PriceResult{}, &ValidationError{Field: "identifier", Reason: "must not be empty"}
	}
	return s.lookupPrice(ctx, identifier, market.AssetStock, opts, s.fetchStock)
}

// GetCryptoPrice resolves a crypto ticker symbol to a USD price.
func (s *Service) GetCryptoPrice(ctx context.Context, symbol string, opts market.FetchOptions) (market.PriceResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return market.PriceResult{}, &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if s.crypto == nil {
		return market.PriceResult{}, &ValidationError{Field: "symbol", Reason: "no crypto provider configured"}
	}
	return s.lookupPrice(ctx, symbol, market.AssetCrypto, opts, func(ctx context.Context, symbol string) (providers.Quote, error) {
		return s.callProvider(ctx, s.crypto.Name(), "crypto_price", func(ctx context.Context) (providers.Quote, error) {
			return s.crypto.CryptoPrice(ctx, symbol)
		})
	})
}

// GetDerivativePrice resolves a derivative ISIN to a price.
func (s *Service) GetDerivativePrice(ctx context.Context, isin string, opts market.FetchOptions) (market.PriceResult, error) {
	isin = strings.ToUpper(strings.TrimSpace(isin))
	if !providers.IsISIN(isin) {
		return market.PriceResult{}, &ValidationError{Field: "isin", Reason: "must be 12 alphanumeric characters"}
	}
	if s.derivatives == nil {
		return market.PriceResult{}, &ValidationError{Field: "isin", Reason: "no derivative provider configured"}
	}
	return s.lookupPrice(ctx, isin, market.AssetDerivative, opts, func(ctx context.Context, isin string) (providers.Quote, error) {
		return s.callProvider(ctx, s.derivatives.Name(), "derivative_price", func(ctx context.Context) (providers.Quote, error) {
			return s.derivatives.DerivativePrice(ctx, isin)
		})
	})
}

// lookupPrice is the shared cache-then-fetch path. The hit/miss counter is
// incremented exactly once per lookup, at the validity decision.
func (s *Service) lookupPrice(ctx context.Context, symbol string, class market.AssetClass, opts market.FetchOptions, fetch func(ctx context.Context, symbol string) (providers.Quote, error)) (market.PriceResult, error) {
	now := s.clock().UTC()

	cached, err := s.prices.LatestPriceQuote(ctx, symbol, class)
	cachedOK := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		// Read failure degrades to a cache miss.
		s.log.WithError(err).Warnf("price cache read failed for %s/%s", symbol, class)
	}

	if cachedOK {
		status := cache.Status(cached.FetchedAt, s.priceTTL, opts.ForceRefresh, now)
		if status.IsValid || (opts.AllowExpired && !opts.ForceRefresh) {
			s.counters.RecordPriceHit()
			metrics.RecordCacheLookup("price", true)
			status.UsingExpiredCache = !status.IsValid
			return priceResult(cached, true, status), nil
		}
	}
	s.counters.RecordPriceMiss()
	metrics.RecordCacheLookup("price", false)

	quote, fetchErr := fetch(ctx, symbol)
	if fetchErr == nil {
		fresh := market.PriceQuote{
			Symbol:     symbol,
			AssetClass: class,
			Price:      quote.Price,
			Currency:   quote.Currency,
			Source:     quote.Source,
			FetchedAt:  now,
		}
		if _, err := s.prices.PutPriceQuote(ctx, fresh); err != nil {
			// A fetched price is still an answer; the write failure is
			// logged and dropped.
			s.log.WithError(err).Warnf("price cache write failed for %s/%s", symbol, class)
		}
		return priceResult(fresh, false, cache.Status(now, s.priceTTL, false, now)), nil
	}

	if !cachedOK {
		cached, err = s.prices.LatestPriceQuote(ctx, symbol, class)
		cachedOK = err == nil
	}
	if cachedOK {
		status := cache.Status(cached.FetchedAt, s.priceTTL, false, now)
		status.UsingExpiredCache = !status.IsValid
		s.log.WithField("symbol", symbol).
			WithField("asset_class", string(class)).
			Warnf("serving stale cached price after fetch failure: %v", fetchErr)
		return priceResult(cached, true, status), nil
	}

	if errors.Is(fetchErr, providers.ErrNoQuote) {
		return market.PriceResult{}, &NotFoundError{Kind: string(class), Identifier: symbol, Err: fetchErr}
	}
	return market.PriceResult{}, fetchErr
}

func priceResult(q market.PriceQuote, cached bool, status market.CacheStatus) market.PriceResult {
	return market.PriceResult{
		Symbol:      q.Symbol,
		AssetClass:  q.AssetClass,
		Price:       q.Price,
		Currency:    q.Currency,
		Cached:      cached,
		Source:      q.Source,
		FetchedAt:   q.FetchedAt,
		CacheStatus: status,
	}
}

// fetchStock walks the stock provider chain in order, returning the first
// successful quote.
func (s *Service) fetchStock(ctx context.Context, identifier string) (providers.Quote, error) {
	if len(s.stocks) == 0 {
		return providers.Quote{}, &ValidationError{Field: "identifier", Reason: "no stock providers configured"}
	}

	var lastErr error
	for _, provider := range s.stocks {
		quote, err := s.callProvider(ctx, provider.Name(), "stock_price", func(ctx context.Context) (providers.Quote, error) {
			return provider.StockPrice(ctx, identifier)
		})
		if err == nil {
			return quote, nil
		}
		lastErr = err
		s.log.WithError(err).Warnf("stock provider %s failed for %s", provider.Name(), identifier)
	}
	return providers.Quote{}, lastErr
}

// callProvider runs one provider call through the retry controller and
// wraps the terminal failure into the service error taxonomy.
func (s *Service) callProvider(ctx context.Context, dependency, operation string, fn func(ctx context.Context) (providers.Quote, error)) (providers.Quote, error) {
	var quote providers.Quote
	start := s.clock()
	attempts, err := s.caller.Call(ctx, dependency, func(ctx context.Context) error {
		q, err := fn(ctx)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	metrics.RecordProviderRequest(dependency, s.clock().Sub(start), err == nil)
	metrics.SetBreakerState(dependency, s.breakers.Breaker(dependency).State())
	if err == nil {
		return quote, nil
	}
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return providers.Quote{}, err
	}

	apiErr := &ExternalAPIError{Service: dependency, Operation: operation, Attempts: attempts, Err: err}
	var statusErr *providers.StatusError
	if errors.As(err, &statusErr) {
		apiErr.StatusCode = statusErr.StatusCode
	}
	if errors.Is(err, providers.ErrNoQuote) {
		// Keep the no-quote sentinel reachable for NotFound mapping.
		return providers.Quote{}, err
	}
	return providers.Quote{}, apiErr
}

// GetConversionRate resolves a currency pair to a conversion rate. A valid
// cached inverse pair answers with the reciprocal rate.
func (s *Service) GetConversionRate(ctx context.Context, from, to string, opts market.FetchOptions) (market.RateResult, error) {
	from = market.NormalizeCurrency(from)
	to = market.NormalizeCurrency(to)
	if from == "" || to == "" {
		return market.RateResult{}, &ValidationError{Field: "currency", Reason: "from and to are required"}
	}

	now := s.clock().UTC()

	if from == to {
		status := cache.Status(now, s.rateTTL, false, now)
		return market.RateResult{
			From:        from,
			To:          to,
			Rate:        1.0,
			Cached:      true,
			Source:      sourceSameCurrency,
			FetchedAt:   now,
			CacheStatus: status,
		}, nil
	}

	cached, inverse, cachedOK := s.cachedRate(ctx, from, to)
	if cachedOK {
		status := cache.Status(cached.FetchedAt, s.rateTTL, opts.ForceRefresh, now)
		if status.IsValid || (opts.AllowExpired && !opts.ForceRefresh) {
			s.counters.RecordConversionHit()
			metrics.RecordCacheLookup("conversion", true)
			status.UsingExpiredCache = !status.IsValid
			return rateResult(from, to, cached, inverse, true, status), nil
		}
	}
	s.counters.RecordConversionMiss()
	metrics.RecordCacheLookup("conversion", false)

	rate, fetchErr := s.fetchRate(ctx, from, to)
	if fetchErr == nil {
		fresh := market.RateQuote{
			FromCurrency: from,
			ToCurrency:   to,
			Rate:         rate,
			Source:       s.rateFetcher.Name(),
			FetchedAt:    now,
		}
		if _, err := s.rates.PutRateQuote(ctx, fresh); err != nil {
			s.log.WithError(err).Warnf("conversion cache write failed for %s/%s", from, to)
		}
		return rateResult(from, to, fresh, false, false, cache.Status(now, s.rateTTL, false, now)), nil
	}

	if !cachedOK {
		cached, inverse, cachedOK = s.cachedRate(ctx, from, to)
	}
	if cachedOK {
		status := cache.Status(cached.FetchedAt, s.rateTTL, false, now)
		status.UsingExpiredCache = !status.IsValid
		s.log.WithField("from", from).WithField("to", to).
			Warnf("serving stale cached rate after fetch failure: %v", fetchErr)
		return rateResult(from, to, cached, inverse, true, status), nil
	}

	if errors.Is(fetchErr, providers.ErrNoQuote) {
		return market.RateResult{}, &NotFoundError{Kind: "conversion rate", Identifier: from + "/" + to, Err: fetchErr}
	}
	return market.RateResult{}, fetchErr
}

// cachedRate looks up the direct pair first, then the inverse pair.
func (s *Service) cachedRate(ctx context.Context, from, to string) (market.RateQuote, bool, bool) {
	direct, err := s.rates.LatestRateQuote(ctx, from, to)
	if err == nil {
		return direct, false, true
	}
	if !errors.Is(err, storage.ErrNotFound) {
		s.log.WithError(err).Warnf("conversion cache read failed for %s/%s", from, to)
		return market.RateQuote{}, false, false
	}

	inverse, err := s.rates.LatestRateQuote(ctx, to, from)
	if err == nil && inverse.Rate != 0 {
		return inverse, true, true
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.WithError(err).Warnf("conversion cache read failed for %s/%s", to, from)
	}
	return market.RateQuote{}, false, false
}

func (s *Service) fetchRate(ctx context.Context, from, to string) (float64, error) {
	if s.rateFetcher == nil {
		return 0, &ValidationError{Field: "currency", Reason: "no rate provider configured"}
	}
	var rate float64
	start := s.clock()
	attempts, err := s.caller.Call(ctx, s.rateFetcher.Name(), func(ctx context.Context) error {
		r, err := s.rateFetcher.Rate(ctx, from, to)
		if err != nil {
			return err
		}
		rate = r
		return nil
	})
	metrics.RecordProviderRequest(s.rateFetcher.Name(), s.clock().Sub(start), err == nil)
	metrics.SetBreakerState(s.rateFetcher.Name(), s.breakers.Breaker(s.rateFetcher.Name()).State())
	if err == nil {
		return rate, nil
	}
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, providers.ErrNoQuote) {
		return 0, err
	}
	apiErr := &ExternalAPIError{Service: s.rateFetcher.Name(), Operation: "conversion_rate", Attempts: attempts, Err: err}
	var statusErr *providers.StatusError
	if errors.As(err, &statusErr) {
		apiErr.StatusCode = statusErr.StatusCode
	}
	return 0, apiErr
}

func rateResult(from, to string, q market.RateQuote, inverse, cached bool, status market.CacheStatus) market.RateResult {
	rate := q.Rate
	if inverse {
		rate = 1.0 / q.Rate
	}
	return market.RateResult{
		From:          from,
		To:            to,
		Rate:          rate,
		Cached:        cached,
		Source:        q.Source,
		FetchedAt:     q.FetchedAt,
		IsInversePair: inverse,
		CacheStatus:   status,
	}
}

// ConvertAmount converts an amount between currencies using
// GetConversionRate.
func (s *Service) ConvertAmount(ctx context.Context, from, to string, amount float64, opts market.FetchOptions) (market.ConversionResult, error) {
	if amount <= 0 {
		return market.ConversionResult{}, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	rate, err := s.GetConversionRate(ctx, from, to, opts)
	if err != nil {
		return market.ConversionResult{}, err
	}
	return market.ConversionResult{
		RateResult: rate,
		Amount:     amount,
		Converted:  amount * rate.Rate,
	}, nil
}

// ClearPriceCache removes every cached price.
func (s *Service) ClearPriceCache(ctx context.Context) (int64, error) {
	return s.cache.ClearPrices(ctx)
}

// ClearConversionCache removes every cached conversion rate.
func (s *Service) ClearConversionCache(ctx context.Context) (int64, error) {
	return s.cache.ClearConversions(ctx)
}

// CacheStats reports the aggregated cache statistics.
func (s *Service) CacheStats(ctx context.Context) (cache.Stats, error) {
	return s.cache.Stats(ctx)
}

// BreakerStatus reports every circuit breaker's state.
func (s *Service) BreakerStatus() map[string]resilience.BreakerStatus {
	return s.breakers.Status()
}
