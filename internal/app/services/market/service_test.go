package market

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/trackfolio/backend/internal/app/domain/market"
	"github.com/trackfolio/backend/internal/app/services/market/providers"
	"github.com/trackfolio/backend/internal/app/storage/memory"
	"github.com/trackfolio/backend/internal/resilience"
	"github.com/trackfolio/backend/pkg/logger"
)

type stubStock struct {
	name  string
	quote providers.Quote
	err   error
	calls int
}

func (s *stubStock) Name() string { return s.name }

func (s *stubStock) StockPrice(ctx context.Context, identifier string) (providers.Quote, error) {
	s.calls++
	if s.err != nil {
		return providers.Quote{}, s.err
	}
	return s.quote, nil
}

type stubRate struct {
	rate  float64
	err   error
	calls int
}

func (s *stubRate) Name() string { return "exchangerate" }

func (s *stubRate) Rate(ctx context.Context, from, to string) (float64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.rate, nil
}

func quietLog() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	breakers *resilience.Registry
	now      time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := memory.New()
	log := quietLog()
	breakers := resilience.NewRegistry(resilience.DefaultBreakerConfig())
	caller := resilience.NewCaller(resilience.RetryConfig{
		MaxRetries:   0,
		BaseDelay:    time.Millisecond,
		MaxDelay:     time.Millisecond,
		JitterFactor: 0,
	}, breakers, log)

	opts.Prices = store
	opts.Rates = store
	opts.Breakers = breakers
	opts.Caller = caller
	opts.Log = log

	svc := New(opts)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }
	return &fixture{svc: svc, store: store, breakers: breakers, now: now}
}

func (f *fixture) seedPrice(t *testing.T, symbol string, class market.AssetClass, price float64, age time.Duration) {
	t.Helper()
	_, err := f.store.PutPriceQuote(context.Background(), market.PriceQuote{
		Symbol:     symbol,
		AssetClass: class,
		Price:      price,
		Currency:   "USD",
		Source:     "finnhub",
		FetchedAt:  f.now.Add(-age),
	})
	if err != nil {
		t.Fatalf("seed price: %v", err)
	}
}

func TestStockPriceServedFromValidCache(t *testing.T) {
	provider := &stubStock{name: "finnhub", quote: providers.Quote{Price: 200, Currency: "USD", Source: "finnhub"}}
	f := newFixture(t, Options{StockProviders: []providers.StockPricer{provider}})
	f.seedPrice(t, "AAPL", market.AssetStock, 190.5, 10*time.Minute)

	result, err := f.svc.GetStockPrice(context.Background(), "AAPL", market.FetchOptions{})
	if err != nil {
		t.Fatalf("get stock price: %v", err)
	}
	if !result.Cached || result.Price != 190.5 {
		t.Fatalf("expected cached price 190.5, got %+v", result)
	}
	if provider.calls != 0 {
		t.Fatalf("provider must not be called on a cache hit")
	}
	if !result.CacheStatus.IsValid || result.CacheStatus.UsingExpiredCache {
		t.Fatalf("unexpected cache status: %+v", result.CacheStatus)
	}
}

func TestStockPriceRefreshedPastTTL(t *testing.T) {
	provider := &stubStock{name: "finnhub", quote: providers.Quote{Price: 200, Currency: "USD", Source: "finnhub"}}
	f := newFixture(t, Options{StockProviders: []providers.StockPricer{provider}})
	f.seedPrice(t, "AAPL", market.AssetStock, 190.5, 16*time.Minute)

	result, err := f.svc.GetStockPrice(context.Background(), "AAPL", market.FetchOptions{})
	if err != nil {
		t.Fatalf("get stock price: %v", err)
	}
	if result.Cached || result.Price != 200 {
		t.Fatalf("expected fresh price 200, got %+v", result)
	}
	if provider.calls != 1 {
		t.Fatalf("expected one provider call, got %d", provider.calls)
	}

	stored, err := f.store.LatestPriceQuote(context.Background(), "AAPL", market.AssetStock)
	if err != nil {
		t.Fatalf("latest quote: %v", err)
	}
	if stored.Price != 200 {
		t.Fatalf("fresh price must be persisted, got %+v", stored)
	}
}

func TestStockPriceExactTTLBoundaryIsHit(t *testing.T) {
	provider := &stubStock{name: "finnhub"}
	f := newFixture(t, Options{StockProviders: []providers.StockPricer{provider}})
	f.seedPrice(t, "AAPL", market.AssetStock, 190.5, 15*time.Minute)

	result, err := f.svc.GetStockPrice(context.Background(), "AAPL", market.FetchOptions{})
	if err != nil {
		t.Fatalf("get stock price: %v", err)
	}
	if !result.Cached {
		t.Fatalf("entry exactly at TTL must still be served from cache")
	}
	if provider.calls != 0 {
		t.Fatalf("provider must not be called at the TTL boundary")
	}
}

func TestForceRefreshBypassesFreshCache(t *testing.T) {
	provider := &stubStock{name: "finnhub", quote: providers.Quote{Price: 201, Currency: "USD", Source: "finnhub"}}
	f := newFixture(t, Options{StockProviders: []providers.StockPricer{provider}})
	f.seedPrice(t, "AAPL", market.AssetStock, 190.5, time.Minute)

	result, err := f.svc.GetStockPrice(context.Background(), "AAPL", market.FetchOptions{ForceRefresh: true})
	if err != nil {
		t.Fatalf("get stock price: %v", err)
	}
	if result.Cached || result.Price != 201 {
		t.Fatalf("force refresh must fetch fresh, got %+v", result)
	}
	if provider.calls != 1 {
		t.Fatalf("expected one provider call, got %d", provider.calls)
	}
}

func TestAllowExpiredServesStaleEntry(t *testing.T) {
	provider := &stubStock{name: "finnhub"}
	f := newFixture(t, Options{StockProviders: []providers.StockPricer{provider}})
	f.seedPrice(t, "AAPL", market.AssetStock, 190.5, 16*time.Minute)

	result, err := f.svc.GetStockPrice(context.Background(), "AAPL", market.FetchOptions{AllowExpired: true})
	if err != nil {
		t.Fatalf("get stock price: %v", err)
	}
	if !result.Cached || !result.CacheStatus.UsingExpiredCache {
		t.Fatalf("expected stale cache answer, got %+v", result)
	}
	if provider.calls != 0 {
		t.Fatalf("provider must not be called with allow_expired")
	}
}

func TestStockProviderFallbackOrder(t *testing.T) {
	primary := &stubStock{name: "finnhub", err: &providers.StatusError{Provider: "finnhub", StatusCode: http.StatusServiceUnavailable}}
	fallback := &stubStock{name: "yahoo", quote: providers.Quote{Price: 188, Currency: "USD", Source: "yahoo"}}
	f := newFixture(t, Options{StockProviders: []providers.StockPricer{primary, fallback}})

	result, err := f.svc.GetStockPrice(context.Background(), "AAPL", market.FetchOptions{})
	if err != nil {
		t.Fatalf("get stock price: %v", err)
	}
	if result.Source != "yahoo" || result.Price != 188 {
		t.Fatalf("expected fallback provider answer, got %+v", result)
	}
	if primary.calls == 0 {
		t.Fatalf("primary provider must be tried first")
	}
}

func TestStaleFallbackWhenAllProvidersFail(t *testing.T) {
	provider := &stubStock{name: "finnhub", err: &providers.StatusError{Provider: "finnhub", StatusCode: http.StatusServiceUnavailable}}
	f := newFixture(t, Options{StockProviders: []providers.StockPricer{provider}})
	f.seedPrice(t, "AAPL", market.AssetStock, 190.5, 16*time.Minute)

	result, err := f.svc.GetStockPrice(context.Background(), "AAPL", market.FetchOptions{})
	if err != nil {
		t.Fatalf("get stock price: %v", err)
	}
	if !result.Cached || !result.CacheStatus.UsingExpiredCache {
		t.Fatalf("expected expired cache fallback, got %+v", result)
	}
	if result.Price != 190.5 {
		t.Fatalf("expected stale price 190.5, got %v", result.Price)
	}
}

func TestProviderFailureWithoutCacheSurfacesAPIError(t *testing.T) {
	provider := &stubStock{name: "finnhub", err: &providers.StatusError{Provider: "finnhub", StatusCode: http.StatusTooManyRequests}}
	f := newFixture(t, Options{StockProviders: []providers.StockPricer{provider}})

	_, err := f.svc.GetStockPrice(context.Background(), "AAPL", market.FetchOptions{})
	var apiErr *ExternalAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected ExternalAPIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", apiErr.StatusCode)
	}
	if len(apiErr.Attempts) == 0 {
		t.Fatalf("expected attempt trail on API error")
	}
}

func TestUnknownIdentifierMapsToNotFound(t *testing.T) {
	provider := &stubStock{name: "finnhub", err: providers.ErrNoQuote}
	f := newFixture(t, Options{StockProviders: []providers.StockPricer{provider}})

	_, err := f.svc.GetStockPrice(context.Background(), "NOPE", market.FetchOptions{})
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestStockPriceCircuitOpenFailsFast(t *testing.T) {
	provider := &stubStock{name: "finnhub"}
	f := newFixture(t, Options{StockProviders: []providers.StockPricer{provider}})

	breaker := f.breakers.Breaker("finnhub")
	for i := 0; i < 5; i++ {
		breaker.RecordFailure()
	}

	_, err := f.svc.GetStockPrice(context.Background(), "AAPL", market.FetchOptions{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatalf("provider must not be called while the circuit is open")
	}
}

func TestEmptyIdentifierIsValidationError(t *testing.T) {
	f := newFixture(t, Options{StockProviders: []providers.StockPricer{&stubStock{name: "finnhub"}}})

	_, err := f.svc.GetStockPrice(context.Background(), "  ", market.FetchOptions{})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDerivativeRequiresISIN(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.GetDerivativePrice(context.Background(), "AAPL", market.FetchOptions{})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for non-ISIN, got %v", err)
	}
}

func TestSameCurrencyShortCircuit(t *testing.T) {
	rateProvider := &stubRate{rate: 1.08}
	f := newFixture(t, Options{RateProvider: rateProvider})

	result, err := f.svc.GetConversionRate(context.Background(), "usd", "USD", market.FetchOptions{})
	if err != nil {
		t.Fatalf("get conversion rate: %v", err)
	}
	if result.Rate != 1.0 || result.Source != "same_currency" || !result.Cached {
		t.Fatalf("unexpected same-currency result: %+v", result)
	}
	if rateProvider.calls != 0 {
		t.Fatalf("provider must not be called for same-currency conversion")
	}

	rows, err := f.store.RateCacheRows(context.Background())
	if err != nil {
		t.Fatalf("rate rows: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("same-currency conversion must not touch the store")
	}
}

func TestInversePairDerivesReciprocalRate(t *testing.T) {
	rateProvider := &stubRate{rate: 999}
	f := newFixture(t, Options{RateProvider: rateProvider})

	_, err := f.store.PutRateQuote(context.Background(), market.RateQuote{
		FromCurrency: "USD",
		ToCurrency:   "EUR",
		Rate:         0.85,
		Source:       "exchangerate",
		FetchedAt:    f.now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("seed rate: %v", err)
	}

	result, err := f.svc.GetConversionRate(context.Background(), "EUR", "USD", market.FetchOptions{})
	if err != nil {
		t.Fatalf("get conversion rate: %v", err)
	}
	if !result.IsInversePair || !result.Cached {
		t.Fatalf("expected inverse cache answer, got %+v", result)
	}
	want := 1.0 / 0.85
	if diff := result.Rate - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected rate %v, got %v", want, result.Rate)
	}
	if rateProvider.calls != 0 {
		t.Fatalf("provider must not be called when the inverse pair is valid")
	}
}

func TestConversionFetchStoresDirectPair(t *testing.T) {
	rateProvider := &stubRate{rate: 1.0852}
	f := newFixture(t, Options{RateProvider: rateProvider})

	result, err := f.svc.GetConversionRate(context.Background(), "EUR", "USD", market.FetchOptions{})
	if err != nil {
		t.Fatalf("get conversion rate: %v", err)
	}
	if result.Cached || result.Rate != 1.0852 || result.IsInversePair {
		t.Fatalf("expected fresh direct rate, got %+v", result)
	}

	stored, err := f.store.LatestRateQuote(context.Background(), "EUR", "USD")
	if err != nil {
		t.Fatalf("stored rate: %v", err)
	}
	if stored.Rate != 1.0852 {
		t.Fatalf("expected stored direct rate, got %+v", stored)
	}
}

func TestConversionStaleFallback(t *testing.T) {
	rateProvider := &stubRate{err: &providers.StatusError{Provider: "exchangerate", StatusCode: http.StatusServiceUnavailable}}
	f := newFixture(t, Options{RateProvider: rateProvider})

	_, err := f.store.PutRateQuote(context.Background(), market.RateQuote{
		FromCurrency: "EUR",
		ToCurrency:   "USD",
		Rate:         1.07,
		Source:       "exchangerate",
		FetchedAt:    f.now.Add(-25 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed rate: %v", err)
	}

	result, err := f.svc.GetConversionRate(context.Background(), "EUR", "USD", market.FetchOptions{})
	if err != nil {
		t.Fatalf("get conversion rate: %v", err)
	}
	if !result.Cached || !result.CacheStatus.UsingExpiredCache || result.Rate != 1.07 {
		t.Fatalf("expected stale rate fallback, got %+v", result)
	}
}

func TestConvertAmount(t *testing.T) {
	rateProvider := &stubRate{rate: 1.1}
	f := newFixture(t, Options{RateProvider: rateProvider})

	result, err := f.svc.ConvertAmount(context.Background(), "EUR", "USD", 250, market.FetchOptions{})
	if err != nil {
		t.Fatalf("convert amount: %v", err)
	}
	want := 250 * 1.1
	if diff := result.Converted - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected %v, got %v", want, result.Converted)
	}

	_, err = f.svc.ConvertAmount(context.Background(), "EUR", "USD", 0, market.FetchOptions{})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for zero amount, got %v", err)
	}
}

func TestLookupCountersIncrementOncePerLookup(t *testing.T) {
	provider := &stubStock{name: "finnhub", quote: providers.Quote{Price: 200, Currency: "USD", Source: "finnhub"}}
	f := newFixture(t, Options{StockProviders: []providers.StockPricer{provider}})
	f.seedPrice(t, "AAPL", market.AssetStock, 190.5, 10*time.Minute)

	if _, err := f.svc.GetStockPrice(context.Background(), "AAPL", market.FetchOptions{}); err != nil {
		t.Fatalf("hit lookup: %v", err)
	}
	if _, err := f.svc.GetStockPrice(context.Background(), "AAPL", market.FetchOptions{ForceRefresh: true}); err != nil {
		t.Fatalf("miss lookup: %v", err)
	}

	stats, err := f.svc.CacheStats(context.Background())
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	if stats.Counters.PriceHits != 1 || stats.Counters.PriceMisses != 1 {
		t.Fatalf("expected 1 hit / 1 miss, got %+v", stats.Counters)
	}
}

func TestBreakerStatusExposesProviders(t *testing.T) {
	provider := &stubStock{name: "finnhub", quote: providers.Quote{Price: 200, Currency: "USD", Source: "finnhub"}}
	f := newFixture(t, Options{StockProviders: []providers.StockPricer{provider}})

	if _, err := f.svc.GetStockPrice(context.Background(), "AAPL", market.FetchOptions{}); err != nil {
		t.Fatalf("get stock price: %v", err)
	}

	status := f.svc.BreakerStatus()
	if _, ok := status["finnhub"]; !ok {
		t.Fatalf("expected finnhub breaker in status, got %v", status)
	}
}
