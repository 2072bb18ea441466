package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	app "github.com/trackfolio/backend/internal/app"
	"github.com/trackfolio/backend/internal/app/services/market/providers"
	"github.com/trackfolio/backend/internal/config"
	"github.com/trackfolio/backend/pkg/logger"
)

type stubStock struct {
	name  string
	quote providers.Quote
	err   error
	calls int
}

func (s *stubStock) Name() string { return s.name }

func (s *stubStock) StockPrice(context.Context, string) (providers.Quote, error) {
	s.calls++
	return s.quote, s.err
}

type stubRate struct {
	rate float64
	err  error
}

func (s *stubRate) Name() string { return "stub-fx" }

func (s *stubRate) Rate(context.Context, string, string) (float64, error) {
	return s.rate, s.err
}

func quietLog() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

func testConfig() *config.Config {
	return &config.Config{
		Cache: config.CacheConfig{
			PriceTTLMinutes:       15,
			ConversionTTLHours:    24,
			PriceCleanupDays:      30,
			ConversionCleanupDays: 7,
		},
		Resilience: config.ResilienceConfig{
			MaxRetries:       0,
			BaseDelay:        time.Millisecond,
			MaxDelay:         time.Millisecond,
			FailureThreshold: 2,
			ResetTimeout:     time.Minute,
			HalfOpenTimeout:  30 * time.Second,
		},
		Auth: config.AuthConfig{JWTSecret: "handler-test-secret", SessionTTL: time.Hour},
	}
}

func newTestServer(t *testing.T, prov app.Providers) *httptest.Server {
	t.Helper()

	application, err := app.New(testConfig(), app.Stores{}, prov, quietLog())
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(application, quietLog()))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()

	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, payload, out any) int {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStockPriceFetchThenCached(t *testing.T) {
	stock := &stubStock{name: "stub", quote: providers.Quote{Price: 187.5, Currency: "USD", Source: "stub"}}
	srv := newTestServer(t, app.Providers{Stocks: []providers.StockPricer{stock}})

	var first map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/price/stock/AAPL", &first))
	require.Equal(t, 187.5, first["price"])
	require.Equal(t, false, first["cached"])

	var second map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/price/stock/aapl", &second))
	require.Equal(t, true, second["cached"])
	require.Equal(t, 1, stock.calls)
}

func TestStockPriceUnknownIdentifier(t *testing.T) {
	stock := &stubStock{name: "stub", err: providers.ErrNoQuote}
	srv := newTestServer(t, app.Providers{Stocks: []providers.StockPricer{stock}})

	require.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/price/stock/NOPE", nil))
}

func TestDerivativeRejectsBadISIN(t *testing.T) {
	srv := newTestServer(t, app.Providers{Stocks: []providers.StockPricer{&stubStock{name: "stub"}}})

	require.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/api/price/derivative/NOT-AN-ISIN", nil))
}

func TestUpstreamRateLimitPassesThrough(t *testing.T) {
	stock := &stubStock{name: "stub", err: &providers.StatusError{Provider: "stub", StatusCode: http.StatusTooManyRequests}}
	srv := newTestServer(t, app.Providers{Stocks: []providers.StockPricer{stock}})

	require.Equal(t, http.StatusTooManyRequests, getJSON(t, srv, "/api/price/stock/AAPL", nil))
}

func TestOpenBreakerReturnsServiceUnavailable(t *testing.T) {
	stock := &stubStock{name: "stub", err: &providers.StatusError{Provider: "stub", StatusCode: http.StatusInternalServerError}}
	srv := newTestServer(t, app.Providers{Stocks: []providers.StockPricer{stock}})

	// Two failing lookups trip the threshold-2 breaker.
	require.Equal(t, http.StatusBadGateway, getJSON(t, srv, "/api/price/stock/AAPL", nil))
	require.Equal(t, http.StatusBadGateway, getJSON(t, srv, "/api/price/stock/AAPL", nil))
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv, "/api/price/stock/AAPL", nil))
}

func TestConversionRateAndConvert(t *testing.T) {
	srv := newTestServer(t, app.Providers{Rates: &stubRate{rate: 1.1}})

	var rate map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/conversion/rate/eur/usd", &rate))
	require.Equal(t, 1.1, rate["rate"])
	require.Equal(t, "EUR", rate["from"])

	var conv map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/conversion/convert?from=EUR&to=USD&amount=100", &conv))
	require.InDelta(t, 110.0, conv["converted"].(float64), 1e-9)
}

func TestConvertRejectsBadAmount(t *testing.T) {
	srv := newTestServer(t, app.Providers{Rates: &stubRate{rate: 1.1}})

	require.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/api/conversion/convert?from=EUR&to=USD&amount=abc", nil))
	require.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/api/conversion/convert?from=EUR&to=USD&amount=-5", nil))
}

func TestCacheStatsAndAdminAuth(t *testing.T) {
	stock := &stubStock{name: "stub", quote: providers.Quote{Price: 10, Currency: "USD", Source: "stub"}}
	srv := newTestServer(t, app.Providers{Stocks: []providers.StockPricer{stock}})

	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/price/stock/AAPL", nil))

	var stats map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/cache/stats", &stats))

	// Clearing the cache needs a session.
	require.Equal(t, http.StatusUnauthorized, doJSON(t, srv, http.MethodPost, "/api/cache/clear/prices", "", nil, nil))

	token := registerAndLogin(t, srv)
	var cleared map[string]int64
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/api/cache/clear/prices", token, nil, &cleared))
	require.Equal(t, int64(1), cleared["removed"])
}

func registerAndLogin(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	creds := map[string]string{"username": "alice", "password": "correct horse"}
	require.Equal(t, http.StatusCreated, doJSON(t, srv, http.MethodPost, "/api/auth/register", "", creds, nil))

	var sess map[string]any
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPost, "/api/auth/login", "", creds, &sess))
	token, _ := sess["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestAuthSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, app.Providers{Rates: &stubRate{rate: 1}})

	token := registerAndLogin(t, srv)

	var sess map[string]any
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/auth/session", token, nil, &sess))
	require.Equal(t, "alice", sess["username"])

	require.Equal(t, http.StatusNoContent, doJSON(t, srv, http.MethodPost, "/api/auth/logout", token, nil, nil))
	require.Equal(t, http.StatusUnauthorized, doJSON(t, srv, http.MethodGet, "/api/auth/session", token, nil, nil))
}

func TestAssetsCRUD(t *testing.T) {
	srv := newTestServer(t, app.Providers{Rates: &stubRate{rate: 1}})
	token := registerAndLogin(t, srv)

	payload := map[string]any{
		"identifier":     "aapl",
		"asset_class":    "stock",
		"display_name":   "Apple",
		"quantity":       3.0,
		"purchase_price": 150.0,
		"currency":       "usd",
	}

	require.Equal(t, http.StatusUnauthorized, doJSON(t, srv, http.MethodPost, "/api/assets", "", payload, nil))

	var created map[string]any
	require.Equal(t, http.StatusCreated, doJSON(t, srv, http.MethodPost, "/api/assets", token, payload, &created))
	require.Equal(t, "AAPL", created["identifier"])
	require.Equal(t, "USD", created["currency"])
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	var list []map[string]any
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/assets", token, nil, &list))
	require.Len(t, list, 1)

	payload["quantity"] = 5.0
	var updated map[string]any
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodPut, fmt.Sprintf("/api/assets/%s", id), token, payload, &updated))
	require.Equal(t, 5.0, updated["quantity"])

	require.Equal(t, http.StatusNoContent, doJSON(t, srv, http.MethodDelete, "/api/assets/"+id, token, nil, nil))
	require.Equal(t, http.StatusNotFound, doJSON(t, srv, http.MethodGet, "/api/assets/"+id, token, nil, nil))
}

func TestAssetInvalidQuantityRejected(t *testing.T) {
	srv := newTestServer(t, app.Providers{Rates: &stubRate{rate: 1}})
	token := registerAndLogin(t, srv)

	payload := map[string]any{
		"identifier":     "AAPL",
		"asset_class":    "stock",
		"quantity":       0.0,
		"purchase_price": 1.0,
		"currency":       "USD",
	}
	require.Equal(t, http.StatusBadRequest, doJSON(t, srv, http.MethodPost, "/api/assets", token, payload, nil))
}

func TestHealthAndBreakerStatus(t *testing.T) {
	srv := newTestServer(t, app.Providers{Rates: &stubRate{rate: 1}})

	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/health", nil))

	var status map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/health/circuit-breakers", &status))
}
