package app

import (
	"context"
	"fmt"

	"github.com/trackfolio/backend/internal/app/services/assets"
	authsvc "github.com/trackfolio/backend/internal/app/services/auth"
	"github.com/trackfolio/backend/internal/app/services/cache"
	"github.com/trackfolio/backend/internal/app/services/maintenance"
	marketsvc "github.com/trackfolio/backend/internal/app/services/market"
	"github.com/trackfolio/backend/internal/app/services/market/providers"
	"github.com/trackfolio/backend/internal/app/storage"
	"github.com/trackfolio/backend/internal/app/storage/memory"
	"github.com/trackfolio/backend/internal/app/system"
	"github.com/trackfolio/backend/internal/config"
	"github.com/trackfolio/backend/internal/resilience"
	"github.com/trackfolio/backend/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to a
// shared in-memory implementation.
type Stores struct {
	Prices   storage.PriceCacheStore
	Rates    storage.RateCacheStore
	Assets   storage.AssetStore
	Users    storage.UserStore
	Sessions storage.SessionStore
}

// Providers encapsulates the upstream market-data clients. Nil fields are
// built from the configuration; set them explicitly in tests to use stubs.
type Providers struct {
	Stocks     []providers.StockPricer
	Crypto     providers.CryptoPricer
	Derivative providers.DerivativePricer
	Rates      providers.RateFetcher
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Market      *marketsvc.Service
	Assets      *assets.Service
	Auth        *authsvc.Service
	Cache       *cache.Service
	Maintenance *maintenance.Service
}

// New builds a fully initialised application with the provided stores and
// provider clients.
func New(cfg *config.Config, stores Stores, prov Providers, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil configuration")
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Prices == nil {
		stores.Prices = mem
	}
	if stores.Rates == nil {
		stores.Rates = mem
	}
	if stores.Assets == nil {
		stores.Assets = mem
	}
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Sessions == nil {
		stores.Sessions = mem
	}

	if prov.Stocks == nil && prov.Crypto == nil && prov.Derivative == nil && prov.Rates == nil {
		prov = buildProviders(cfg.Providers, log)
	}

	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		ResetTimeout:     cfg.Resilience.ResetTimeout,
		HalfOpenTimeout:  cfg.Resilience.HalfOpenTimeout,
	})
	caller := resilience.NewCaller(resilience.RetryConfig{
		MaxRetries:   cfg.Resilience.MaxRetries,
		BaseDelay:    cfg.Resilience.BaseDelay,
		MaxDelay:     cfg.Resilience.MaxDelay,
		JitterFactor: cfg.Resilience.JitterFactor,
	}, breakers, log)

	cacheSvc := cache.New(stores.Prices, stores.Rates, nil, cache.Config{
		PriceTTL:            cfg.Cache.PriceTTL(),
		ConversionTTL:       cfg.Cache.ConversionTTL(),
		PriceRetention:      cfg.Cache.PriceRetention(),
		ConversionRetention: cfg.Cache.ConversionRetention(),
	}, log)

	marketService := marketsvc.New(marketsvc.Options{
		Prices:             stores.Prices,
		Rates:              stores.Rates,
		StockProviders:     prov.Stocks,
		CryptoProvider:     prov.Crypto,
		DerivativeProvider: prov.Derivative,
		RateProvider:       prov.Rates,
		Breakers:           breakers,
		Caller:             caller,
		Cache:              cacheSvc,
		PriceTTL:           cfg.Cache.PriceTTL(),
		ConversionTTL:      cfg.Cache.ConversionTTL(),
		Log:                log,
	})

	assetService := assets.New(stores.Assets, log)

	if cfg.Auth.JWTSecret == "" {
		log.Warn("AUTH_JWT_SECRET not set; sessions are signed with an empty key")
	}
	authService := authsvc.New(stores.Users, stores.Sessions, cfg.Auth.JWTSecret, cfg.Auth.SessionTTL, log)

	maintService := maintenance.New(cacheSvc, stores.Sessions, cfg.Cache.CleanupSchedule, log)

	manager := system.NewManager()
	if err := manager.Register(maintService); err != nil {
		return nil, fmt.Errorf("register maintenance service: %w", err)
	}

	return &Application{
		manager:     manager,
		log:         log,
		Market:      marketService,
		Assets:      assetService,
		Auth:        authService,
		Cache:       cacheSvc,
		Maintenance: maintService,
	}, nil
}

// buildProviders constructs the real upstream clients from configuration.
// Finnhub is skipped when no API key is configured; Yahoo needs none and
// always participates in the stock chain.
func buildProviders(cfg config.ProviderConfig, log *logger.Logger) Providers {
	client := providers.NewClient(cfg.ConnectTimeout, cfg.RequestTimeout, int(cfg.RateLimitPerSecond))

	var stocks []providers.StockPricer
	if cfg.FinnhubAPIKey != "" {
		stocks = append(stocks, providers.NewFinnhub(client, cfg.FinnhubAPIKey, cfg.FinnhubBaseURL))
	} else {
		log.Warn("FINNHUB_API_KEY not set; stock lookups use Yahoo only")
	}
	stocks = append(stocks, providers.NewYahoo(client, cfg.YahooBaseURL))

	if cfg.ExchangeRateAPIKey == "" {
		log.Warn("EXCHANGERATE_API_KEY not set; conversion-rate fetches will fail")
	}

	return Providers{
		Stocks:     stocks,
		Crypto:     providers.NewCoinGecko(client, cfg.CoinGeckoBaseURL),
		Derivative: providers.NewOnvista(client, cfg.OnvistaBaseURL),
		Rates:      providers.NewExchangeRate(client, cfg.ExchangeRateAPIKey, cfg.ExchangeRateURL),
	}
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
