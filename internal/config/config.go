// Package config loads process configuration from the environment. A local
// .env file is honoured when present so development setups match production
// variable names.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host         string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port         int           `env:"SERVER_PORT,default=8080"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT,default=30s"`
}

// DatabaseConfig holds the persistence settings.
type DatabaseConfig struct {
	Driver          string `env:"DATABASE_DRIVER,default=postgres"`
	DSN             string `env:"DATABASE_DSN,default="`
	QueryStrategy   string `env:"DATABASE_QUERY_STRATEGY,default=batch"`
	MaxOpenConns    int    `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime int    `env:"DATABASE_CONN_MAX_LIFETIME_SECONDS,default=300"`
}

// RedisConfig holds optional session-store settings.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED,default=false"`
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD,default="`
	DB       int    `env:"REDIS_DB,default=0"`
}

// LoggingConfig mirrors pkg/logger settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=text"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

// CacheConfig holds validity TTLs and retention windows. Retention is
// intentionally much longer than the TTL: stale entries stay available as a
// degraded fallback until cleanup removes them.
type CacheConfig struct {
	PriceTTLMinutes       int    `env:"PRICE_CACHE_TTL_MINUTES,default=15"`
	ConversionTTLHours    int    `env:"CONVERSION_CACHE_TTL_HOURS,default=24"`
	PriceCleanupDays      int    `env:"PRICE_CACHE_CLEANUP_DAYS,default=30"`
	ConversionCleanupDays int    `env:"CONVERSION_CACHE_CLEANUP_DAYS,default=7"`
	CleanupSchedule       string `env:"CACHE_CLEANUP_SCHEDULE,default=0 3 * * *"`
}

// PriceTTL returns the price validity window as a duration.
func (c CacheConfig) PriceTTL() time.Duration {
	return time.Duration(c.PriceTTLMinutes) * time.Minute
}

// ConversionTTL returns the conversion-rate validity window as a duration.
func (c CacheConfig) ConversionTTL() time.Duration {
	return time.Duration(c.ConversionTTLHours) * time.Hour
}

// PriceRetention returns the price cleanup window as a duration.
func (c CacheConfig) PriceRetention() time.Duration {
	return time.Duration(c.PriceCleanupDays) * 24 * time.Hour
}

// ConversionRetention returns the conversion cleanup window as a duration.
func (c CacheConfig) ConversionRetention() time.Duration {
	return time.Duration(c.ConversionCleanupDays) * 24 * time.Hour
}

// ProviderConfig holds upstream market-data provider settings.
type ProviderConfig struct {
	FinnhubAPIKey      string        `env:"FINNHUB_API_KEY,default="`
	FinnhubBaseURL     string        `env:"FINNHUB_BASE_URL,default=https://finnhub.io/api/v1"`
	YahooBaseURL       string        `env:"YAHOO_BASE_URL,default=https://query1.finance.yahoo.com"`
	CoinGeckoBaseURL   string        `env:"COINGECKO_BASE_URL,default=https://api.coingecko.com"`
	ExchangeRateAPIKey string        `env:"EXCHANGERATE_API_KEY,default="`
	ExchangeRateURL    string        `env:"EXCHANGERATE_BASE_URL,default=https://v6.exchangerate-api.com"`
	OnvistaBaseURL     string        `env:"ONVISTA_BASE_URL,default=https://www.onvista.de"`
	ConnectTimeout     time.Duration `env:"PROVIDER_CONNECT_TIMEOUT,default=5s"`
	RequestTimeout     time.Duration `env:"PROVIDER_REQUEST_TIMEOUT,default=10s"`
	RateLimitPerSecond float64       `env:"PROVIDER_RATE_LIMIT_PER_SECOND,default=5"`
}

// ResilienceConfig tunes the retry controller and circuit breakers.
type ResilienceConfig struct {
	MaxRetries       int           `env:"RETRY_MAX_RETRIES,default=3"`
	BaseDelay        time.Duration `env:"RETRY_BASE_DELAY,default=1s"`
	MaxDelay         time.Duration `env:"RETRY_MAX_DELAY,default=10s"`
	JitterFactor     float64       `env:"RETRY_JITTER_FACTOR,default=0.1"`
	FailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD,default=5"`
	ResetTimeout     time.Duration `env:"BREAKER_RESET_TIMEOUT,default=60s"`
	HalfOpenTimeout  time.Duration `env:"BREAKER_HALF_OPEN_TIMEOUT,default=30s"`
}

// AuthConfig holds session settings.
type AuthConfig struct {
	Username     string        `env:"AUTH_USERNAME,default=admin"`
	PasswordHash string        `env:"AUTH_PASSWORD_HASH,default="`
	JWTSecret    string        `env:"AUTH_JWT_SECRET,default="`
	SessionTTL   time.Duration `env:"AUTH_SESSION_TTL,default=24h"`
}

// Config is the full process configuration.
type Config struct {
	Server          ServerConfig
	Database        DatabaseConfig
	Redis           RedisConfig
	Logging         LoggingConfig
	Cache           CacheConfig
	Providers       ProviderConfig
	Resilience      ResilienceConfig
	Auth            AuthConfig
	DefaultCurrency string `env:"DEFAULT_CURRENCY,default=USD"`
}

// Load reads .env (when present) and decodes the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Cache.PriceTTLMinutes <= 0 {
		return fmt.Errorf("PRICE_CACHE_TTL_MINUTES must be positive")
	}
	if c.Cache.ConversionTTLHours <= 0 {
		return fmt.Errorf("CONVERSION_CACHE_TTL_HOURS must be positive")
	}
	if c.Resilience.MaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX_RETRIES must not be negative")
	}
	if c.Resilience.FailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive")
	}
	return nil
}
