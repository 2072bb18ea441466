package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/trackfolio/backend/internal/app/storage"
	"github.com/trackfolio/backend/pkg/logger"
)

// Config carries the TTL and retention policy the service applies.
type Config struct {
	PriceTTL            time.Duration
	ConversionTTL       time.Duration
	PriceRetention      time.Duration
	ConversionRetention time.Duration
}

// Service reports cache statistics and removes stale rows. It never touches
// individual entries; the only delete paths are Cleanup and the Clear
// methods.
type Service struct {
	prices   storage.PriceCacheStore
	rates    storage.RateCacheStore
	counters *StatsRegistry
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

// New constructs the statistics and cleanup service.
func New(prices storage.PriceCacheStore, rates storage.RateCacheStore, counters *StatsRegistry, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("cache")
	}
	if counters == nil {
		counters = NewStatsRegistry()
	}
	return &Service{
		prices:   prices,
		rates:    rates,
		counters: counters,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Counters exposes the shared hit/miss registry.
func (s *Service) Counters() *StatsRegistry {
	return s.counters
}

// AgeStats summarizes entry ages in minutes.
type AgeStats struct {
	MinMinutes float64 `json:"min_minutes"`
	MaxMinutes float64 `json:"max_minutes"`
	AvgMinutes float64 `json:"avg_minutes"`
}

// PriceCacheStats describes the stored price observations.
type PriceCacheStats struct {
	TotalEntries   int            `json:"total_entries"`
	ValidEntries   int            `json:"valid_entries"`
	ExpiredEntries int            `json:"expired_entries"`
	Age            AgeStats       `json:"age"`
	ByAssetClass   map[string]int `json:"by_asset_class"`
	BySource       map[string]int `json:"by_source"`
}

// RateCacheStats describes the stored conversion observations.
type RateCacheStats struct {
	TotalEntries   int            `json:"total_entries"`
	ValidEntries   int            `json:"valid_entries"`
	ExpiredEntries int            `json:"expired_entries"`
	Age            AgeStats       `json:"age"`
	ByPair         map[string]int `json:"by_pair"`
	BySource       map[string]int `json:"by_source"`
}

// Stats is the full statistics view returned by the API.
type Stats struct {
	Prices      PriceCacheStats `json:"prices"`
	Conversions RateCacheStats  `json:"conversions"`
	Counters    CounterSnapshot `json:"counters"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Stats aggregates every stored observation into the statistics view.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	now := s.now().UTC()

	priceRows, err := s.prices.PriceCacheRows(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load price cache rows: %w", err)
	}
	rateRows, err := s.rates.RateCacheRows(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load conversion cache rows: %w", err)
	}

	stats := Stats{
		Prices: PriceCacheStats{
			ByAssetClass: make(map[string]int),
			BySource:     make(map[string]int),
		},
		Conversions: RateCacheStats{
			ByPair:   make(map[string]int),
			BySource: make(map[string]int),
		},
		Counters:    s.counters.Snapshot(),
		GeneratedAt: now,
	}

	var priceAges []float64
	for _, q := range priceRows {
		stats.Prices.TotalEntries++
		stats.Prices.ByAssetClass[string(q.AssetClass)]++
		stats.Prices.BySource[q.Source]++
		if Valid(q.FetchedAt, s.cfg.PriceTTL, false, now) {
			stats.Prices.ValidEntries++
		} else {
			stats.Prices.ExpiredEntries++
		}
		priceAges = append(priceAges, now.Sub(q.FetchedAt).Minutes())
	}
	stats.Prices.Age = summarizeAges(priceAges)

	var rateAges []float64
	for _, q := range rateRows {
		stats.Conversions.TotalEntries++
		stats.Conversions.ByPair[q.FromCurrency+"/"+q.ToCurrency]++
		stats.Conversions.BySource[q.Source]++
		if Valid(q.FetchedAt, s.cfg.ConversionTTL, false, now) {
			stats.Conversions.ValidEntries++
		} else {
			stats.Conversions.ExpiredEntries++
		}
		rateAges = append(rateAges, now.Sub(q.FetchedAt).Minutes())
	}
	stats.Conversions.Age = summarizeAges(rateAges)

	return stats, nil
}

func summarizeAges(ages []float64) AgeStats {
	if len(ages) == 0 {
		return AgeStats{}
	}
	out := AgeStats{MinMinutes: ages[0], MaxMinutes: ages[0]}
	var sum float64
	for _, age := range ages {
		if age < out.MinMinutes {
			out.MinMinutes = age
		}
		if age > out.MaxMinutes {
			out.MaxMinutes = age
		}
		sum += age
	}
	out.AvgMinutes = sum / float64(len(ages))
	return out
}

// CleanupReport counts the rows removed by one cleanup run.
type CleanupReport struct {
	PricesRemoved      int64 `json:"prices_removed"`
	ConversionsRemoved int64 `json:"conversions_removed"`
}

// Cleanup deletes price rows past the price retention window and
// conversion rows past the conversion retention window.
func (s *Service) Cleanup(ctx context.Context) (CleanupReport, error) {
	now := s.now().UTC()
	var report CleanupReport

	removed, err := s.prices.DeletePriceQuotesBefore(ctx, now.Add(-s.cfg.PriceRetention))
	if err != nil {
		return report, fmt.Errorf("cleanup price cache: %w", err)
	}
	report.PricesRemoved = removed

	removed, err = s.rates.DeleteRateQuotesBefore(ctx, now.Add(-s.cfg.ConversionRetention))
	if err != nil {
		return report, fmt.Errorf("cleanup conversion cache: %w", err)
	}
	report.ConversionsRemoved = removed

	if report.PricesRemoved > 0 || report.ConversionsRemoved > 0 {
		s.log.WithField("prices_removed", report.PricesRemoved).
			WithField("conversions_removed", report.ConversionsRemoved).
			Info("cache cleanup removed stale entries")
	}
	return report, nil
}

// ClearPrices removes every price observation.
func (s *Service) ClearPrices(ctx context.Context) (int64, error) {
	removed, err := s.prices.ClearPriceQuotes(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear price cache: %w", err)
	}
	s.log.WithField("removed", removed).Info("price cache cleared")
	return removed, nil
}

// ClearConversions removes every conversion observation.
func (s *Service) ClearConversions(ctx context.Context) (int64, error) {
	removed, err := s.rates.ClearRateQuotes(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear conversion cache: %w", err)
	}
	s.log.WithField("removed", removed).Info("conversion cache cleared")
	return removed, nil
}
