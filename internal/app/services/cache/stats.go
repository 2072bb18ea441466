package cache

import "sync/atomic"

// StatsRegistry tracks cache hit and miss counts per category. All methods
// are safe for concurrent use.
type StatsRegistry struct {
	priceHits        atomic.Uint64
	priceMisses      atomic.Uint64
	conversionHits   atomic.Uint64
	conversionMisses atomic.Uint64
}

// NewStatsRegistry creates a registry with zeroed counters.
func NewStatsRegistry() *StatsRegistry {
	return &StatsRegistry{}
}

// RecordPriceHit increments the price-cache hit counter.
func (r *StatsRegistry) RecordPriceHit() { r.priceHits.Add(1) }

// RecordPriceMiss increments the price-cache miss counter.
func (r *StatsRegistry) RecordPriceMiss() { r.priceMisses.Add(1) }

// RecordConversionHit increments the conversion-cache hit counter.
func (r *StatsRegistry) RecordConversionHit() { r.conversionHits.Add(1) }

// RecordConversionMiss increments the conversion-cache miss counter.
func (r *StatsRegistry) RecordConversionMiss() { r.conversionMisses.Add(1) }

// Reset zeroes every counter.
func (r *StatsRegistry) Reset() {
	r.priceHits.Store(0)
	r.priceMisses.Store(0)
	r.conversionHits.Store(0)
	r.conversionMisses.Store(0)
}

// CounterSnapshot is a point-in-time view of the hit/miss counters.
type CounterSnapshot struct {
	PriceHits         uint64  `json:"price_hits"`
	PriceMisses       uint64  `json:"price_misses"`
	PriceHitRate      float64 `json:"price_hit_rate"`
	ConversionHits    uint64  `json:"conversion_hits"`
	ConversionMisses  uint64  `json:"conversion_misses"`
	ConversionHitRate float64 `json:"conversion_hit_rate"`
}

// Snapshot reads all counters and derives hit rates. A category with no
// lookups has a hit rate of zero.
func (r *StatsRegistry) Snapshot() CounterSnapshot {
	snap := CounterSnapshot{
		PriceHits:        r.priceHits.Load(),
		PriceMisses:      r.priceMisses.Load(),
		ConversionHits:   r.conversionHits.Load(),
		ConversionMisses: r.conversionMisses.Load(),
	}
	if total := snap.PriceHits + snap.PriceMisses; total > 0 {
		snap.PriceHitRate = float64(snap.PriceHits) / float64(total)
	}
	if total := snap.ConversionHits + snap.ConversionMisses; total > 0 {
		snap.ConversionHitRate = float64(snap.ConversionHits) / float64(total)
	}
	return snap
}
