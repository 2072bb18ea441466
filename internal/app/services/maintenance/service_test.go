package maintenance

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/trackfolio/backend/internal/app/domain/auth"
	"github.com/trackfolio/backend/internal/app/domain/market"
	"github.com/trackfolio/backend/internal/app/services/cache"
	"github.com/trackfolio/backend/internal/app/storage/memory"
	"github.com/trackfolio/backend/pkg/logger"
)

func quietLog() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

func TestRunNowCleansStaleEntries(t *testing.T) {
	store := memory.New()
	cacheSvc := cache.New(store, store, nil, cache.Config{
		PriceTTL:            15 * time.Minute,
		ConversionTTL:       24 * time.Hour,
		PriceRetention:      30 * 24 * time.Hour,
		ConversionRetention: 7 * 24 * time.Hour,
	}, quietLog())
	svc := New(cacheSvc, store, "", quietLog())

	ctx := context.Background()
	if _, err := store.PutPriceQuote(ctx, market.PriceQuote{
		Symbol:     "AAPL",
		AssetClass: market.AssetStock,
		FetchedAt:  time.Now().UTC().Add(-31 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("put quote: %v", err)
	}

	report, err := svc.RunNow(ctx)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if report.PricesRemoved != 1 {
		t.Fatalf("expected 1 price removed, got %d", report.PricesRemoved)
	}
}

func TestSweepSessionsRemovesExpired(t *testing.T) {
	store := memory.New()
	cacheSvc := cache.New(store, store, nil, cache.Config{}, quietLog())
	svc := New(cacheSvc, store, "", quietLog())

	ctx := context.Background()
	if err := store.PutSession(ctx, auth.Session{
		Token:     "stale",
		UserID:    "u1",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("put session: %v", err)
	}
	if err := store.PutSession(ctx, auth.Session{
		Token:     "live",
		UserID:    "u1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatalf("put session: %v", err)
	}

	removed, err := svc.SweepSessions(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 session removed, got %d", removed)
	}
	if _, err := store.GetSession(ctx, "live"); err != nil {
		t.Fatalf("live session should survive: %v", err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	store := memory.New()
	cacheSvc := cache.New(store, store, nil, cache.Config{}, quietLog())
	svc := New(cacheSvc, nil, "not a schedule", quietLog())

	if err := svc.Start(context.Background()); err == nil {
		t.Fatalf("expected invalid schedule to fail")
	}
}

func TestStartAndStop(t *testing.T) {
	store := memory.New()
	cacheSvc := cache.New(store, store, nil, cache.Config{}, quietLog())
	svc := New(cacheSvc, store, DefaultSchedule, quietLog())

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
