package memory

import (
	"context"
	"testing"
	"time"

	"github.com/trackfolio/backend/internal/app/domain/asset"
	"github.com/trackfolio/backend/internal/app/domain/auth"
	"github.com/trackfolio/backend/internal/app/domain/market"
	"github.com/trackfolio/backend/internal/app/storage"
)

func TestLatestPriceQuotePicksNewest(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, price := range []float64{100, 102, 101} {
		_, err := store.PutPriceQuote(ctx, market.PriceQuote{
			Symbol:     "AAPL",
			AssetClass: market.AssetStock,
			Price:      price,
			Currency:   "USD",
			Source:     "finnhub",
			FetchedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("put quote: %v", err)
		}
	}

	q, err := store.LatestPriceQuote(ctx, "AAPL", market.AssetStock)
	if err != nil {
		t.Fatalf("latest quote: %v", err)
	}
	if q.Price != 101 {
		t.Fatalf("expected newest price 101, got %v", q.Price)
	}
}

func TestLatestPriceQuoteDistinguishesAssetClass(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.PutPriceQuote(ctx, market.PriceQuote{Symbol: "BTC", AssetClass: market.AssetCrypto, Price: 60000}); err != nil {
		t.Fatalf("put quote: %v", err)
	}

	if _, err := store.LatestPriceQuote(ctx, "BTC", market.AssetStock); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound for wrong class, got %v", err)
	}
}

func TestLatestPriceQuoteBatchSkipsMissing(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.PutPriceQuote(ctx, market.PriceQuote{Symbol: "AAPL", AssetClass: market.AssetStock, Price: 100}); err != nil {
		t.Fatalf("put quote: %v", err)
	}

	got, err := store.LatestPriceQuoteBatch(ctx, []string{"AAPL", "MSFT"}, market.AssetStock)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if _, ok := got["AAPL"]; !ok {
		t.Fatalf("expected AAPL in batch result")
	}
}

func TestDeletePriceQuotesBefore(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	old := market.PriceQuote{Symbol: "AAPL", AssetClass: market.AssetStock, Price: 90, FetchedAt: now.Add(-40 * 24 * time.Hour)}
	fresh := market.PriceQuote{Symbol: "AAPL", AssetClass: market.AssetStock, Price: 100, FetchedAt: now}
	for _, q := range []market.PriceQuote{old, fresh} {
		if _, err := store.PutPriceQuote(ctx, q); err != nil {
			t.Fatalf("put quote: %v", err)
		}
	}

	removed, err := store.DeletePriceQuotesBefore(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	rows, err := store.PriceCacheRows(ctx)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 1 || rows[0].Price != 100 {
		t.Fatalf("expected only the fresh quote to remain, got %+v", rows)
	}
}

func TestRateQuotePairIsDirectional(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.PutRateQuote(ctx, market.RateQuote{FromCurrency: "eur", ToCurrency: "usd", Rate: 1.18, Source: "exchangerate"}); err != nil {
		t.Fatalf("put rate: %v", err)
	}

	q, err := store.LatestRateQuote(ctx, "EUR", "USD")
	if err != nil {
		t.Fatalf("latest rate: %v", err)
	}
	if q.Rate != 1.18 {
		t.Fatalf("expected rate 1.18, got %v", q.Rate)
	}

	if _, err := store.LatestRateQuote(ctx, "USD", "EUR"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound for reversed pair, got %v", err)
	}
}

func TestLatestRateQuoteBatchSkipsMissing(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, rate := range []float64{0.90, 0.92} {
		if _, err := store.PutRateQuote(ctx, market.RateQuote{
			FromCurrency: "USD",
			ToCurrency:   "EUR",
			Rate:         rate,
			Source:       "exchangerate",
			FetchedAt:    base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("put rate: %v", err)
		}
	}

	got, err := store.LatestRateQuoteBatch(ctx, []market.CurrencyPair{
		{From: "usd", To: "eur"},
		{From: "USD", To: "GBP"},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	q, ok := got[market.CurrencyPair{From: "USD", To: "EUR"}]
	if !ok {
		t.Fatalf("expected USD/EUR in batch result, got %+v", got)
	}
	if q.Rate != 0.92 {
		t.Fatalf("expected newest rate 0.92, got %v", q.Rate)
	}
}

func TestClearRateQuotes(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, pair := range [][2]string{{"EUR", "USD"}, {"GBP", "USD"}} {
		if _, err := store.PutRateQuote(ctx, market.RateQuote{FromCurrency: pair[0], ToCurrency: pair[1], Rate: 1}); err != nil {
			t.Fatalf("put rate: %v", err)
		}
	}

	removed, err := store.ClearRateQuotes(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
}

func TestAssetLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateAsset(ctx, asset.Asset{
		UserID:     "u1",
		Identifier: "AAPL",
		AssetClass: market.AssetStock,
		Quantity:   5,
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected assigned ID")
	}

	created.Quantity = 10
	updated, err := store.UpdateAsset(ctx, created)
	if err != nil {
		t.Fatalf("update asset: %v", err)
	}
	if updated.Quantity != 10 {
		t.Fatalf("expected quantity 10, got %v", updated.Quantity)
	}

	list, err := store.ListAssets(ctx, "u1")
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 asset, got %d", len(list))
	}

	if err := store.DeleteAsset(ctx, created.ID); err != nil {
		t.Fatalf("delete asset: %v", err)
	}
	if _, err := store.GetAsset(ctx, created.ID); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUserAndSessionStore(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, err := store.CreateUser(ctx, auth.User{Username: "Admin", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	got, err := store.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("lookup is case-insensitive: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("expected user %s, got %s", u.ID, got.ID)
	}

	if _, err := store.CreateUser(ctx, auth.User{Username: "ADMIN"}); err == nil {
		t.Fatalf("expected duplicate username to fail")
	}

	sess := auth.Session{Token: "tok", UserID: u.ID, Username: u.Username, ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.PutSession(ctx, sess); err != nil {
		t.Fatalf("put session: %v", err)
	}
	if _, err := store.GetSession(ctx, "tok"); err != nil {
		t.Fatalf("get session: %v", err)
	}
	if err := store.DeleteSession(ctx, "tok"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := store.GetSession(ctx, "tok"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
