package assets

import (
	"context"
	"errors"
	"testing"

	"github.com/trackfolio/backend/internal/app/domain/asset"
	"github.com/trackfolio/backend/internal/app/domain/market"
	marketsvc "github.com/trackfolio/backend/internal/app/services/market"
	"github.com/trackfolio/backend/internal/app/storage/memory"
)

func TestCreateNormalizesAndStores(t *testing.T) {
	svc := New(memory.New(), nil)

	created, err := svc.Create(context.Background(), asset.Asset{
		UserID:        "u1",
		Identifier:    " aapl ",
		AssetClass:    market.AssetStock,
		Quantity:      5,
		PurchasePrice: 150,
		Currency:      "usd",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Identifier != "AAPL" || created.Currency != "USD" {
		t.Fatalf("expected normalized fields, got %+v", created)
	}
	if created.ID == "" {
		t.Fatalf("expected assigned ID")
	}
}

func TestCreateValidation(t *testing.T) {
	svc := New(memory.New(), nil)

	cases := []asset.Asset{
		{AssetClass: market.AssetStock, Quantity: 1, Currency: "USD"},                     // missing identifier
		{Identifier: "AAPL", AssetClass: "bond", Quantity: 1, Currency: "USD"},            // bad class
		{Identifier: "AAPL", AssetClass: market.AssetStock, Quantity: 0, Currency: "USD"}, // zero quantity
		{Identifier: "AAPL", AssetClass: market.AssetStock, Quantity: 1},                  // missing currency
		{Identifier: "AAPL", AssetClass: market.AssetStock, Quantity: 1, Currency: "USD", PurchasePrice: -1},
	}
	for i, a := range cases {
		_, err := svc.Create(context.Background(), a)
		var validation *marketsvc.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("case %d: expected ValidationError, got %v", i, err)
		}
	}
}

func TestUpdateAndDelete(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, asset.Asset{
		UserID:     "u1",
		Identifier: "BTC",
		AssetClass: market.AssetCrypto,
		Quantity:   0.5,
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	created.Quantity = 0.75
	updated, err := svc.Update(ctx, created)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Quantity != 0.75 {
		t.Fatalf("expected quantity 0.75, got %v", updated.Quantity)
	}

	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); err == nil {
		t.Fatalf("expected lookup to fail after delete")
	}
}

func TestListScopedToUser(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	for _, user := range []string{"u1", "u1", "u2"} {
		if _, err := svc.Create(ctx, asset.Asset{
			UserID:     user,
			Identifier: "AAPL",
			AssetClass: market.AssetStock,
			Quantity:   1,
			Currency:   "USD",
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, err := svc.List(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 assets for u1, got %d", len(list))
	}
}
