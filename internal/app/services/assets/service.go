// Package assets manages portfolio positions.
package assets

import (
	"context"
	"strings"

	"github.com/trackfolio/backend/internal/app/domain/asset"
	"github.com/trackfolio/backend/internal/app/domain/market"
	marketsvc "github.com/trackfolio/backend/internal/app/services/market"
	"github.com/trackfolio/backend/internal/app/storage"
	"github.com/trackfolio/backend/pkg/logger"
)

func errValidation(field, reason string) error {
	return &marketsvc.ValidationError{Field: field, Reason: reason}
}

// Service provides CRUD over portfolio positions.
type Service struct {
	store storage.AssetStore
	log   *logger.Logger
}

// New constructs an asset service.
func New(store storage.AssetStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("assets")
	}
	return &Service{store: store, log: log}
}

func validate(a asset.Asset) error {
	if strings.TrimSpace(a.Identifier) == "" {
		return errValidation("identifier", "must not be empty")
	}
	if !a.AssetClass.Valid() {
		return errValidation("asset_class", "must be stock, crypto, or derivative")
	}
	if a.Quantity <= 0 {
		return errValidation("quantity", "must be positive")
	}
	if a.PurchasePrice < 0 {
		return errValidation("purchase_price", "must not be negative")
	}
	if market.NormalizeCurrency(a.Currency) == "" {
		return errValidation("currency", "must not be empty")
	}
	return nil
}

// Create validates and stores a new position.
func (s *Service) Create(ctx context.Context, a asset.Asset) (asset.Asset, error) {
	a.Identifier = strings.ToUpper(strings.TrimSpace(a.Identifier))
	a.Currency = market.NormalizeCurrency(a.Currency)
	a.DisplayName = strings.TrimSpace(a.DisplayName)
	if err := validate(a); err != nil {
		return asset.Asset{}, err
	}

	created, err := s.store.CreateAsset(ctx, a)
	if err != nil {
		return asset.Asset{}, err
	}
	s.log.WithField("asset_id", created.ID).
		WithField("identifier", created.Identifier).
		Info("asset created")
	return created, nil
}

// Get returns one position by ID.
func (s *Service) Get(ctx context.Context, id string) (asset.Asset, error) {
	return s.store.GetAsset(ctx, id)
}

// List returns the positions owned by a user; an empty userID lists all.
func (s *Service) List(ctx context.Context, userID string) ([]asset.Asset, error) {
	return s.store.ListAssets(ctx, userID)
}

// Update validates and stores changed position fields. The owner and
// creation time are immutable.
func (s *Service) Update(ctx context.Context, a asset.Asset) (asset.Asset, error) {
	a.Identifier = strings.ToUpper(strings.TrimSpace(a.Identifier))
	a.Currency = market.NormalizeCurrency(a.Currency)
	a.DisplayName = strings.TrimSpace(a.DisplayName)
	if err := validate(a); err != nil {
		return asset.Asset{}, err
	}

	updated, err := s.store.UpdateAsset(ctx, a)
	if err != nil {
		return asset.Asset{}, err
	}
	s.log.WithField("asset_id", updated.ID).Info("asset updated")
	return updated, nil
}

// Delete removes a position.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteAsset(ctx, id); err != nil {
		return err
	}
	s.log.WithField("asset_id", id).Info("asset deleted")
	return nil
}
