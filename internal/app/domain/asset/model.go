// Package asset holds the portfolio position model.
package asset

import (
	"time"

	"github.com/trackfolio/backend/internal/app/domain/market"
)

// Asset is one tracked position: an identifier (ticker, coingecko symbol,
// or ISIN depending on class), how much of it is held, and what it cost.
type Asset struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Identifier    string            `json:"identifier"`
	AssetClass    market.AssetClass `json:"asset_class"`
	DisplayName   string            `json:"display_name,omitempty"`
	Quantity      float64           `json:"quantity"`
	PurchasePrice float64           `json:"purchase_price"`
	Currency      string            `json:"currency"`
	PurchasedAt   time.Time         `json:"purchased_at"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
