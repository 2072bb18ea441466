package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/trackfolio/backend/internal/app/domain/asset"
	"github.com/trackfolio/backend/internal/app/domain/market"
)

type assetPayload struct {
	Identifier    string     `json:"identifier"`
	AssetClass    string     `json:"asset_class"`
	DisplayName   string     `json:"display_name"`
	Quantity      float64    `json:"quantity"`
	PurchasePrice float64    `json:"purchase_price"`
	Currency      string     `json:"currency"`
	PurchasedAt   *time.Time `json:"purchased_at,omitempty"`
}

func (p assetPayload) toAsset(userID string) asset.Asset {
	a := asset.Asset{
		UserID:        userID,
		Identifier:    p.Identifier,
		AssetClass:    market.AssetClass(p.AssetClass),
		DisplayName:   p.DisplayName,
		Quantity:      p.Quantity,
		PurchasePrice: p.PurchasePrice,
		Currency:      p.Currency,
	}
	if p.PurchasedAt != nil {
		a.PurchasedAt = *p.PurchasedAt
	}
	return a
}

func (h *handler) createAsset(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())

	var payload assetPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Assets.Create(r.Context(), payload.toAsset(sess.UserID))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listAssets(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())

	list, err := h.app.Assets.List(r.Context(), sess.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ownedAsset loads the asset and checks it belongs to the session user.
// Foreign assets read as absent rather than forbidden.
func (h *handler) ownedAsset(r *http.Request) (asset.Asset, error) {
	sess, _ := sessionFromContext(r.Context())
	a, err := h.app.Assets.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return asset.Asset{}, err
	}
	if a.UserID != sess.UserID {
		return asset.Asset{}, errNotOwned
	}
	return a, nil
}

var errNotOwned = errors.New("asset not found")

func (h *handler) getAsset(w http.ResponseWriter, r *http.Request) {
	a, err := h.ownedAsset(r)
	if err != nil {
		if errors.Is(err, errNotOwned) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handler) updateAsset(w http.ResponseWriter, r *http.Request) {
	existing, err := h.ownedAsset(r)
	if err != nil {
		if errors.Is(err, errNotOwned) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		h.writeServiceError(w, err)
		return
	}

	var payload assetPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated := payload.toAsset(existing.UserID)
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt

	result, err := h.app.Assets.Update(r.Context(), updated)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) deleteAsset(w http.ResponseWriter, r *http.Request) {
	if _, err := h.ownedAsset(r); err != nil {
		if errors.Is(err, errNotOwned) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		h.writeServiceError(w, err)
		return
	}
	if err := h.app.Assets.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
