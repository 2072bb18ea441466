// Package httpapi exposes the application services over REST. Routes are
// registered on a gorilla/mux router; engine errors are translated to
// HTTP status codes in writeServiceError.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/trackfolio/backend/internal/app"
	"github.com/trackfolio/backend/internal/app/domain/market"
	authsvc "github.com/trackfolio/backend/internal/app/services/auth"
	marketsvc "github.com/trackfolio/backend/internal/app/services/market"
	"github.com/trackfolio/backend/internal/app/storage"
	"github.com/trackfolio/backend/internal/resilience"
	"github.com/trackfolio/backend/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns a router exposing the REST API.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", h.health).Methods(http.MethodGet)
	api.HandleFunc("/health/circuit-breakers", h.circuitBreakers).Methods(http.MethodGet)

	api.HandleFunc("/price/stock/{identifier}", h.stockPrice).Methods(http.MethodGet)
	api.HandleFunc("/price/crypto/{symbol}", h.cryptoPrice).Methods(http.MethodGet)
	api.HandleFunc("/price/derivative/{isin}", h.derivativePrice).Methods(http.MethodGet)

	api.HandleFunc("/conversion/rate/{from}/{to}", h.conversionRate).Methods(http.MethodGet)
	api.HandleFunc("/conversion/convert", h.convert).Methods(http.MethodGet)

	api.HandleFunc("/cache/stats", h.cacheStats).Methods(http.MethodGet)
	api.Handle("/cache/clear/prices", h.requireSession(h.clearPrices)).Methods(http.MethodPost)
	api.Handle("/cache/clear/conversion", h.requireSession(h.clearConversions)).Methods(http.MethodPost)
	api.Handle("/cache/cleanup", h.requireSession(h.cacheCleanup)).Methods(http.MethodPost)

	api.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	api.Handle("/auth/logout", h.requireSession(h.logout)).Methods(http.MethodPost)
	api.Handle("/auth/session", h.requireSession(h.session)).Methods(http.MethodGet)

	api.Handle("/assets", h.requireSession(h.listAssets)).Methods(http.MethodGet)
	api.Handle("/assets", h.requireSession(h.createAsset)).Methods(http.MethodPost)
	api.Handle("/assets/{id}", h.requireSession(h.getAsset)).Methods(http.MethodGet)
	api.Handle("/assets/{id}", h.requireSession(h.updateAsset)).Methods(http.MethodPut)
	api.Handle("/assets/{id}", h.requireSession(h.deleteAsset)).Methods(http.MethodDelete)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) circuitBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Market.BreakerStatus())
}

func fetchOptions(r *http.Request) market.FetchOptions {
	return market.FetchOptions{
		ForceRefresh: boolParam(r, "force_refresh"),
		AllowExpired: boolParam(r, "allow_expired"),
	}
}

func boolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func (h *handler) stockPrice(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Market.GetStockPrice(r.Context(), mux.Vars(r)["identifier"], fetchOptions(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) cryptoPrice(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Market.GetCryptoPrice(r.Context(), mux.Vars(r)["symbol"], fetchOptions(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) derivativePrice(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Market.GetDerivativePrice(r.Context(), mux.Vars(r)["isin"], fetchOptions(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) conversionRate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	result, err := h.app.Market.GetConversionRate(r.Context(), vars["from"], vars["to"], fetchOptions(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) convert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := strconv.ParseFloat(q.Get("amount"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("amount must be a number"))
		return
	}
	result, svcErr := h.app.Market.ConvertAmount(r.Context(), q.Get("from"), q.Get("to"), amount, fetchOptions(r))
	if svcErr != nil {
		h.writeServiceError(w, svcErr)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Market.CacheStats(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) clearPrices(w http.ResponseWriter, r *http.Request) {
	removed, err := h.app.Market.ClearPriceCache(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (h *handler) clearConversions(w http.ResponseWriter, r *http.Request) {
	removed, err := h.app.Market.ClearConversionCache(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (h *handler) cacheCleanup(w http.ResponseWriter, r *http.Request) {
	report, err := h.app.Maintenance.RunNow(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeServiceError maps the engine error taxonomy to HTTP status codes.
// Upstream 429/503/504 pass through; other upstream failures surface as a
// 502 so callers can tell a provider outage from a local fault.
func (h *handler) writeServiceError(w http.ResponseWriter, err error) {
	var notFound *marketsvc.NotFoundError
	var validation *marketsvc.ValidationError
	var apiErr *marketsvc.ExternalAPIError

	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &apiErr):
		status := http.StatusBadGateway
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			status = apiErr.StatusCode
		}
		writeError(w, status, err)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, resilience.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, authsvc.ErrInvalidCredentials), errors.Is(err, authsvc.ErrInvalidSession):
		writeError(w, http.StatusUnauthorized, err)
	default:
		h.log.WithError(err).Error("unmapped service error")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
