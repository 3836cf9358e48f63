package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"flowers-serverless/internal/observability"
	"flowers-serverless/internal/shop"
)

const (
	KeyHeader        = "X-Admin-API-Key"
	maxJSONBodyBytes = 1 << 12
	minKeyLength     = 24
)

type ShopStore interface {
	GetByID(ctx context.Context, id int64) (shop.Shop, error)
	SetActive(ctx context.Context, id int64, active bool) (shop.Shop, error)
}

// Handler exposes operator endpoints. They are disabled entirely while no
// key hash is configured.
type Handler struct {
	shops   ShopStore
	keyHash []byte
	logger  *observability.Logger
}

func NewHandler(shops ShopStore, keyHash string, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{
		shops:   shops,
		keyHash: []byte(strings.TrimSpace(keyHash)),
		logger:  logger,
	}
}

func (h *Handler) Enabled() bool {
	return len(h.keyHash) > 0
}

// HashKey produces the value for ADMIN_API_KEY_HASH.
func HashKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if len(key) < minKeyLength {
		return "", fmt.Errorf("admin key must be at least %d characters", minKeyLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash admin key: %w", err)
	}
	return string(hash), nil
}

func (h *Handler) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Enabled() {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		key := strings.TrimSpace(r.Header.Get(KeyHeader))
		if key == "" || bcrypt.CompareHashAndPassword(h.keyHash, []byte(key)) != nil {
			h.logger.Warn("admin_key_rejected", map[string]any{
				"path": r.URL.Path,
				"ip":   observability.ClientIP(r),
			})
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRequest struct {
	IsActive *bool `json:"is_active"`
}

func (h *Handler) GetShop(w http.ResponseWriter, r *http.Request) {
	id, ok := shopID(w, r)
	if !ok {
		return
	}

	s, err := h.shops.GetByID(r.Context(), id)
	if err != nil {
		h.shopError(w, r, err, "failed to load shop")
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// SetShopStatus activates or deactivates a shop. Shops are never deleted;
// deactivation makes every existing session for the shop fail with 403.
func (h *Handler) SetShopStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := shopID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var body statusRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil || body.IsActive == nil {
		writeError(w, http.StatusBadRequest, "is_active is required")
		return
	}

	s, err := h.shops.SetActive(r.Context(), id, *body.IsActive)
	if err != nil {
		h.shopError(w, r, err, "failed to update shop status")
		return
	}

	h.logger.Info("shop_status_changed", map[string]any{
		"shop_id":   s.ID,
		"is_active": s.IsActive,
	})
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) shopError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, shop.ErrNotFound) {
		writeError(w, http.StatusNotFound, "shop not found")
		return
	}
	observability.CaptureError(r.Context(), err, map[string]string{"component": "admin"})
	writeError(w, http.StatusInternalServerError, message)
}

func shopID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid shop id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
