package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"flowers-serverless/internal/observability"
	"flowers-serverless/internal/shop"
)

type shopContextKey struct{}

// ShopFromContext returns the shop resolved by Middleware.
func ShopFromContext(ctx context.Context) (shop.Shop, bool) {
	s, ok := ctx.Value(shopContextKey{}).(shop.Shop)
	return s, ok
}

func ContextWithShop(ctx context.Context, s shop.Shop) context.Context {
	return context.WithValue(ctx, shopContextKey{}, s)
}

func Middleware(validator *Validator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "invalid authorization token")
			return
		}

		current, err := validator.ResolveCurrentShop(r.Context(), tokenStr)
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidToken):
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
			case errors.Is(err, ErrShopNotFound):
				writeError(w, http.StatusUnauthorized, "shop not found")
			case errors.Is(err, ErrShopInactive):
				writeError(w, http.StatusForbidden, "shop is inactive")
			default:
				observability.CaptureError(r.Context(), err, map[string]string{"component": "session"})
				writeError(w, http.StatusInternalServerError, "failed to authenticate")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithShop(r.Context(), current)))
	})
}
