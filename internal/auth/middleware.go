package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/logger"
)

type contextKey struct{}

// Require rejects requests without a valid key. Keys are read from
// "Authorization: Bearer <key>" or the X-API-Key header.
func Require(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			info, err := v.Validate(r.Context(), key)
			switch {
			case errors.Is(err, ErrInvalidKey):
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			case errors.Is(err, ErrExpiredKey):
				writeError(w, http.StatusUnauthorized, "expired api key")
				return
			case err != nil:
				logger.FromContext(r.Context()).Error("admin key validation failed", "error", err)
				writeError(w, http.StatusInternalServerError, "authentication error")
				return
			}
			ctx := context.WithValue(r.Context(), contextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// KeyFromContext returns the key that authorized the request, if any.
func KeyFromContext(ctx context.Context) *KeyInfo {
	info, _ := ctx.Value(contextKey{}).(*KeyInfo)
	return info
}

func extractKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
