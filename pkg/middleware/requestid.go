package middleware

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/logger"
	"github.com/google/uuid"
)

// RequestIDHeader is read from incoming requests and echoed on responses.
const RequestIDHeader = "X-Request-ID"

// RequestID ensures every request carries an id in its context and response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}
