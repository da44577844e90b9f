package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func TestRequestIDGeneratesAndPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
}

func TestRateLimitPerClient(t *testing.T) {
	l := NewClientLimiter(0.001, 2, time.Minute)
	h := RateLimit(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(addr, path string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:1234", "/api/v1/search/title"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1:1234", "/api/v1/search/title"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:1234", "/api/v1/search/title"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2:1234", "/api/v1/search/title"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1:1234", "/health/live"))
}

func TestClientLimiterSweep(t *testing.T) {
	l := NewClientLimiter(1, 1, time.Minute)
	l.Allow("a")
	assert.Equal(t, 0, l.Sweep(time.Now()))
	assert.Equal(t, 1, l.Sweep(time.Now().Add(2*time.Minute)))
}

func TestTimeoutWritesGatewayTimeout(t *testing.T) {
	h := Timeout(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}
