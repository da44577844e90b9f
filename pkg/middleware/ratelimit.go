package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter keeps one token bucket per client key.
type ClientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	limit   rate.Limit
	burst   int
	idle    time.Duration
}

// NewClientLimiter allows perSecond requests per client with the given burst.
// Buckets unused for longer than idle are dropped by Sweep.
func NewClientLimiter(perSecond float64, burst int, idle time.Duration) *ClientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ClientLimiter{
		clients: make(map[string]*clientEntry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
	}
}

// Allow consumes one token for key.
func (l *ClientLimiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.clients[key]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// Sweep removes buckets idle since before now-idle.
func (l *ClientLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-l.idle)
	removed := 0
	for key, e := range l.clients {
		if e.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// RateLimit rejects requests from clients that exhausted their bucket.
// Health and metrics endpoints are never limited.
func RateLimit(l *ClientLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			if !l.Allow(clientKey(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
