// Package cache memoizes generated query words in Redis. Concurrent misses
// for the same key share one remote call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const (
	keyPrefix = "words:"

	defaultCallTimeout = 30 * time.Second
)

// Generator expands a pattern into candidate words.
type Generator interface {
	GenerateWords(ctx context.Context, pattern string, maxWords, maxLength int) ([]string, error)
}

// KV is the subset of *pkgredis.Client used here.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// WordCache is a Generator that consults Redis before the wrapped one. A nil
// KV disables storage but keeps request coalescing.
type WordCache struct {
	kv          KV
	next        Generator
	ttl         time.Duration
	callTimeout time.Duration
	group       singleflight.Group
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func New(kv KV, next Generator, ttl time.Duration, m *metrics.Metrics) *WordCache {
	return &WordCache{
		kv:          kv,
		next:        next,
		ttl:         ttl,
		callTimeout: defaultCallTimeout,
		metrics:     m,
		logger:      slog.Default().With("component", "word-cache"),
	}
}

// WithCallTimeout bounds the shared remote call. It outlives any single
// caller, so it cannot borrow a caller's deadline.
func (c *WordCache) WithCallTimeout(d time.Duration) *WordCache {
	if d > 0 {
		c.callTimeout = d
	}
	return c
}

func (c *WordCache) GenerateWords(ctx context.Context, pattern string, maxWords, maxLength int) ([]string, error) {
	key := buildKey(pattern, maxWords, maxLength)
	if words, ok := c.get(ctx, key); ok {
		return words, nil
	}
	ch := c.group.DoChan(key, func() (any, error) {
		// Detached so a caller that gives up does not fail the others
		// waiting on the same key.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
		defer cancel()
		if words, ok := c.get(callCtx, key); ok {
			return words, nil
		}
		words, err := c.next.GenerateWords(callCtx, pattern, maxWords, maxLength)
		if err != nil {
			return nil, err
		}
		c.set(callCtx, key, words)
		return words, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("coalesced word generation", "pattern", pattern)
		}
		return res.Val.([]string), nil
	}
}

// Invalidate drops every cached word list.
func (c *WordCache) Invalidate(ctx context.Context) error {
	if c.kv == nil {
		return nil
	}
	deleted, err := c.kv.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating word cache: %w", err)
	}
	c.logger.Info("word cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *WordCache) get(ctx context.Context, key string) ([]string, bool) {
	if c.kv == nil {
		c.miss()
		return nil, false
	}
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var words []string
	if err := json.Unmarshal(data, &words); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.metrics.ObserveWordCache(true)
	return words, true
}

func (c *WordCache) miss() {
	c.metrics.ObserveWordCache(false)
}

func (c *WordCache) set(ctx context.Context, key string, words []string) {
	if c.kv == nil {
		return
	}
	if words == nil {
		words = []string{}
	}
	data, err := json.Marshal(words)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.kv.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// buildKey hashes the request. Patterns are regex-like so they are not
// normalized: "A" and "a" generate different words.
func buildKey(pattern string, maxWords, maxLength int) string {
	raw := fmt.Sprintf("%s|w=%d|l=%d", pattern, maxWords, maxLength)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
