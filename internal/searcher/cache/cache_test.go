package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (m *memKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKV) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

type countingGenerator struct {
	calls atomic.Int32
	delay time.Duration
	words []string
	err   error
}

func (g *countingGenerator) GenerateWords(ctx context.Context, pattern string, maxWords, maxLength int) ([]string, error) {
	g.calls.Add(1)
	time.Sleep(g.delay)
	return g.words, g.err
}

// ctxGenerator honours cancellation the way the HTTP remote client does.
type ctxGenerator struct {
	calls atomic.Int32
	delay time.Duration
	words []string
}

func (g *ctxGenerator) GenerateWords(ctx context.Context, pattern string, maxWords, maxLength int) ([]string, error) {
	g.calls.Add(1)
	select {
	case <-time.After(g.delay):
		return g.words, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestWordCacheHit(t *testing.T) {
	gen := &countingGenerator{words: []string{"dragon", "fire"}}
	m := metrics.New(prometheus.NewRegistry())
	c := New(newMemKV(), gen, time.Minute, m)
	ctx := context.Background()

	first, err := c.GenerateWords(ctx, "dr.*", 100, 50)
	require.NoError(t, err)
	second, err := c.GenerateWords(ctx, "dr.*", 100, 50)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WordCacheTotal.WithLabelValues("hit")))
}

func TestWordCacheKeyIncludesBounds(t *testing.T) {
	gen := &countingGenerator{words: []string{"a"}}
	c := New(newMemKV(), gen, time.Minute, nil)
	ctx := context.Background()

	_, _ = c.GenerateWords(ctx, "a", 100, 50)
	_, _ = c.GenerateWords(ctx, "a", 50, 50)
	_, _ = c.GenerateWords(ctx, "A", 100, 50)
	assert.Equal(t, int32(3), gen.calls.Load())
}

func TestWordCacheCoalescesConcurrentMisses(t *testing.T) {
	gen := &countingGenerator{words: []string{"w"}, delay: 50 * time.Millisecond}
	c := New(nil, gen, time.Minute, nil)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GenerateWords(context.Background(), "p", 10, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, gen.calls.Load(), int32(10))
}

func TestWordCacheDoesNotStoreErrors(t *testing.T) {
	gen := &countingGenerator{err: errors.New("remote down")}
	kv := newMemKV()
	c := New(kv, gen, time.Minute, nil)

	_, err := c.GenerateWords(context.Background(), "p", 1, 1)
	require.Error(t, err)
	assert.Empty(t, kv.data)
}

func TestWordCacheInvalidate(t *testing.T) {
	kv := newMemKV()
	gen := &countingGenerator{words: []string{}}
	c := New(kv, gen, time.Minute, nil)
	_, _ = c.GenerateWords(context.Background(), "p", 1, 1)
	require.Len(t, kv.data, 1)

	require.NoError(t, c.Invalidate(context.Background()))
	assert.Empty(t, kv.data)
}

func TestWordCacheCancelledCallerDoesNotFailWaiters(t *testing.T) {
	gen := &ctxGenerator{words: []string{"w"}, delay: 100 * time.Millisecond}
	c := New(newMemKV(), gen, time.Minute, nil)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GenerateWords(first, "p", 10, 10)
		firstErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	second := make(chan []string, 1)
	secondErr := make(chan error, 1)
	go func() {
		words, err := c.GenerateWords(context.Background(), "p", 10, 10)
		second <- words
		secondErr <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	require.NoError(t, <-secondErr)
	assert.Equal(t, []string{"w"}, <-second)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestWordCacheCallTimeoutBoundsSharedCall(t *testing.T) {
	gen := &ctxGenerator{words: []string{"w"}, delay: time.Second}
	c := New(nil, gen, time.Minute, nil).WithCallTimeout(20 * time.Millisecond)

	_, err := c.GenerateWords(context.Background(), "p", 1, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
