package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeKV) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (f *fakeKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	f.ttls[key] = ttl
	return nil
}

func TestRedisStoreRoundTrip(t *testing.T) {
	kv := newFakeKV()
	s := NewRedisStore(kv, 30*time.Minute)
	ctx := context.Background()

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Set(ctx, "a", []int64{7, 9}))
	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 9}, got)
	assert.Equal(t, 30*time.Minute, kv.ttls[keyPrefix+"a"])

	require.NoError(t, s.Set(ctx, "a", nil))
	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStoreCorruptEntry(t *testing.T) {
	kv := newFakeKV()
	kv.data[keyPrefix+"x"] = []byte("{")
	got, err := NewRedisStore(kv, time.Minute).Get(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSessionsAreIsolated(t *testing.T) {
	for name, s := range map[string]Store{
		"memory": NewMemoryStore(time.Hour),
		"redis":  NewRedisStore(newFakeKV(), time.Hour),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Set(ctx, "alice", []int64{1, 2}))
			require.NoError(t, s.Set(ctx, "bob", []int64{3}))

			a, _ := s.Get(ctx, "alice")
			b, _ := s.Get(ctx, "bob")
			assert.Equal(t, []int64{1, 2}, a)
			assert.Equal(t, []int64{3}, b)
		})
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(time.Minute)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []int64{1}))
	require.NoError(t, s.Set(ctx, "b", []int64{2}))
	now = now.Add(30 * time.Second)
	require.NoError(t, s.Set(ctx, "b", []int64{2}))

	now = now.Add(45 * time.Second)
	got, _ := s.Get(ctx, "a")
	assert.Empty(t, got)
	got, _ = s.Get(ctx, "b")
	assert.Equal(t, []int64{2}, got)

	now = now.Add(time.Minute)
	assert.Equal(t, 1, s.Sweep())
	assert.Zero(t, s.Len())
}

func TestMemoryStoreCopies(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ids := []int64{1, 2}
	require.NoError(t, s.Set(context.Background(), "a", ids))
	ids[0] = 99
	got, _ := s.Get(context.Background(), "a")
	assert.Equal(t, []int64{1, 2}, got)
}

func TestNewID(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
	assert.Len(t, NewID(), 36)
}
