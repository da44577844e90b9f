// Package session keeps each caller's last search result ids so suggestion
// requests only see results of the same session.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/redis"
	"github.com/google/uuid"
)

const keyPrefix = "session:last:"

// Store maps a session id to its last-results ids. Get on an unknown or
// expired session returns an empty slice.
type Store interface {
	Get(ctx context.Context, sessionID string) ([]int64, error)
	Set(ctx context.Context, sessionID string, ids []int64) error
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// KV is the subset of *pkgredis.Client used here.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStore keeps sessions in Redis; expiry is Redis TTL.
type RedisStore struct {
	kv     KV
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisStore(kv KV, ttl time.Duration) *RedisStore {
	return &RedisStore{
		kv:     kv,
		ttl:    ttl,
		logger: slog.Default().With("component", "session-store"),
	}
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) ([]int64, error) {
	data, err := s.kv.Get(ctx, keyPrefix+sessionID)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return []int64{}, nil
		}
		return nil, fmt.Errorf("reading session %s: %w", sessionID, err)
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		s.logger.Warn("discarding corrupt session entry", "session_id", sessionID, "error", err)
		return []int64{}, nil
	}
	return ids, nil
}

func (s *RedisStore) Set(ctx context.Context, sessionID string, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sessionID, err)
	}
	if err := s.kv.Set(ctx, keyPrefix+sessionID, data, s.ttl); err != nil {
		return fmt.Errorf("writing session %s: %w", sessionID, err)
	}
	return nil
}

type entry struct {
	ids     []int64
	expires time.Time
}

// MemoryStore is the process-local fallback used without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return []int64{}, nil
	}
	if s.ttl > 0 && !s.now().Before(e.expires) {
		delete(s.entries, sessionID)
		return []int64{}, nil
	}
	return append([]int64(nil), e.ids...), nil
}

func (s *MemoryStore) Set(ctx context.Context, sessionID string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = entry{
		ids:     append([]int64{}, ids...),
		expires: s.now().Add(s.ttl),
	}
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
