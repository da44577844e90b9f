package catalog

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a process-local Store used when no database is configured
// and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	books map[int64]Book
	calls map[string]int
}

func NewMemoryStore(books ...Book) *MemoryStore {
	s := &MemoryStore{books: make(map[int64]Book), calls: make(map[string]int)}
	for _, b := range books {
		s.books[b.ID] = b
	}
	return s
}

func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["count"]++
	return int64(len(s.books)), nil
}

func (s *MemoryStore) FindByIDs(ctx context.Context, ids []int64) ([]Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["find_by_ids"]++
	out := make([]Book, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if b, ok := s.books[id]; ok {
			out = append(out, b)
		}
	}
	// storage order, like a database would return it
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FindAll(ctx context.Context) ([]Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["find_all"]++
	out := make([]Book, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveAll(ctx context.Context, books []Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["save_all"]++
	for _, b := range books {
		s.books[b.ID] = b
	}
	return nil
}

// Calls reports how many times op ("count", "find_by_ids", "find_all",
// "save_all") was invoked.
func (s *MemoryStore) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}
