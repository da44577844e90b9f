package bookindex

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store keyed word → book id → entry.
type MemoryStore struct {
	mu              sync.RWMutex
	index           map[Kind]map[string]map[int64]Entry
	caseInsensitive bool
}

func NewMemoryStore(caseInsensitive bool) *MemoryStore {
	return &MemoryStore{
		index:           make(map[Kind]map[string]map[int64]Entry),
		caseInsensitive: caseInsensitive,
	}
}

func (m *MemoryStore) Contains(ctx context.Context, kind Kind, fragment string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := fragment
	if m.caseInsensitive {
		needle = strings.ToLower(fragment)
	}
	var result []Entry
	for word, books := range m.index[kind] {
		hay := word
		if m.caseInsensitive {
			hay = strings.ToLower(word)
		}
		if !strings.Contains(hay, needle) {
			continue
		}
		for _, e := range books {
			result = append(result, e)
		}
	}
	sortEntries(result)
	return result, nil
}

func (m *MemoryStore) Count(ctx context.Context, kind Kind) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, books := range m.index[kind] {
		n += int64(len(books))
	}
	return n, nil
}

func (m *MemoryStore) DeleteAll(ctx context.Context, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.index, kind)
	return nil
}

func (m *MemoryStore) InsertBatch(ctx context.Context, kind Kind, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	words, ok := m.index[kind]
	if !ok {
		words = make(map[string]map[int64]Entry)
		m.index[kind] = words
	}
	for _, e := range entries {
		books, exists := words[e.Word]
		if !exists {
			books = make(map[int64]Entry)
			words[e.Word] = books
		}
		books[e.BookID] = e
	}
	return nil
}

// Snapshot returns every entry of kind ordered by word then book id.
func (m *MemoryStore) Snapshot(kind Kind) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, books := range m.index[kind] {
		for _, e := range books {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Word != entries[j].Word {
			return entries[i].Word < entries[j].Word
		}
		return entries[i].BookID < entries[j].BookID
	})
}
