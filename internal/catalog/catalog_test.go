package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSource = `{
  "a": {"id": 7, "title": "The Dragon's Lair", "author": "R. Vale", "file_path": "books/7.txt", "source_url": "https://example.org/7"},
  "b": {"id": 9, "title": "Fire and Ice", "file_path": "books/9.txt"},
  "c": {"id": "nine", "title": "Broken", "file_path": "books/x.txt"},
  "d": {"title": "No Id", "file_path": "books/y.txt"},
  "e": {"id": 11, "title": "", "file_path": "books/11.txt"},
  "f": {"id": 12.5, "title": "Fractional", "file_path": "books/12.txt"},
  "g": ["not", "an", "object"]
}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeSkipsMalformedEntries(t *testing.T) {
	books, stats, err := Decode(strings.NewReader(sampleSource), quietLogger())
	require.NoError(t, err)

	assert.Equal(t, 7, stats.Entries)
	assert.Equal(t, 2, stats.Loaded)
	assert.Equal(t, 5, stats.Skipped)
	require.Contains(t, books, int64(7))
	assert.Equal(t, "The Dragon's Lair", books[7].Title)
	assert.Equal(t, "R. Vale", books[7].Author)
	assert.Equal(t, "", books[9].Author)
}

func TestDecodeCountsDuplicateIDsOnce(t *testing.T) {
	src := `{
  "a": {"id": 7, "title": "First", "file_path": "books/7.txt"},
  "b": {"id": 7, "title": "Second", "file_path": "books/7b.txt"},
  "c": {"id": 8, "title": "Other", "file_path": "books/8.txt"}
}`
	books, stats, err := Decode(strings.NewReader(src), quietLogger())
	require.NoError(t, err)

	assert.Len(t, books, 2)
	assert.Equal(t, 2, stats.Loaded)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, "Second", books[7].Title)
}

func TestLoaderReportsDistinctBooks(t *testing.T) {
	read := func(path string, logger *slog.Logger) (map[int64]Book, SourceStats, error) {
		return Decode(strings.NewReader(`{
  "a": {"id": 1, "title": "One", "file_path": "1.txt"},
  "b": {"id": 1, "title": "Uno", "file_path": "1.txt"}
}`), logger)
	}
	store := NewMemoryStore()
	cat, res, err := NewLoader(store, "unused").WithReader(read).Load(context.Background())
	require.NoError(t, err)

	n, _ := store.Count(context.Background())
	assert.Equal(t, int64(res.Loaded), n)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, cat.Len(), res.Loaded)
}

func TestCachedFinderFallsBackForUnknownIDs(t *testing.T) {
	store := NewMemoryStore(
		Book{ID: 1, Title: "Stored One", FilePath: "1"},
		Book{ID: 2, Title: "Stored Two", FilePath: "2"},
	)
	cat := NewCatalog(map[int64]Book{1: {ID: 1, Title: "Cached One", FilePath: "1"}})
	f := NewCachedFinder(func() *Catalog { return cat }, store)

	books, err := f.FindByIDs(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)

	titles := map[int64]string{}
	for _, b := range books {
		titles[b.ID] = b.Title
	}
	assert.Equal(t, map[int64]string{1: "Cached One", 2: "Stored Two"}, titles)
	assert.Equal(t, 1, store.Calls("find_by_ids"))
}

func TestCachedFinderSkipsStoreWhenAllCached(t *testing.T) {
	store := NewMemoryStore()
	cat := NewCatalog(map[int64]Book{4: {ID: 4, Title: "Four", FilePath: "4"}})
	f := NewCachedFinder(func() *Catalog { return cat }, store)

	books, err := f.FindByIDs(context.Background(), []int64{4})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Zero(t, store.Calls("find_by_ids"))
}

func TestCachedFinderWithoutCatalogUsesStore(t *testing.T) {
	store := NewMemoryStore(Book{ID: 5, Title: "Five", FilePath: "5"})
	f := NewCachedFinder(func() *Catalog { return nil }, store)

	books, err := f.FindByIDs(context.Background(), []int64{5})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Five", books[0].Title)
}

func TestDecodeRejectsNonObject(t *testing.T) {
	_, _, err := Decode(strings.NewReader(`[1,2,3]`), quietLogger())
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
}

func TestReadFileMissing(t *testing.T) {
	_, _, err := ReadFile(filepath.Join(t.TempDir(), "missing.json"), quietLogger())
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleSource), 0o644))

	books, stats, err := ReadFile(path, quietLogger())
	require.NoError(t, err)
	assert.Len(t, books, 2)
	assert.Equal(t, 2, stats.Loaded)
}

func TestBookSummary(t *testing.T) {
	b := Book{ID: 7, Title: "T", Author: "A", FilePath: "p", SourceURL: "s", ImageURL: "i"}
	assert.Equal(t, Summary{ID: 7, Title: "T", Author: "A", SourceURL: "s", ImageURL: "i"}, b.Summary())
}

func TestLoaderSeedsEmptyStore(t *testing.T) {
	store := NewMemoryStore()
	path := filepath.Join(t.TempDir(), "books.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleSource), 0o644))

	cat, res, err := NewLoader(store, path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceFile, res.Source)
	assert.Equal(t, 2, res.Loaded)
	assert.Equal(t, 5, res.Skipped)
	assert.Equal(t, 2, cat.Len())
	n, _ := store.Count(context.Background())
	assert.Equal(t, int64(2), n)
}

func TestLoaderIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	reads := 0
	read := func(path string, logger *slog.Logger) (map[int64]Book, SourceStats, error) {
		reads++
		return Decode(strings.NewReader(sampleSource), logger)
	}

	loader := NewLoader(store, "unused").WithReader(read)
	_, first, err := loader.Load(context.Background())
	require.NoError(t, err)
	_, second, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, reads, "bulk source must not be read when the store has books")
	assert.Equal(t, SourceFile, first.Source)
	assert.Equal(t, SourceStore, second.Source)
	assert.Equal(t, first.Loaded, second.Loaded)
	assert.Equal(t, 1, store.Calls("save_all"))
}

func TestLoaderMissingSourceIsFatalToStep(t *testing.T) {
	_, _, err := NewLoader(NewMemoryStore(), filepath.Join(t.TempDir(), "nope.json")).Load(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
}

func TestMemoryStoreFindByIDs(t *testing.T) {
	store := NewMemoryStore(Book{ID: 9, Title: "b"}, Book{ID: 7, Title: "a"})

	books, err := store.FindByIDs(context.Background(), []int64{9, 7, 42, 9})
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, int64(7), books[0].ID)
	assert.Equal(t, int64(9), books[1].ID)
}

func TestUpsertBooksPlaceholders(t *testing.T) {
	query, args := upsertBooks([]Book{{ID: 1, Title: "a", FilePath: "p"}, {ID: 2, Title: "b", FilePath: "q", Author: "x"}})

	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6), ($7, $8, $9, $10, $11, $12)")
	assert.Contains(t, query, "ON CONFLICT (id) DO UPDATE")
	assert.Len(t, args, 12)
	assert.Equal(t, int64(2), args[6])
}
