// Package catalog owns the book records: the Postgres-backed Catalog Store,
// the bulk-source file reader, and the startup Loader that chooses between
// them.
package catalog

import (
	"context"
	"sort"
)

// Book is a catalog record. IDs are assigned by the bulk source, not here.
type Book struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Author    string `json:"author,omitempty"`
	FilePath  string `json:"file_path"`
	SourceURL string `json:"source_url,omitempty"`
	ImageURL  string `json:"img_url,omitempty"`
}

// Summary is the public projection of a Book returned by every search.
type Summary struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	SourceURL string `json:"sourceUrl"`
	ImageURL  string `json:"imgUrl"`
}

// Summary projects b for API responses.
func (b Book) Summary() Summary {
	return Summary{
		ID:        b.ID,
		Title:     b.Title,
		Author:    b.Author,
		SourceURL: b.SourceURL,
		ImageURL:  b.ImageURL,
	}
}

// Catalog is the in-memory book map held for the process lifetime.
type Catalog struct {
	books map[int64]Book
}

// NewCatalog wraps books without copying.
func NewCatalog(books map[int64]Book) *Catalog {
	if books == nil {
		books = make(map[int64]Book)
	}
	return &Catalog{books: books}
}

// Get returns the book with id.
func (c *Catalog) Get(id int64) (Book, bool) {
	b, ok := c.books[id]
	return b, ok
}

// Len returns the number of books.
func (c *Catalog) Len() int {
	return len(c.books)
}

// BookLookup is the batch read CachedFinder falls back to.
type BookLookup interface {
	FindByIDs(ctx context.Context, ids []int64) ([]Book, error)
}

// CachedFinder answers lookups from the current in-memory catalog and sends
// the ids it does not hold to the store in one call. Without a catalog every
// lookup goes to the store.
type CachedFinder struct {
	current func() *Catalog
	store   BookLookup
}

func NewCachedFinder(current func() *Catalog, store BookLookup) *CachedFinder {
	return &CachedFinder{current: current, store: store}
}

// FindByIDs returns the books it knows of. Order is unspecified.
func (f *CachedFinder) FindByIDs(ctx context.Context, ids []int64) ([]Book, error) {
	cat := f.current()
	if cat == nil {
		return f.store.FindByIDs(ctx, ids)
	}
	out := make([]Book, 0, len(ids))
	var missing []int64
	for _, id := range ids {
		if b, ok := cat.Get(id); ok {
			out = append(out, b)
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	rest, err := f.store.FindByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	return append(out, rest...), nil
}

func sortBooks(books []Book) {
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
}
