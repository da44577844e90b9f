package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Source says where the in-memory catalog came from.
type Source string

const (
	SourceFile  Source = "file"
	SourceStore Source = "store"
)

// LoadResult describes one catalog bootstrap.
type LoadResult struct {
	Source     Source        `json:"source"`
	Loaded     int           `json:"loaded"`
	Skipped    int           `json:"skipped"`
	Duplicates int           `json:"duplicates,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ReadFunc reads the bulk source. ReadFile is the production implementation.
type ReadFunc func(path string, logger *slog.Logger) (map[int64]Book, SourceStats, error)

// Loader populates the in-memory catalog at startup.
type Loader struct {
	store  Store
	path   string
	read   ReadFunc
	logger *slog.Logger
}

func NewLoader(store Store, path string) *Loader {
	return &Loader{
		store:  store,
		path:   path,
		read:   ReadFile,
		logger: slog.Default().With("component", "catalog-loader"),
	}
}

// WithReader replaces the bulk-source reader.
func (l *Loader) WithReader(read ReadFunc) *Loader {
	l.read = read
	return l
}

// Load returns the catalog. An empty store is seeded from the bulk source;
// a non-empty store is read back as is and the bulk source is not opened.
func (l *Loader) Load(ctx context.Context) (*Catalog, LoadResult, error) {
	start := time.Now()
	count, err := l.store.Count(ctx)
	if err != nil {
		return nil, LoadResult{}, fmt.Errorf("checking catalog store: %w", err)
	}

	if count > 0 {
		books, err := l.store.FindAll(ctx)
		if err != nil {
			return nil, LoadResult{}, fmt.Errorf("reading catalog store: %w", err)
		}
		m := make(map[int64]Book, len(books))
		for _, b := range books {
			m[b.ID] = b
		}
		res := LoadResult{Source: SourceStore, Loaded: len(m), Duration: time.Since(start)}
		l.logger.Info("catalog loaded from store", "books", res.Loaded)
		return NewCatalog(m), res, nil
	}

	l.logger.Info("catalog store empty, reading bulk source", "path", l.path)
	books, stats, err := l.read(l.path, l.logger)
	if err != nil {
		return nil, LoadResult{Source: SourceFile}, err
	}
	batch := make([]Book, 0, len(books))
	for _, b := range books {
		batch = append(batch, b)
	}
	sortBooks(batch)
	if err := l.store.SaveAll(ctx, batch); err != nil {
		return nil, LoadResult{Source: SourceFile}, fmt.Errorf("persisting catalog: %w", err)
	}

	res := LoadResult{
		Source:   SourceFile,
		Loaded:     stats.Loaded,
		Skipped:    stats.Skipped,
		Duplicates: stats.Duplicates,
		Duration:   time.Since(start),
	}
	l.logger.Info("catalog loaded from bulk source",
		"books", res.Loaded,
		"skipped", res.Skipped,
		"duplicates", res.Duplicates,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return NewCatalog(books), res, nil
}
