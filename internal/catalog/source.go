package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/errors"
)

// SourceStats counts what a bulk-source read produced.
type SourceStats struct {
	Entries int
	// Loaded counts distinct ids. Duplicates counts entries whose id was
	// already seen; the later key in sorted order wins.
	Loaded     int
	Skipped    int
	Duplicates int
}

// rawBook mirrors one bulk-source entry. Pointers distinguish "absent" from
// zero values so required fields can be enforced.
type rawBook struct {
	ID        *json.Number `json:"id"`
	Title     *string      `json:"title"`
	Author    *string      `json:"author"`
	FilePath  *string      `json:"file_path"`
	SourceURL *string      `json:"source_url"`
	ImageURL  *string      `json:"img_url"`
}

// ReadFile loads the bulk source at path: a JSON object mapping an arbitrary
// key to a book record. A missing or unreadable file is ErrSourceUnavailable;
// individual malformed entries are skipped and counted.
func ReadFile(path string, logger *slog.Logger) (map[int64]Book, SourceStats, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, SourceStats{}, fmt.Errorf("catalog source %s not found: %w", path, apperrors.ErrSourceUnavailable)
		}
		return nil, SourceStats{}, fmt.Errorf("opening catalog source %s: %w: %v", path, apperrors.ErrSourceUnavailable, err)
	}
	defer f.Close()
	return Decode(f, logger)
}

// Decode parses a bulk source from r. See ReadFile.
func Decode(r io.Reader, logger *slog.Logger) (map[int64]Book, SourceStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var entries map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, SourceStats{}, fmt.Errorf("reading catalog source: %w: %v", apperrors.ErrSourceUnavailable, err)
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stats := SourceStats{Entries: len(entries)}
	books := make(map[int64]Book, len(entries))
	for i, key := range keys {
		if (i+1)%500 == 0 {
			logger.Info("catalog source progress", "processed", i+1)
		}
		book, err := parseBook(entries[key])
		if err != nil {
			stats.Skipped++
			logger.Warn("skipping malformed book entry", "key", key, "error", err)
			continue
		}
		if _, dup := books[book.ID]; dup {
			stats.Duplicates++
			logger.Warn("duplicate book id, keeping the later entry", "key", key, "id", book.ID)
		}
		books[book.ID] = book
	}
	stats.Loaded = len(books)
	return books, stats, nil
}

func parseBook(data json.RawMessage) (Book, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw rawBook
	if err := dec.Decode(&raw); err != nil {
		return Book{}, fmt.Errorf("%w: %v", apperrors.ErrMalformedRecord, err)
	}
	if raw.ID == nil {
		return Book{}, fmt.Errorf("%w: missing id", apperrors.ErrMalformedRecord)
	}
	id, err := raw.ID.Int64()
	if err != nil {
		f, ferr := raw.ID.Float64()
		if ferr != nil || f != float64(int64(f)) {
			return Book{}, fmt.Errorf("%w: id %q is not an integer", apperrors.ErrMalformedRecord, raw.ID.String())
		}
		id = int64(f)
	}
	if raw.Title == nil || strings.TrimSpace(*raw.Title) == "" {
		return Book{}, fmt.Errorf("%w: missing title", apperrors.ErrMalformedRecord)
	}
	if raw.FilePath == nil || *raw.FilePath == "" {
		return Book{}, fmt.Errorf("%w: missing file_path", apperrors.ErrMalformedRecord)
	}
	return Book{
		ID:        id,
		Title:     *raw.Title,
		Author:    deref(raw.Author),
		FilePath:  *raw.FilePath,
		SourceURL: deref(raw.SourceURL),
		ImageURL:  deref(raw.ImageURL),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
