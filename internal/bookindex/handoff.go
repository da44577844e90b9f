package bookindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/errors"
)

// HandoffStats counts what a handoff decode produced.
type HandoffStats struct {
	Words   int `json:"words"`
	Rows    int `json:"rows"`
	Skipped int `json:"skipped"`
}

type handoffRow struct {
	BookID    *int64 `json:"book_id"`
	Frequency *int   `json:"frequency"`
}

// ReadHandoff decodes the handoff file the remote service writes after a
// build: a JSON object mapping word to a list of {book_id, frequency}.
func ReadHandoff(path string, logger *slog.Logger) ([]Entry, HandoffStats, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, HandoffStats{}, fmt.Errorf("handoff %s not found: %w", path, apperrors.ErrSourceUnavailable)
		}
		return nil, HandoffStats{}, fmt.Errorf("opening handoff %s: %w: %v", path, apperrors.ErrSourceUnavailable, err)
	}
	defer f.Close()
	return DecodeHandoff(f, logger)
}

// DecodeHandoff reads a handoff document from r. Rows without a book id, with
// a non-positive frequency, or repeating a (word, book) pair are skipped and
// counted. Entries are returned ordered by word then book id.
func DecodeHandoff(r io.Reader, logger *slog.Logger) ([]Entry, HandoffStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var doc map[string][]json.RawMessage
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, HandoffStats{}, fmt.Errorf("decoding handoff: %w: %v", apperrors.ErrSourceUnavailable, err)
	}

	words := make([]string, 0, len(doc))
	for w := range doc {
		words = append(words, w)
	}
	sort.Strings(words)

	stats := HandoffStats{Words: len(words)}
	var entries []Entry
	for _, word := range words {
		rows := doc[word]
		if word == "" {
			stats.Skipped += len(rows)
			continue
		}
		seen := make(map[int64]struct{}, len(rows))
		for _, raw := range rows {
			e, err := decodeRow(word, raw)
			if err != nil {
				stats.Skipped++
				logger.Debug("skipping handoff row", "word", word, "error", err)
				continue
			}
			if _, dup := seen[e.BookID]; dup {
				stats.Skipped++
				continue
			}
			seen[e.BookID] = struct{}{}
			entries = append(entries, e)
		}
	}
	sortEntries(entries)
	stats.Rows = len(entries)
	if stats.Skipped > 0 {
		logger.Warn("handoff contained malformed rows", "skipped", stats.Skipped, "rows", stats.Rows)
	}
	return entries, stats, nil
}

func decodeRow(word string, raw json.RawMessage) (Entry, error) {
	var row handoffRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", apperrors.ErrMalformedRecord, err)
	}
	if row.BookID == nil {
		return Entry{}, fmt.Errorf("%w: missing book_id", apperrors.ErrMalformedRecord)
	}
	if row.Frequency == nil || *row.Frequency <= 0 {
		return Entry{}, fmt.Errorf("%w: frequency must be positive", apperrors.ErrMalformedRecord)
	}
	return Entry{Word: word, BookID: *row.BookID, Frequency: *row.Frequency}, nil
}
