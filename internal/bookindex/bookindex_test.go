package bookindex

import (
	"context"
	"fmt"
	"strings"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(n int, word string) []Entry {
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{Word: fmt.Sprintf("%s%04d", word, i), BookID: int64(i + 1), Frequency: 1}
	}
	return out
}

func TestMemoryStoreContainsOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(false)
	require.NoError(t, s.InsertBatch(ctx, KindTitle, []Entry{
		{Word: "dragons", BookID: 9, Frequency: 1},
		{Word: "dragon", BookID: 7, Frequency: 2},
		{Word: "dragon", BookID: 3, Frequency: 1},
		{Word: "fire", BookID: 9, Frequency: 1},
	}))

	got, err := s.Contains(ctx, KindTitle, "drag")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, Entry{Word: "dragon", BookID: 3, Frequency: 1}, got[0])
	assert.Equal(t, Entry{Word: "dragon", BookID: 7, Frequency: 2}, got[1])
	assert.Equal(t, "dragons", got[2].Word)

	none, err := s.Contains(ctx, KindContent, "drag")
	require.NoError(t, err)
	assert.Empty(t, none, "kinds are disjoint")
}

func TestMemoryStoreCaseSensitivity(t *testing.T) {
	ctx := context.Background()
	for _, insensitive := range []bool{false, true} {
		s := NewMemoryStore(insensitive)
		require.NoError(t, s.InsertBatch(ctx, KindTitle, []Entry{{Word: "Dragon", BookID: 1, Frequency: 1}}))
		got, err := s.Contains(ctx, KindTitle, "dragon")
		require.NoError(t, err)
		if insensitive {
			assert.Len(t, got, 1)
		} else {
			assert.Empty(t, got)
		}
	}
}

func TestReplaceAtBatchBoundaries(t *testing.T) {
	for _, n := range []int{0, 1, 499, 500, 501, 1000, 1001} {
		t.Run(fmt.Sprintf("rows=%d", n), func(t *testing.T) {
			ctx := context.Background()
			s := NewMemoryStore(false)
			// residue from a previous build that must not survive
			require.NoError(t, s.InsertBatch(ctx, KindContent, entries(700, "old")))

			var batches []int
			r := NewReplacer(s, 500)
			r.OnBatch(func(kind Kind, rows int) { batches = append(batches, rows) })

			fresh := entries(n, "new")
			written, err := r.Replace(ctx, KindContent, fresh)
			require.NoError(t, err)
			assert.Equal(t, n, written)

			snap := s.Snapshot(KindContent)
			assert.Len(t, snap, n)
			for _, e := range snap {
				assert.True(t, strings.HasPrefix(e.Word, "new"))
			}
			for _, b := range batches {
				assert.LessOrEqual(t, b, 500)
			}
			assert.Equal(t, (n+499)/500, len(batches))
		})
	}
}

type lossyStore struct {
	*MemoryStore
}

func (l lossyStore) InsertBatch(ctx context.Context, kind Kind, entries []Entry) error {
	if len(entries) > 1 {
		entries = entries[1:]
	}
	return l.MemoryStore.InsertBatch(ctx, kind, entries)
}

func TestReplaceDetectsCountMismatch(t *testing.T) {
	r := NewReplacer(lossyStore{NewMemoryStore(false)}, 500)
	_, err := r.Replace(context.Background(), KindTitle, entries(10, "w"))
	assert.ErrorIs(t, err, ErrCountMismatch)
}

func TestReplaceHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReplacer(NewMemoryStore(false), 500).Replace(ctx, KindTitle, entries(3, "w"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeHandoff(t *testing.T) {
	doc := `{
	  "fire":   [{"book_id": 9, "frequency": 2}, {"book_id": 7, "frequency": 1}],
	  "dragon": [{"book_id": 7, "frequency": 3}, {"book_id": 7, "frequency": 4}],
	  "ash":    [{"book_id": 1, "frequency": 0}, {"frequency": 2}, {"book_id": "x", "frequency": 1}],
	  "":       [{"book_id": 2, "frequency": 1}]
	}`
	got, stats, err := DecodeHandoff(strings.NewReader(doc), nil)
	require.NoError(t, err)

	assert.Equal(t, []Entry{
		{Word: "dragon", BookID: 7, Frequency: 3},
		{Word: "fire", BookID: 7, Frequency: 1},
		{Word: "fire", BookID: 9, Frequency: 2},
	}, got)
	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, 5, stats.Skipped)
}

func TestDecodeHandoffInvalidDocument(t *testing.T) {
	_, _, err := DecodeHandoff(strings.NewReader(`[]`), nil)
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)

	_, _, err = ReadHandoff("/nonexistent/index_TableT.json", nil)
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
}

func TestLikePatternEscapes(t *testing.T) {
	assert.Equal(t, `%drag%`, likePattern("drag"))
	assert.Equal(t, `%50\%\_off\\%`, likePattern(`50%_off\`))
	assert.Contains(t, containsQuery(KindContent, true), "FROM book_index_content WHERE word ILIKE $1")
	assert.Contains(t, containsQuery(KindTitle, false), "FROM book_index WHERE word LIKE $1")
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("TC")
	require.NoError(t, err)
	assert.Equal(t, KindContent, k)
	k, err = ParseKind("title")
	require.NoError(t, err)
	assert.Equal(t, KindTitle, k)
	_, err = ParseKind("X")
	assert.Error(t, err)
}
