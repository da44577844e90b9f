// Package ranker orders candidate books by a global importance score.
package ranker

import "sort"

// ScoredBook pairs a book id with a score: an importance score for class
// search, a similarity for suggestions.
type ScoredBook struct {
	BookID int64   `json:"book_id"`
	Score  float64 `json:"score"`
}

// ByScore returns ids ordered by descending score. Ids absent from scores
// follow every scored id, even one scored 0 or below, in ascending id order.
// Equal scores are ordered by ascending id so repeated calls with the same
// input agree.
func ByScore(ids []int64, scores map[int64]float64) []int64 {
	ranked := make([]ScoredBook, 0, len(ids))
	var unscored []int64
	for _, id := range ids {
		if score, ok := scores[id]; ok {
			ranked = append(ranked, ScoredBook{BookID: id, Score: score})
		} else {
			unscored = append(unscored, id)
		}
	}
	Sort(ranked)
	sort.Slice(unscored, func(i, j int) bool { return unscored[i] < unscored[j] })
	return append(IDs(ranked), unscored...)
}

// Sort orders books by descending score, then ascending id.
func Sort(books []ScoredBook) {
	sort.SliceStable(books, func(i, j int) bool {
		return before(books[i], books[j])
	})
}

// IDs projects books to their ids.
func IDs(books []ScoredBook) []int64 {
	out := make([]int64, len(books))
	for i, b := range books {
		out[i] = b.BookID
	}
	return out
}

func before(a, b ScoredBook) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.BookID < b.BookID
}
