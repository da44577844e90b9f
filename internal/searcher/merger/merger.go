// Package merger combines per-seed similarity lists into one top-N list.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/searcher/ranker"
)

// Merge folds lists into one, keeping the maximum score for a book that
// appears in several lists, and returns the limit best ordered by
// descending score then ascending id. Books in exclude are dropped.
func Merge(lists [][]ranker.ScoredBook, limit int, exclude map[int64]struct{}) []ranker.ScoredBook {
	if limit <= 0 {
		return nil
	}
	best := make(map[int64]float64)
	for _, list := range lists {
		for _, b := range list {
			if _, skip := exclude[b.BookID]; skip {
				continue
			}
			if cur, ok := best[b.BookID]; !ok || b.Score > cur {
				best[b.BookID] = b.Score
			}
		}
	}

	h := &scoredHeap{}
	heap.Init(h)
	for id, score := range best {
		heap.Push(h, ranker.ScoredBook{BookID: id, Score: score})
		if h.Len() > limit {
			heap.Pop(h)
		}
	}
	result := make([]ranker.ScoredBook, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(ranker.ScoredBook)
	}
	return result
}

// scoredHeap is a min-heap: the root is the entry that ranks last.
type scoredHeap []ranker.ScoredBook

func (h scoredHeap) Len() int { return len(h) }

func (h scoredHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].BookID > h[j].BookID
}

func (h scoredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredHeap) Push(x any) {
	*h = append(*h, x.(ranker.ScoredBook))
}

func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
