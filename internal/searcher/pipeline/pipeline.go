// Package pipeline turns a query into an ordered list of books: title
// lookup, generated-word content lookup, rank-ordered class search, and
// similarity suggestions. It holds no per-caller state; the ids that feed a
// later suggestion are returned with each result.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/bookindex"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/remote"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/tracing"
	"golang.org/x/sync/errgroup"
)

// Kind names a search operation.
type Kind string

const (
	KindTitle      Kind = "title"
	KindContent    Kind = "content"
	KindClass      Kind = "class"
	KindSuggestion Kind = "suggestion"
)

// BookFinder fetches books in one round trip.
type BookFinder interface {
	FindByIDs(ctx context.Context, ids []int64) ([]catalog.Book, error)
}

// IndexLookup finds index entries whose word contains a fragment.
type IndexLookup interface {
	Contains(ctx context.Context, kind bookindex.Kind, fragment string) ([]bookindex.Entry, error)
}

// WordGenerator expands a pattern into candidate words.
type WordGenerator interface {
	GenerateWords(ctx context.Context, pattern string, maxWords, maxLength int) ([]string, error)
}

// RankService serves rank scores and similarity neighbors.
type RankService interface {
	RankScores(ctx context.Context, ids []int64) (map[int64]float64, error)
	Similar(ctx context.Context, bookID int64, topN int) ([]remote.Neighbor, error)
}

// Options configures a Pipeline.
type Options struct {
	// SuggestionLimit bounds the ids recorded as last results.
	SuggestionLimit int
	// ExcludeSeeds drops the seed books themselves from suggestions.
	ExcludeSeeds bool
	// Concurrency bounds parallel word lookups and similarity calls.
	Concurrency int
	// RankAvailable reports whether rank scores exist. When it returns
	// false class search keeps arrival order without calling the service.
	RankAvailable func() bool
}

// Result is a search answer.
type Result struct {
	Books []catalog.Summary `json:"books"`
	// LastResults are the ids a following suggestion request should use.
	// Nil for suggestion searches, which do not replace them.
	LastResults []int64  `json:"last_results,omitempty"`
	Words       []string `json:"words,omitempty"`
	Candidates  int      `json:"candidates"`
}

// Pipeline runs searches.
type Pipeline struct {
	books   BookFinder
	indexes IndexLookup
	words   WordGenerator
	rank    RankService
	opts    Options
	logger  *slog.Logger
}

func New(books BookFinder, indexes IndexLookup, words WordGenerator, rank RankService, opts Options) *Pipeline {
	if opts.SuggestionLimit <= 0 {
		opts.SuggestionLimit = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.RankAvailable == nil {
		opts.RankAvailable = func() bool { return true }
	}
	return &Pipeline{
		books:   books,
		indexes: indexes,
		words:   words,
		rank:    rank,
		opts:    opts,
		logger:  slog.Default().With("component", "search-pipeline"),
	}
}

// Title returns books whose title index has a word containing pattern, in
// index lookup order.
func (p *Pipeline) Title(ctx context.Context, pattern string) (Result, error) {
	ctx, span := tracing.StartChildSpan(ctx, "search.title")
	defer span.End()

	entries, err := p.indexes.Contains(ctx, bookindex.KindTitle, pattern)
	if err != nil {
		return Result{}, fmt.Errorf("title lookup: %w", err)
	}
	// at most one row per (word, book) so no entry dedup is needed
	ids := distinctBookIDs(entries)
	span.SetAttr("candidates", len(ids))
	return p.emit(ctx, ids, nil)
}

// Content expands pattern into generated words and returns every book whose
// title+content index matches any of them, in first-appearance order.
func (p *Pipeline) Content(ctx context.Context, pattern string, maxWords, maxLength int) (Result, error) {
	ctx, span := tracing.StartChildSpan(ctx, "search.content")
	defer span.End()

	words, ids, err := p.contentCandidates(ctx, pattern, maxWords, maxLength)
	if err != nil {
		return Result{}, err
	}
	span.SetAttr("words", len(words))
	span.SetAttr("candidates", len(ids))
	return p.emit(ctx, ids, words)
}

// Class is Content reordered by descending rank score.
func (p *Pipeline) Class(ctx context.Context, pattern string, maxWords, maxLength int) (Result, error) {
	ctx, span := tracing.StartChildSpan(ctx, "search.class")
	defer span.End()

	words, ids, err := p.contentCandidates(ctx, pattern, maxWords, maxLength)
	if err != nil {
		return Result{}, err
	}
	if len(ids) == 0 {
		return emptyResult(words), nil
	}

	sorted, err := p.rankOrder(ctx, ids)
	if err != nil {
		return Result{}, err
	}
	span.SetAttr("candidates", len(sorted))
	return p.emit(ctx, sorted, words)
}

// Suggest returns the topN books most similar to any seed, keeping each
// neighbor's highest similarity.
func (p *Pipeline) Suggest(ctx context.Context, seeds []int64, topN int) (Result, error) {
	ctx, span := tracing.StartChildSpan(ctx, "search.suggest")
	defer span.End()

	if len(seeds) == 0 || topN <= 0 {
		return Result{Books: []catalog.Summary{}}, nil
	}

	lists := make([][]ranker.ScoredBook, len(seeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, seed := range seeds {
		g.Go(func() error {
			neighbors, err := p.rank.Similar(gctx, seed, topN)
			if err != nil {
				if remote.IsNotReady(err) {
					logger.FromContext(ctx).Debug("no similarity data for seed", "book_id", seed)
					return nil
				}
				return fmt.Errorf("similarity for book %d: %w", seed, err)
			}
			list := make([]ranker.ScoredBook, len(neighbors))
			for j, n := range neighbors {
				list[j] = ranker.ScoredBook{BookID: n.BookID, Score: n.Similarity}
			}
			lists[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var exclude map[int64]struct{}
	if p.opts.ExcludeSeeds {
		exclude = make(map[int64]struct{}, len(seeds))
		for _, s := range seeds {
			exclude[s] = struct{}{}
		}
	}
	merged := merger.Merge(lists, topN, exclude)
	span.SetAttr("candidates", len(merged))

	res, err := p.emit(ctx, ranker.IDs(merged), nil)
	if err != nil {
		return Result{}, err
	}
	res.LastResults = nil
	return res, nil
}

func (p *Pipeline) contentCandidates(ctx context.Context, pattern string, maxWords, maxLength int) ([]string, []int64, error) {
	words, err := p.words.GenerateWords(ctx, pattern, maxWords, maxLength)
	if err != nil {
		return nil, nil, fmt.Errorf("generating words for %q: %w", pattern, err)
	}
	if len(words) == 0 {
		return words, nil, nil
	}

	perWord := make([][]bookindex.Entry, len(words))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, w := range words {
		g.Go(func() error {
			entries, err := p.indexes.Contains(gctx, bookindex.KindContent, w)
			if err != nil {
				return fmt.Errorf("content lookup for %q: %w", w, err)
			}
			perWord[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Dedup on the full entry: two words reaching the same (word, book) row
	// count once, while a book reached through different rows is projected
	// to one id below.
	seen := make(map[bookindex.Entry]struct{})
	var entries []bookindex.Entry
	for _, list := range perWord {
		for _, e := range list {
			key := bookindex.Entry{Word: e.Word, BookID: e.BookID}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			entries = append(entries, e)
		}
	}
	return words, distinctBookIDs(entries), nil
}

// rankOrder sorts ids by rank score, or keeps them as they are when rank
// data is unavailable.
func (p *Pipeline) rankOrder(ctx context.Context, ids []int64) ([]int64, error) {
	if !p.opts.RankAvailable() {
		return ids, nil
	}
	scores, err := p.rank.RankScores(ctx, ids)
	if err != nil {
		if remote.IsNotReady(err) {
			logger.FromContext(ctx).Warn("rank scores unavailable, keeping arrival order", "error", err)
			return ids, nil
		}
		return nil, fmt.Errorf("fetching rank scores: %w", err)
	}
	return ranker.ByScore(ids, scores), nil
}

// emit fetches books for ids in one call and returns them in ids order.
// Ids without a record are dropped.
func (p *Pipeline) emit(ctx context.Context, ids []int64, words []string) (Result, error) {
	if len(ids) == 0 {
		return emptyResult(words), nil
	}
	books, err := p.books.FindByIDs(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("fetching %d books: %w", len(ids), err)
	}
	byID := make(map[int64]catalog.Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}
	out := make([]catalog.Summary, 0, len(ids))
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			out = append(out, b.Summary())
		}
	}
	return Result{
		Books:       out,
		LastResults: head(ids, p.opts.SuggestionLimit),
		Words:       words,
		Candidates:  len(ids),
	}, nil
}

func emptyResult(words []string) Result {
	return Result{Books: []catalog.Summary{}, LastResults: []int64{}, Words: words}
}

func distinctBookIDs(entries []bookindex.Entry) []int64 {
	seen := make(map[int64]struct{}, len(entries))
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.BookID]; ok {
			continue
		}
		seen[e.BookID] = struct{}{}
		ids = append(ids, e.BookID)
	}
	return ids
}

func head(ids []int64, n int) []int64 {
	if len(ids) > n {
		ids = ids[:n]
	}
	return append([]int64{}, ids...)
}
