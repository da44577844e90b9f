package bookindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrCountMismatch means a rebuilt collection does not hold exactly the rows
// that were written. Re-running the rebuild is the recovery path.
var ErrCountMismatch = errors.New("index row count mismatch after rebuild")

// Replacer swaps the whole contents of an index collection.
type Replacer struct {
	store     Store
	batchSize int
	onBatch   func(kind Kind, rows int)
	logger    *slog.Logger
}

func NewReplacer(store Store, batchSize int) *Replacer {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Replacer{
		store:     store,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "index-replacer"),
	}
}

// OnBatch registers a callback invoked after each batch is written.
func (r *Replacer) OnBatch(fn func(kind Kind, rows int)) {
	r.onBatch = fn
}

// Replace deletes every row of kind, inserts entries in fixed-size batches,
// then checks the stored count equals len(entries). The sequence is not
// transactional: a failure part way leaves a partial collection.
func (r *Replacer) Replace(ctx context.Context, kind Kind, entries []Entry) (int, error) {
	if err := r.store.DeleteAll(ctx, kind); err != nil {
		return 0, err
	}

	written := 0
	batches := (len(entries) + r.batchSize - 1) / r.batchSize
	for start := 0; start < len(entries); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("replacing %s index interrupted after %d rows: %w", kind, written, err)
		}
		end := min(start+r.batchSize, len(entries))
		if err := r.store.InsertBatch(ctx, kind, entries[start:end]); err != nil {
			return written, err
		}
		written += end - start
		if r.onBatch != nil {
			r.onBatch(kind, end-start)
		}
		r.logger.Info("index batch persisted",
			"kind", kind.String(),
			"batch", start/r.batchSize+1,
			"batches", batches,
			"rows", written,
		)
	}

	stored, err := r.store.Count(ctx, kind)
	if err != nil {
		return written, err
	}
	if stored != int64(len(entries)) {
		return written, fmt.Errorf("%s index has %d rows, wrote %d: %w", kind, stored, len(entries), ErrCountMismatch)
	}
	return written, nil
}
