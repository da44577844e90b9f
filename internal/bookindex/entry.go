// Package bookindex stores the word → (book, frequency) indexes produced by
// the remote index service: one collection for titles, one for titles plus
// content.
package bookindex

import (
	"context"
	"fmt"
	"strings"
)

// Kind selects an index collection. The values are the remote service's
// index_type codes.
type Kind string

const (
	KindTitle   Kind = "T"
	KindContent Kind = "TC"
)

// Kinds lists every index kind in build order.
var Kinds = []Kind{KindTitle, KindContent}

func (k Kind) Valid() bool {
	return k == KindTitle || k == KindContent
}

func (k Kind) String() string {
	switch k {
	case KindTitle:
		return "title"
	case KindContent:
		return "content"
	default:
		return fmt.Sprintf("unknown(%s)", string(k))
	}
}

// Table is the Postgres table holding entries of this kind.
func (k Kind) Table() string {
	if k == KindContent {
		return "book_index_content"
	}
	return "book_index"
}

// ParseKind accepts the wire code or the readable name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "t", "title":
		return KindTitle, nil
	case "tc", "content":
		return KindContent, nil
	}
	return "", fmt.Errorf("unknown index kind %q", s)
}

// Entry asserts that Word occurs Frequency times in book BookID.
type Entry struct {
	Word      string `json:"word"`
	BookID    int64  `json:"book_id"`
	Frequency int    `json:"frequency"`
}

// Store is the durable index collection used by search and by rebuilds.
type Store interface {
	// Contains returns every entry whose word contains fragment, ordered by
	// word then book id.
	Contains(ctx context.Context, kind Kind, fragment string) ([]Entry, error)
	Count(ctx context.Context, kind Kind) (int64, error)
	DeleteAll(ctx context.Context, kind Kind) error
	InsertBatch(ctx context.Context, kind Kind, entries []Entry) error
}
