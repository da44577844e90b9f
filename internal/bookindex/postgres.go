package bookindex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS book_index (
		word      VARCHAR(255) NOT NULL,
		book_id   BIGINT NOT NULL,
		frequency INTEGER NOT NULL CHECK (frequency > 0),
		PRIMARY KEY (word, book_id)
	)`,
	`CREATE TABLE IF NOT EXISTS book_index_content (
		word      VARCHAR(255) NOT NULL,
		book_id   BIGINT NOT NULL,
		frequency INTEGER NOT NULL CHECK (frequency > 0),
		PRIMARY KEY (word, book_id)
	)`,
}

var entryColumns = []string{"word", "book_id", "frequency"}

// PostgresStore keeps each kind in its own table.
type PostgresStore struct {
	db              *postgres.Client
	caseInsensitive bool
	logger          *slog.Logger
}

func NewPostgresStore(db *postgres.Client, caseInsensitive bool) *PostgresStore {
	return &PostgresStore{
		db:              db,
		caseInsensitive: caseInsensitive,
		logger:          slog.Default().With("component", "index-store"),
	}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return s.db.Exec(ctx, schema...)
}

func (s *PostgresStore) Contains(ctx context.Context, kind Kind, fragment string) ([]Entry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("contains lookup: unknown kind %q", string(kind))
	}
	rows, err := s.db.DB.QueryContext(ctx, containsQuery(kind, s.caseInsensitive), likePattern(fragment))
	if err != nil {
		return nil, fmt.Errorf("looking up %s index for %q: %w", kind, fragment, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Word, &e.BookID, &e.Frequency); err != nil {
			return nil, fmt.Errorf("scanning %s index row: %w", kind, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, kind Kind) (int64, error) {
	var n int64
	err := s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+kind.Table()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s index: %w", kind, err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context, kind Kind) error {
	if _, err := s.db.DB.ExecContext(ctx, `DELETE FROM `+kind.Table()); err != nil {
		return fmt.Errorf("clearing %s index: %w", kind, err)
	}
	return nil
}

// InsertBatch writes entries with COPY in a single transaction.
func (s *PostgresStore) InsertBatch(ctx context.Context, kind Kind, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.Word, e.BookID, e.Frequency}
	}
	if err := s.db.CopyRows(ctx, kind.Table(), entryColumns, rows); err != nil {
		return fmt.Errorf("inserting %d %s index rows: %w", len(entries), kind, err)
	}
	return nil
}

func containsQuery(kind Kind, caseInsensitive bool) string {
	op := "LIKE"
	if caseInsensitive {
		op = "ILIKE"
	}
	return `SELECT word, book_id, frequency FROM ` + kind.Table() +
		` WHERE word ` + op + ` $1 ESCAPE '\' ORDER BY word, book_id`
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern turns fragment into a literal substring match.
func likePattern(fragment string) string {
	return "%" + likeEscaper.Replace(fragment) + "%"
}
