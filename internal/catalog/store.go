package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/postgres"
	"github.com/lib/pq"
)

// Schema creates the books table.
const Schema = `CREATE TABLE IF NOT EXISTS books (
    id         BIGINT PRIMARY KEY,
    title      VARCHAR(500) NOT NULL,
    author     VARCHAR(200),
    file_path  TEXT NOT NULL,
    source_url TEXT,
    img_url    TEXT
)`

const bookColumns = `id, title, author, file_path, source_url, img_url`

// Store is the durable book map the loader and search pipeline depend on.
type Store interface {
	Count(ctx context.Context) (int64, error)
	FindByIDs(ctx context.Context, ids []int64) ([]Book, error)
	FindAll(ctx context.Context) ([]Book, error)
	SaveAll(ctx context.Context, books []Book) error
}

// PostgresStore persists books in the books table.
type PostgresStore struct {
	db        *postgres.Client
	batchSize int
	logger    *slog.Logger
}

// NewPostgresStore creates a store writing at most batchSize rows per INSERT.
func NewPostgresStore(db *postgres.Client, batchSize int) *PostgresStore {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &PostgresStore{
		db:        db,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "catalog-store"),
	}
}

// EnsureSchema creates the books table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return s.db.Exec(ctx, Schema)
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting books: %w", err)
	}
	return n, nil
}

// FindByIDs fetches all requested books in one round trip. Unknown ids are
// absent from the result; order is unspecified.
func (s *PostgresStore) FindByIDs(ctx context.Context, ids []int64) ([]Book, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("finding books by id: %w", err)
	}
	return scanBooks(rows)
}

func (s *PostgresStore) FindAll(ctx context.Context) ([]Book, error) {
	rows, err := s.db.DB.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	return scanBooks(rows)
}

// SaveAll upserts books in batches, each batch in its own transaction.
func (s *PostgresStore) SaveAll(ctx context.Context, books []Book) error {
	for start := 0; start < len(books); start += s.batchSize {
		end := min(start+s.batchSize, len(books))
		batch := books[start:end]
		query, args := upsertBooks(batch)
		err := s.db.InTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, query, args...)
			return err
		})
		if err != nil {
			return fmt.Errorf("saving books %d-%d: %w", start, end, err)
		}
		s.logger.Info("saved book batch", "from", start, "to", end, "total", len(books))
	}
	return nil
}

func upsertBooks(batch []Book) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO books (` + bookColumns + `) VALUES `)
	args := make([]any, 0, len(batch)*6)
	for i, book := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 6
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, book.ID, book.Title, nullable(book.Author), book.FilePath,
			nullable(book.SourceURL), nullable(book.ImageURL))
	}
	b.WriteString(` ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title, author = EXCLUDED.author, file_path = EXCLUDED.file_path,
		source_url = EXCLUDED.source_url, img_url = EXCLUDED.img_url`)
	return b.String(), args
}

func scanBooks(rows *sql.Rows) ([]Book, error) {
	defer rows.Close()
	var books []Book
	for rows.Next() {
		var (
			b                         Book
			author, source, imagePath sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.Title, &author, &b.FilePath, &source, &imagePath); err != nil {
			return nil, fmt.Errorf("scanning book row: %w", err)
		}
		b.Author = author.String
		b.SourceURL = source.String
		b.ImageURL = imagePath.String
		books = append(books, b)
	}
	return books, rows.Err()
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
