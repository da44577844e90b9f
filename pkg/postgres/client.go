package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/config"
	"github.com/lib/pq"
)

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db, cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// CopyRows streams rows into table inside a single transaction using the
// COPY protocol. Each row must have one value per column.
func (c *Client) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) error {
	return c.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
		if err != nil {
			return fmt.Errorf("preparing copy into %s: %w", table, err)
		}
		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				stmt.Close()
				return fmt.Errorf("copying row into %s: %w", table, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("flushing copy into %s: %w", table, err)
		}
		return stmt.Close()
	})
}

// Exec runs each statement in order; used for idempotent schema setup.
func (c *Client) Exec(ctx context.Context, statements ...string) error {
	for _, s := range statements {
		if _, err := c.DB.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}
