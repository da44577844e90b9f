// Package snapshot persists aggregated search analytics to PostgreSQL on a
// fixed interval so the analytics service can resume after a restart.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/postgres"
)

const Schema = `CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Store persists analytics snapshots in the analytics_snapshots table.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "analytics-snapshots"),
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.db.Exec(ctx, Schema)
}

func (s *Store) Save(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
		data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Info("analytics snapshot saved",
		"total_searches", stats.TotalSearches,
		"zero_results", stats.ZeroResultCount,
	)
	return nil
}

// Latest returns the most recent snapshot, or nil when none exists.
func (s *Store) Latest(ctx context.Context) (*analytics.AggregatedStats, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM analytics_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}
	var stats analytics.AggregatedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &stats, nil
}

// List returns up to limit snapshots, newest first. Corrupt rows are skipped.
func (s *Store) List(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT data FROM analytics_snapshots ORDER BY captured_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []analytics.AggregatedStats
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		var stats analytics.AggregatedStats
		if err := json.Unmarshal(data, &stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		snapshots = append(snapshots, stats)
	}
	return snapshots, rows.Err()
}

// StartPeriodicSave snapshots agg every interval and once more on shutdown.
func (s *Store) StartPeriodicSave(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Save(ctx, agg.Stats()); err != nil {
					s.logger.Error("periodic snapshot failed", "error", err)
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.Save(shutdownCtx, agg.Stats()); err != nil {
					s.logger.Error("final snapshot failed", "error", err)
				}
				cancel()
				return
			}
		}
	}()
	s.logger.Info("periodic snapshot started", "interval", interval)
}
