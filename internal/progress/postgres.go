package progress

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "eddytools/leadharvester/pkg/errors"
)

const progressSchema = `
CREATE TABLE IF NOT EXISTS scrape_progress (
    source              TEXT PRIMARY KEY,
    last_page           INTEGER NOT NULL DEFAULT 0,
    total_pages_scraped INTEGER NOT NULL DEFAULT 0,
    total_listings      INTEGER NOT NULL DEFAULT 0,
    last_run            TIMESTAMPTZ
)`

// PostgresStore keeps checkpoints in the same database as the sink, for
// deployments where a shared progress file is not practical. Shares the
// sink's connection pool.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates the store and provisions its table
func NewPostgresStore(ctx context.Context, db *sqlx.DB) (*PostgresStore, error) {
	if _, err := db.ExecContext(ctx, progressSchema); err != nil {
		return nil, apperrors.NewProgress("", "cannot provision scrape_progress table", err)
	}
	return &PostgresStore{db: db}, nil
}

// Load returns the checkpoint for a source, zero-valued when absent
func (s *PostgresStore) Load(ctx context.Context, source string) (Checkpoint, error) {
	var cp Checkpoint
	err := s.db.GetContext(ctx, &cp,
		`SELECT last_page, total_pages_scraped, total_listings, last_run
		 FROM scrape_progress WHERE source = $1`, source)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Checkpoint{}, nil
		}
		return Checkpoint{}, apperrors.NewProgress(source, "cannot load checkpoint", err)
	}
	return cp, nil
}

// Save upserts the checkpoint for a source
func (s *PostgresStore) Save(ctx context.Context, source string, cp Checkpoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_progress (source, last_page, total_pages_scraped, total_listings, last_run)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (source) DO UPDATE SET
		     last_page = EXCLUDED.last_page,
		     total_pages_scraped = EXCLUDED.total_pages_scraped,
		     total_listings = EXCLUDED.total_listings,
		     last_run = EXCLUDED.last_run`,
		source, cp.LastPage, cp.TotalPagesScraped, cp.TotalListings, cp.LastRun)
	if err != nil {
		return apperrors.NewProgress(source, "cannot save checkpoint", err)
	}
	return nil
}

// All returns every stored checkpoint keyed by source
func (s *PostgresStore) All(ctx context.Context) (map[string]Checkpoint, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT source, last_page, total_pages_scraped, total_listings, last_run
		 FROM scrape_progress ORDER BY source`)
	if err != nil {
		return nil, apperrors.NewProgress("", "cannot list checkpoints", err)
	}
	defer rows.Close()

	all := make(map[string]Checkpoint)
	for rows.Next() {
		var source string
		var cp Checkpoint
		var lastRun *time.Time
		if err := rows.Scan(&source, &cp.LastPage, &cp.TotalPagesScraped, &cp.TotalListings, &lastRun); err != nil {
			return nil, apperrors.NewProgress("", "cannot scan checkpoint row", err)
		}
		cp.LastRun = lastRun
		all[source] = cp
	}
	return all, rows.Err()
}

// Reset zeroes all checkpoints
func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scrape_progress
		 SET last_page = 0, total_pages_scraped = 0, total_listings = 0, last_run = NULL`)
	if err != nil {
		return apperrors.NewProgress("", "cannot reset checkpoints", err)
	}
	return nil
}
