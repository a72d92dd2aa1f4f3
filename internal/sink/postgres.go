package sink

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"eddytools/leadharvester/internal/listing"
	"eddytools/leadharvester/logger"
	apperrors "eddytools/leadharvester/pkg/errors"
)

const listingsSchema = `
CREATE TABLE IF NOT EXISTS listings (
    id               BIGSERIAL PRIMARY KEY,
    source           TEXT NOT NULL,
    listing_url      TEXT NOT NULL,
    title            TEXT,
    make             TEXT,
    model            TEXT,
    variant          TEXT,
    year             TEXT,
    price_pence      BIGINT,
    mileage          INTEGER,
    fuel_type        TEXT,
    body_type        TEXT,
    gearbox          TEXT,
    dealer_name      TEXT,
    dealer_phone     TEXT,
    dealer_location  TEXT,
    dealer_city      TEXT,
    dealer_email     TEXT,
    dealer_website   TEXT,
    contact_form_url TEXT,
    raw_json         JSONB,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (source, listing_url)
)`

// Columns added after the table first shipped. Provisioning is additive
// only: existing tables gain missing columns, nothing is dropped or
// retyped.
var additiveColumns = []struct {
	name string
	typ  string
}{
	{"variant", "TEXT"},
	{"body_type", "TEXT"},
	{"gearbox", "TEXT"},
	{"dealer_city", "TEXT"},
	{"dealer_email", "TEXT"},
	{"dealer_website", "TEXT"},
	{"contact_form_url", "TEXT"},
	{"raw_json", "JSONB"},
	{"updated_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
}

var listingsIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_listings_source ON listings (source)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_created_at ON listings (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_make_model ON listings (make, model)`,
}

// upsertQuery inserts a record or, when (source, listing_url) already
// exists, folds the new attributes into the stored row. Empty strings are
// normalized to NULL on the way in, and each attribute only replaces the
// stored value when the incoming one is present, so a sparse re-scrape
// never blanks data a richer earlier scrape captured. RETURNING xmax = 0
// distinguishes a fresh insert from an update of an existing row.
const upsertQuery = `
INSERT INTO listings (
    source, listing_url, title, make, model, variant, year,
    price_pence, mileage, fuel_type, body_type, gearbox,
    dealer_name, dealer_phone, dealer_location, dealer_city,
    dealer_email, dealer_website, contact_form_url, raw_json
) VALUES (
    :source, :listing_url, NULLIF(:title, ''), NULLIF(:make, ''),
    NULLIF(:model, ''), NULLIF(:variant, ''), NULLIF(:year, ''),
    :price_pence, :mileage, NULLIF(:fuel_type, ''), NULLIF(:body_type, ''),
    NULLIF(:gearbox, ''), NULLIF(:dealer_name, ''), NULLIF(:dealer_phone, ''),
    NULLIF(:dealer_location, ''), NULLIF(:dealer_city, ''),
    NULLIF(:dealer_email, ''), NULLIF(:dealer_website, ''),
    NULLIF(:contact_form_url, ''), CAST(NULLIF(:raw_json, '') AS JSONB)
)
ON CONFLICT (source, listing_url) DO UPDATE SET
    title            = COALESCE(EXCLUDED.title, listings.title),
    make             = COALESCE(EXCLUDED.make, listings.make),
    model            = COALESCE(EXCLUDED.model, listings.model),
    variant          = COALESCE(EXCLUDED.variant, listings.variant),
    year             = COALESCE(EXCLUDED.year, listings.year),
    price_pence      = COALESCE(EXCLUDED.price_pence, listings.price_pence),
    mileage          = COALESCE(EXCLUDED.mileage, listings.mileage),
    fuel_type        = COALESCE(EXCLUDED.fuel_type, listings.fuel_type),
    body_type        = COALESCE(EXCLUDED.body_type, listings.body_type),
    gearbox          = COALESCE(EXCLUDED.gearbox, listings.gearbox),
    dealer_name      = COALESCE(EXCLUDED.dealer_name, listings.dealer_name),
    dealer_phone     = COALESCE(EXCLUDED.dealer_phone, listings.dealer_phone),
    dealer_location  = COALESCE(EXCLUDED.dealer_location, listings.dealer_location),
    dealer_city      = COALESCE(EXCLUDED.dealer_city, listings.dealer_city),
    dealer_email     = COALESCE(EXCLUDED.dealer_email, listings.dealer_email),
    dealer_website   = COALESCE(EXCLUDED.dealer_website, listings.dealer_website),
    contact_form_url = COALESCE(EXCLUDED.contact_form_url, listings.contact_form_url),
    raw_json         = COALESCE(EXCLUDED.raw_json, listings.raw_json),
    updated_at       = NOW()
RETURNING (xmax = 0) AS inserted`

// PostgresSink stores listings in Postgres behind a sqlx pool
type PostgresSink struct {
	db          *sqlx.DB
	commitEvery int
	log         *logger.Logger
}

// NewPostgresSink opens the pool, verifies connectivity and provisions
// the schema
func NewPostgresSink(ctx context.Context, databaseURL string, maxOpen, maxIdle int, connLifetime time.Duration, commitEvery int) (*PostgresSink, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, apperrors.NewStorage("", "cannot open database", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewStorage("", "cannot reach database", err)
	}

	s := &PostgresSink{
		db:          db,
		commitEvery: commitEvery,
		log:         logger.ForSink(),
	}
	if err := s.provision(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresSinkFromDB wraps an existing pool, used by tests and by the
// progress store when it shares the sink's connection
func NewPostgresSinkFromDB(ctx context.Context, db *sqlx.DB, commitEvery int) (*PostgresSink, error) {
	s := &PostgresSink{db: db, commitEvery: commitEvery, log: logger.ForSink()}
	if err := s.provision(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the pool so the Postgres progress store can share it
func (s *PostgresSink) DB() *sqlx.DB {
	return s.db
}

func (s *PostgresSink) provision(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, listingsSchema); err != nil {
		return apperrors.NewStorage("", "cannot provision listings table", err)
	}
	for _, col := range additiveColumns {
		stmt := `ALTER TABLE listings ADD COLUMN IF NOT EXISTS ` + col.name + ` ` + col.typ
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.NewStorage("", "cannot add column "+col.name, err)
		}
	}
	for _, idx := range listingsIndexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return apperrors.NewStorage("", "cannot create index", err)
		}
	}
	return nil
}

// Upsert persists a batch of records inside chunked transactions,
// committing every commitEvery rows so a crash loses at most one chunk.
// Individual record failures roll back to a savepoint and the batch
// continues; only transaction-level failures abort the call.
func (s *PostgresSink) Upsert(ctx context.Context, records []*listing.FlatRecord, source string) (UpsertStats, error) {
	var stats UpsertStats

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return stats, apperrors.NewStorage(source, "cannot begin transaction", err)
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	pending := 0
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if rec.ListingURL == "" || rec.Source == "" {
			stats.Errors++
			continue
		}

		if _, err := tx.ExecContext(ctx, "SAVEPOINT rec"); err != nil {
			return stats, apperrors.NewStorage(source, "cannot set savepoint", err)
		}

		inserted, err := s.upsertOne(ctx, tx, rec)
		if err != nil {
			stats.Errors++
			s.log.WithError(err).WithField("url", rec.ListingURL).Warn().Msg("Skipping record")
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT rec"); rbErr != nil {
				return stats, apperrors.NewStorage(source, "cannot recover from record failure", rbErr)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT rec"); err != nil {
			return stats, apperrors.NewStorage(source, "cannot release savepoint", err)
		}

		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}

		pending++
		if pending >= s.commitEvery {
			if err := tx.Commit(); err != nil {
				tx = nil
				return stats, apperrors.NewStorage(source, "cannot commit batch", err)
			}
			s.log.WithFields(logger.Fields{
				"source":    source,
				"committed": stats.Inserted + stats.Updated,
			}).Debug().Msg("Committed batch")

			tx, err = s.db.BeginTxx(ctx, nil)
			if err != nil {
				return stats, apperrors.NewStorage(source, "cannot begin transaction", err)
			}
			pending = 0
		}
	}

	if err := tx.Commit(); err != nil {
		tx = nil
		return stats, apperrors.NewStorage(source, "cannot commit final batch", err)
	}
	tx = nil

	if err := s.db.GetContext(ctx, &stats.SourceTotal,
		`SELECT COUNT(*) FROM listings WHERE source = $1`, source); err != nil {
		return stats, apperrors.NewStorage(source, "cannot count source rows", err)
	}
	if err := s.db.GetContext(ctx, &stats.GrandTotal,
		`SELECT COUNT(*) FROM listings`); err != nil {
		return stats, apperrors.NewStorage(source, "cannot count rows", err)
	}
	return stats, nil
}

func (s *PostgresSink) upsertOne(ctx context.Context, tx *sqlx.Tx, rec *listing.FlatRecord) (bool, error) {
	rows, err := sqlx.NamedQueryContext(ctx, tx, upsertQuery, rec)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	var inserted bool
	if rows.Next() {
		if err := rows.Scan(&inserted); err != nil {
			return false, err
		}
	}
	return inserted, rows.Err()
}

// Stats aggregates stored counts. Everything is computed from the table
// on read; there are no counters to drift out of sync.
func (s *PostgresSink) Stats(ctx context.Context) (SourceStats, error) {
	stats := SourceStats{
		BySource: make(map[string]int64),
		Last24h:  make(map[string]int64),
	}

	type countRow struct {
		Source string `db:"source"`
		N      int64  `db:"n"`
	}

	var total []countRow
	if err := s.db.SelectContext(ctx, &total,
		`SELECT source, COUNT(*) AS n FROM listings GROUP BY source`); err != nil {
		return stats, apperrors.NewStorage("", "cannot aggregate by source", err)
	}
	for _, row := range total {
		stats.BySource[row.Source] = row.N
		stats.GrandTotal += row.N
	}

	var recent []countRow
	if err := s.db.SelectContext(ctx, &recent,
		`SELECT source, COUNT(*) AS n FROM listings
		 WHERE created_at >= NOW() - INTERVAL '24 hours'
		 GROUP BY source`); err != nil {
		return stats, apperrors.NewStorage("", "cannot aggregate recent rows", err)
	}
	for _, row := range recent {
		stats.Last24h[row.Source] = row.N
	}
	return stats, nil
}

// RecentBySource returns the newest rows for one source
func (s *PostgresSink) RecentBySource(ctx context.Context, source string, limit int) ([]RecentListing, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows []RecentListing
	err := s.db.SelectContext(ctx, &rows,
		`SELECT listing_url, dealer_name, make, model, price_pence, created_at
		 FROM listings WHERE source = $1
		 ORDER BY created_at DESC LIMIT $2`, source, limit)
	if err != nil {
		return nil, apperrors.NewStorage(source, "cannot load recent listings", err)
	}
	return rows, nil
}

// Close releases the pool
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
