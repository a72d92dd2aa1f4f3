package sink

import (
	"context"
	"time"

	"eddytools/leadharvester/internal/listing"
)

// UpsertStats is the per-call result of a batch upsert. Ephemeral,
// surfaced in run summaries only.
type UpsertStats struct {
	Inserted    int
	Updated     int
	Errors      int
	SourceTotal int64
	GrandTotal  int64
}

// SourceStats aggregates stored listings for operator-visible summaries.
// All counts come from aggregation queries over the table, never from
// separately maintained counters.
type SourceStats struct {
	BySource   map[string]int64
	Last24h    map[string]int64
	GrandTotal int64
}

// RecentListing is a read-optimized row for sample queries
type RecentListing struct {
	ListingURL string    `db:"listing_url"`
	DealerName *string   `db:"dealer_name"`
	Make       *string   `db:"make"`
	Model      *string   `db:"model"`
	PricePence *int64    `db:"price_pence"`
	CreatedAt  time.Time `db:"created_at"`
}

// DisplayPrice renders the stored pence amount in listing form ("£1,234")
func (r RecentListing) DisplayPrice() string {
	if r.PricePence == nil {
		return ""
	}
	return listing.FormatPrice(*r.PricePence)
}

// Sink is the durable, idempotent storage boundary. Records are keyed by
// (source, listing_url); re-upserting the same key updates attributes
// without duplicating rows.
type Sink interface {
	// Upsert persists a batch of flattened records for one source.
	// Per-record failures are counted and skipped; only structural
	// storage failures return an error.
	Upsert(ctx context.Context, records []*listing.FlatRecord, source string) (UpsertStats, error)

	// Stats aggregates stored counts per source, in the trailing 24h
	// window, and overall
	Stats(ctx context.Context) (SourceStats, error)

	// RecentBySource returns the newest rows for one source
	RecentBySource(ctx context.Context, source string, limit int) ([]RecentListing, error)

	// Close releases the underlying connection pool
	Close() error
}
