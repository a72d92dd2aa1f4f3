package progress

import (
	"context"
	"time"
)

// Checkpoint is the durable record of how far ingestion has progressed
// for one source
type Checkpoint struct {
	LastPage          int        `json:"last_page" db:"last_page"`
	TotalPagesScraped int        `json:"total_pages_scraped" db:"total_pages_scraped"`
	TotalListings     int        `json:"total_listings" db:"total_listings"`
	LastRun           *time.Time `json:"last_run" db:"last_run"`
}

// NextPage returns the page the next run should start from
func (c Checkpoint) NextPage() int {
	return c.LastPage + 1
}

// Store persists per-source pagination checkpoints across runs
type Store interface {
	// Load returns the checkpoint for a source, or a zero checkpoint when
	// the source has never run
	Load(ctx context.Context, source string) (Checkpoint, error)

	// Save durably records the checkpoint for a source
	Save(ctx context.Context, source string, cp Checkpoint) error

	// All returns every stored checkpoint keyed by source
	All(ctx context.Context) (map[string]Checkpoint, error)

	// Reset zeroes all checkpoints
	Reset(ctx context.Context) error
}
