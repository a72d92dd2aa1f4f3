package extractor

import (
	"context"

	"eddytools/leadharvester/internal/listing"
)

// Extractor is the per-source scraping capability the pipeline consumes:
// a paginated index walk plus best-effort detail extraction.
type Extractor interface {
	// Source returns the source name ("pistonheads", "aa", ...)
	Source() string

	// FetchIndex retrieves the candidate detail URLs on one search-result
	// page and whether the walk may continue past it
	FetchIndex(ctx context.Context, page int) (urls []string, hasMore bool, err error)

	// ExtractDetail retrieves one detail page and parses it into a record.
	// A nil record with a nil error is a normal miss (unreachable page,
	// error page, or no usable vehicle attributes).
	ExtractDetail(ctx context.Context, url string) (*listing.Record, error)
}

// SourceConfig describes how one classified-ad site is walked and parsed.
// The extraction heuristics are deliberately loose; sites change their
// markup often and partial records are acceptable.
type SourceConfig struct {
	Source  string
	BaseURL string

	// SearchURL is the index URL without a page parameter; PageParam is
	// appended/replaced per page
	SearchURL string
	PageParam string

	// LinkPatterns select detail links on the index page, LinkExcludes
	// drop false positives (thumbnails, tracking links)
	LinkPatterns []string
	LinkExcludes []string

	// CardSelector optionally widens link discovery to listing cards
	CardSelector string

	// Detail page selectors; empty values fall back to the shared defaults
	TitleSelector  string
	DealerSelector string
}
