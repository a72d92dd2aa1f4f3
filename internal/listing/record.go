package listing

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"eddytools/leadharvester/config"
	apperrors "eddytools/leadharvester/pkg/errors"
)

// Record is one scraped listing as the extractors produce it: the detail
// page URL plus loosely-populated vehicle and dealer attribute groups.
// Every attribute is optional; absent means the key is missing, never an
// empty placeholder.
type Record struct {
	ListingURL string            `json:"listing_url"`
	Source     string            `json:"source"`
	Vehicle    map[string]string `json:"vehicle"`
	Dealer     map[string]string `json:"dealer"`
	ScrapedAt  time.Time         `json:"scraped_at,omitempty"`
}

// NewRecord creates an empty record for a source and canonicalized URL
func NewRecord(source, listingURL string) *Record {
	return &Record{
		ListingURL: CanonicalURL(listingURL),
		Source:     source,
		Vehicle:    make(map[string]string),
		Dealer:     make(map[string]string),
	}
}

// SetVehicle stores a vehicle attribute, dropping empty values
func (r *Record) SetVehicle(key, value string) {
	value = strings.TrimSpace(value)
	if value != "" {
		r.Vehicle[key] = value
	}
}

// SetDealer stores a dealer attribute, dropping empty values
func (r *Record) SetDealer(key, value string) {
	value = strings.TrimSpace(value)
	if value != "" {
		r.Dealer[key] = value
	}
}

// Validate checks that the record can be persisted
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ListingURL) == "" {
		return apperrors.NewValidation(r.Source, "record has an empty listing_url")
	}
	if !config.IsKnownSource(r.Source) {
		return apperrors.NewValidation(r.Source, "record has an unknown source")
	}
	return nil
}

// CanonicalURL strips the query string and fragment from a listing URL.
// Identity comparisons and storage always use the canonical form.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		// Fall back to a plain text strip when the URL does not parse
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

// FlatRecord is the column-aligned shape the sink stores. Text attributes
// that were absent from the source record are empty strings here and are
// stored as NULL, so a later partial record never clobbers a known value.
type FlatRecord struct {
	ListingURL string `db:"listing_url"`
	Source     string `db:"source"`

	Title    string `db:"title"`
	Make     string `db:"make"`
	Model    string `db:"model"`
	Variant  string `db:"variant"`
	Year     string `db:"year"`
	FuelType string `db:"fuel_type"`
	BodyType string `db:"body_type"`
	Gearbox  string `db:"gearbox"`

	DealerName     string `db:"dealer_name"`
	DealerPhone    string `db:"dealer_phone"`
	DealerLocation string `db:"dealer_location"`
	DealerCity     string `db:"dealer_city"`
	DealerEmail    string `db:"dealer_email"`
	DealerWebsite  string `db:"dealer_website"`
	ContactFormURL string `db:"contact_form_url"`

	// Typed numeric fields parsed from the display strings
	PricePence *int64 `db:"price_pence"`
	Mileage    *int64 `db:"mileage"`

	// The complete untransformed record, retained for re-processing.
	// Kept as a string so the driver sends it as text, not bytea.
	RawJSON string `db:"raw_json"`
}

// Flatten collapses the nested vehicle/dealer groups into one flat,
// column-aligned record and canonicalizes the listing URL
func Flatten(r *Record) (*FlatRecord, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return nil, apperrors.NewValidation(r.Source, "record could not be serialized")
	}

	flat := &FlatRecord{
		ListingURL: CanonicalURL(r.ListingURL),
		Source:     r.Source,

		Title:    r.Vehicle["title"],
		Make:     r.Vehicle["make"],
		Model:    r.Vehicle["model"],
		Variant:  r.Vehicle["variant"],
		Year:     r.Vehicle["year"],
		FuelType: r.Vehicle["fuel_type"],
		BodyType: r.Vehicle["body_type"],
		Gearbox:  r.Vehicle["gearbox"],

		DealerName:     r.Dealer["name"],
		DealerPhone:    r.Dealer["phone"],
		DealerLocation: r.Dealer["location"],
		DealerCity:     r.Dealer["city"],
		DealerEmail:    r.Dealer["email"],
		DealerWebsite:  r.Dealer["website"],
		ContactFormURL: r.Dealer["contact_form_url"],

		RawJSON: string(raw),
	}

	if pence, ok := ParsePrice(r.Vehicle["price"]); ok {
		flat.PricePence = &pence
	}
	if miles, ok := ParseMileage(r.Vehicle["mileage"]); ok {
		flat.Mileage = &miles
	}

	return flat, nil
}
