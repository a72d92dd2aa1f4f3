package extractor

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"eddytools/leadharvester/helpers"
	"eddytools/leadharvester/internal/listing"
	"eddytools/leadharvester/logger"
	apperrors "eddytools/leadharvester/pkg/errors"
	"eddytools/leadharvester/services/cache"
)

var (
	yearRe     = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	priceRe    = regexp.MustCompile(`£([\d,]+(?:\.\d{2})?)`)
	mileageRe  = regexp.MustCompile(`([\d,]+)\s*miles`)
	// The city class must stay on one line; \s here would let a match
	// swallow unrelated text back through preceding newlines
	locationRe = regexp.MustCompile(`([A-Za-z][A-Za-z \-']*?),\s*United Kingdom`)

	fuelTypes = []string{"petrol", "diesel", "electric", "hybrid"}
	gearboxes = []string{"manual", "automatic"}
)

// SiteExtractor implements Extractor for one configured source. Index and
// detail pages go through separate fetchers since detail pages are allowed
// more time.
type SiteExtractor struct {
	cfg           SourceConfig
	indexFetcher  *helpers.Fetcher
	detailFetcher *helpers.Fetcher
	cacheSvc      cache.CacheService
	blockWindow   time.Duration
	log           *logger.Logger
}

// NewSiteExtractor creates an extractor for one source
func NewSiteExtractor(cfg SourceConfig, indexFetcher, detailFetcher *helpers.Fetcher, cacheSvc cache.CacheService, blockWindow time.Duration) *SiteExtractor {
	return &SiteExtractor{
		cfg:           cfg,
		indexFetcher:  indexFetcher,
		detailFetcher: detailFetcher,
		cacheSvc:      cacheSvc,
		blockWindow:   blockWindow,
		log:           logger.ForSource(cfg.Source),
	}
}

// Source returns the source name
func (e *SiteExtractor) Source() string {
	return e.cfg.Source
}

// pageURL builds the index URL for a page number
func (e *SiteExtractor) pageURL(page int) string {
	parsed, err := url.Parse(e.cfg.SearchURL)
	if err != nil {
		return e.cfg.SearchURL
	}
	q := parsed.Query()
	q.Set(e.cfg.PageParam, strconv.Itoa(page))
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

// FetchIndex walks one search-result page and returns the detail URLs on it
func (e *SiteExtractor) FetchIndex(ctx context.Context, page int) ([]string, bool, error) {
	if cache.IsBlocked(e.cacheSvc, e.cfg.Source) {
		return nil, false, apperrors.NewRateLimit(e.cfg.Source, e.blockWindow)
	}

	body, err := e.indexFetcher.Fetch(ctx, e.pageURL(page))
	if err != nil {
		if helpers.IsRateLimited(err) {
			cache.Block(e.cacheSvc, e.cfg.Source, e.blockWindow)
			return nil, false, apperrors.NewRateLimit(e.cfg.Source, e.blockWindow)
		}
		return nil, false, apperrors.NewNetwork(e.cfg.Source, fmt.Sprintf("index page %d fetch failed", page), err)
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, false, apperrors.NewParsing(e.cfg.Source, fmt.Sprintf("index page %d parse failed", page), err)
	}

	urls := e.collectLinks(doc)
	return urls, len(urls) > 0, nil
}

// collectLinks finds detail links by href pattern, widened by the card
// selector when one is configured. URLs are canonicalized and deduplicated
// within the page, first occurrence wins.
func (e *SiteExtractor) collectLinks(doc *goquery.Document) []string {
	var urls []string
	seen := make(map[string]struct{})

	add := func(href string) {
		if href == "" || href == "#" {
			return
		}
		full := helpers.AbsoluteURL(e.cfg.BaseURL, href)
		if !e.matchesPatterns(full) {
			return
		}
		clean := listing.CanonicalURL(full)
		if _, dup := seen[clean]; dup {
			return
		}
		seen[clean] = struct{}{}
		urls = append(urls, clean)
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(href)
	})

	if e.cfg.CardSelector != "" {
		doc.Find(e.cfg.CardSelector).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			add(href)
		})
	}

	return urls
}

func (e *SiteExtractor) matchesPatterns(fullURL string) bool {
	matched := false
	for _, pattern := range e.cfg.LinkPatterns {
		if strings.Contains(fullURL, pattern) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, excl := range e.cfg.LinkExcludes {
		if strings.Contains(fullURL, excl) {
			return false
		}
	}
	return true
}

// ExtractDetail fetches one detail page and parses it into a record.
// Unreachable or unusable pages are a normal miss, not an error.
func (e *SiteExtractor) ExtractDetail(ctx context.Context, listingURL string) (*listing.Record, error) {
	if cache.IsBlocked(e.cacheSvc, e.cfg.Source) {
		return nil, apperrors.NewRateLimit(e.cfg.Source, e.blockWindow)
	}

	body, err := e.detailFetcher.Fetch(ctx, listingURL)
	if err != nil {
		if helpers.IsRateLimited(err) {
			cache.Block(e.cacheSvc, e.cfg.Source, e.blockWindow)
			return nil, apperrors.NewRateLimit(e.cfg.Source, e.blockWindow)
		}
		// A dead detail page is a miss, not a fault
		e.log.Debug().Str("url", listingURL).Err(err).Msg("Detail page unreachable")
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, apperrors.NewParsing(e.cfg.Source, "detail page parse failed", err)
	}

	rec := e.parseDetail(doc, listingURL)
	if rec == nil {
		e.log.Debug().Str("url", listingURL).Msg("No usable vehicle attributes")
	}
	return rec, nil
}

// parseDetail applies the best-effort attribute heuristics. A record with
// only a title is still usable; a record with no vehicle attributes at all
// is a miss.
func (e *SiteExtractor) parseDetail(doc *goquery.Document, listingURL string) *listing.Record {
	rec := listing.NewRecord(e.cfg.Source, listingURL)

	titleSel := e.cfg.TitleSelector
	if titleSel == "" {
		titleSel = "h1"
	}
	title := strings.TrimSpace(doc.Find(titleSel).First().Text())
	if title != "" {
		rec.SetVehicle("title", title)

		if year := yearRe.FindString(title); year != "" {
			rec.SetVehicle("year", year)
		}

		make_, model := splitMakeModel(title)
		rec.SetVehicle("make", make_)
		rec.SetVehicle("model", model)
	}

	pageText := doc.Text()

	if m := priceRe.FindStringSubmatch(pageText); m != nil {
		rec.SetVehicle("price", "£"+m[1])
	}

	doc.Find("li").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(s.Text()))

		if _, ok := rec.Vehicle["mileage"]; !ok {
			if m := mileageRe.FindStringSubmatch(text); m != nil {
				rec.SetVehicle("mileage", m[1])
			}
		}
		if _, ok := rec.Vehicle["fuel_type"]; !ok {
			for _, fuel := range fuelTypes {
				if strings.Contains(text, fuel) {
					rec.SetVehicle("fuel_type", capitalize(fuel))
					break
				}
			}
		}
		if _, ok := rec.Vehicle["gearbox"]; !ok {
			for _, gearbox := range gearboxes {
				if strings.Contains(text, gearbox) {
					rec.SetVehicle("gearbox", capitalize(gearbox))
					break
				}
			}
		}

		_, hasMileage := rec.Vehicle["mileage"]
		_, hasFuel := rec.Vehicle["fuel_type"]
		_, hasGearbox := rec.Vehicle["gearbox"]
		return !(hasMileage && hasFuel && hasGearbox)
	})

	e.parseDealer(doc, pageText, rec)

	if len(rec.Vehicle) == 0 {
		return nil
	}
	rec.ScrapedAt = time.Now().UTC()
	return rec
}

func (e *SiteExtractor) parseDealer(doc *goquery.Document, pageText string, rec *listing.Record) {
	dealerSel := e.cfg.DealerSelector
	if dealerSel == "" {
		dealerSel = "h3"
	}
	doc.Find(dealerSel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name := strings.TrimSpace(s.Text())
		if name != "" && !strings.HasPrefix(name, "About") {
			rec.SetDealer("name", name)
			return false
		}
		return true
	})

	if tel, ok := doc.Find(`a[href^="tel:"]`).First().Attr("href"); ok {
		rec.SetDealer("phone", strings.TrimPrefix(tel, "tel:"))
	}

	if mail, ok := doc.Find(`a[href^="mailto:"]`).First().Attr("href"); ok {
		rec.SetDealer("email", strings.TrimPrefix(mail, "mailto:"))
	}

	if m := locationRe.FindStringSubmatch(pageText); m != nil {
		location := strings.TrimSpace(m[0])
		rec.SetDealer("location", location)
		rec.SetDealer("city", strings.TrimSpace(m[1]))
	}
}

// splitMakeModel guesses make and model from the leading title words,
// skipping a digit-led first word (usually the year or plate)
func splitMakeModel(title string) (string, string) {
	words := strings.Fields(title)
	if len(words) < 2 {
		return "", ""
	}
	if isDigits(words[0]) {
		if len(words) < 3 {
			return words[1], ""
		}
		return words[1], words[2]
	}
	return words[0], words[1]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
