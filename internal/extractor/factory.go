package extractor

import (
	"eddytools/leadharvester/config"
	"eddytools/leadharvester/helpers"
	"eddytools/leadharvester/services/cache"
)

// CreateExtractors builds the extractors for every enabled source
func CreateExtractors(cfg *config.Config, cacheSvc cache.CacheService) ([]Extractor, error) {
	indexFetcher, err := helpers.NewFetcher(cfg.IndexTimeout, cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	detailFetcher, err := helpers.NewFetcher(cfg.DetailTimeout, cfg.ProxyURL)
	if err != nil {
		return nil, err
	}

	configurations := map[string]SourceConfig{
		"pistonheads": {
			Source:       "pistonheads",
			BaseURL:      "https://www.pistonheads.com",
			SearchURL:    cfg.PistonheadsURL,
			PageParam:    "page",
			LinkPatterns: []string{"/buy/listing/"},
			LinkExcludes: []string{"thumb"},
		},
		"aa": {
			Source:       "aa",
			BaseURL:      "https://www.theaa.com",
			SearchURL:    cfg.AAURL,
			PageParam:    "page",
			LinkPatterns: []string{"/cardetails/", "/used-cars/cardetails/", "/car-details/"},
			CardSelector: `div[class*="vehicle-card"] a, div[class*="car-card"] a, article[class*="listing"] a, div[class*="search-result"] a`,
		},
		"cazoo": {
			Source:       "cazoo",
			BaseURL:      "https://www.cazoo.co.uk",
			SearchURL:    cfg.CazooURL,
			PageParam:    "page",
			LinkPatterns: []string{"/cars/details/", "/car-details/"},
			CardSelector: `a[data-test-id*="vehicle-card"], div[class*="vehicle-card"] a`,
		},
		"gumtree": {
			Source:        "gumtree",
			BaseURL:       "https://www.gumtree.com",
			SearchURL:     cfg.GumtreeURL,
			PageParam:     "page",
			LinkPatterns:  []string{"/p/cars/", "/p/car/"},
			LinkExcludes:  []string{"featured"},
			TitleSelector: "h1",
		},
	}

	var extractors []Extractor
	for _, source := range cfg.EnabledSources {
		sourceCfg, ok := configurations[source]
		if !ok {
			continue
		}
		extractors = append(extractors, NewSiteExtractor(sourceCfg, indexFetcher, detailFetcher, cacheSvc, cfg.RateLimitBlock))
	}

	return extractors, nil
}
