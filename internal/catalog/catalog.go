package catalog

import (
	"sort"

	"gitlab.com/inkstory/api/credit-webhook-processor/internal/config"
)

// Catalog resolves a payment-provider price ID to the number of credits it
// grants. Lookups for unknown price IDs return ok=false; callers decide
// whether that means skip or fail.
type Catalog interface {
	Credits(priceID string) (int, bool)
}

// StaticCatalog is a config-backed Catalog. The price map is read once at
// startup and never mutated, so lookups need no locking.
type StaticCatalog struct {
	prices map[string]int
}

// NewStaticCatalog builds a catalog from the configured price map. Prices
// with non-positive credit grants are dropped; granting zero or negative
// credits for a purchase is always a configuration mistake.
func NewStaticCatalog(cfg config.CatalogConfig) *StaticCatalog {
	prices := make(map[string]int, len(cfg.Prices))
	for priceID, credits := range cfg.Prices {
		if priceID == "" || credits <= 0 {
			continue
		}
		prices[priceID] = credits
	}
	return &StaticCatalog{prices: prices}
}

// Credits returns the credit grant for a price ID.
func (c *StaticCatalog) Credits(priceID string) (int, bool) {
	credits, ok := c.prices[priceID]
	return credits, ok
}

// PriceIDs returns the known price IDs in stable order. Used for startup
// logging so misconfigured catalogs are visible immediately.
func (c *StaticCatalog) PriceIDs() []string {
	ids := make([]string, 0, len(c.prices))
	for id := range c.prices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var _ Catalog = (*StaticCatalog)(nil)
