// Package policy resolves merchant identifiers to return and price-adjustment
// rules. Lookup is a data change, not a code change: merchants live in a seed
// table plus optional overrides loaded at bootstrap.
package policy

import (
	"strings"
	"sync"

	"github.com/smallbiznis/returnwatch/internal/domain"
)

// Default is applied to every merchant without an explicit policy: a
// conservative 30-day return window, no price adjustments, no restocking fee.
var Default = domain.MerchantPolicy{
	Merchant:              "default",
	ReturnWindowDays:      30,
	PriceAdjustWindowDays: 0,
	RestockingFeePct:      0,
}

// seed covers the merchants we track out of the box. Keys are normalized
// (lower-cased, trimmed) merchant identifiers.
var seed = map[string]domain.MerchantPolicy{
	"amazon":    {Merchant: "amazon", ReturnWindowDays: 30, PriceAdjustWindowDays: 0, RestockingFeePct: 0},
	"target":    {Merchant: "target", ReturnWindowDays: 90, PriceAdjustWindowDays: 14, RestockingFeePct: 0},
	"bestbuy":   {Merchant: "bestbuy", ReturnWindowDays: 15, PriceAdjustWindowDays: 15, RestockingFeePct: 15},
	"costco":    {Merchant: "costco", ReturnWindowDays: 90, PriceAdjustWindowDays: 30, RestockingFeePct: 0},
	"walmart":   {Merchant: "walmart", ReturnWindowDays: 90, PriceAdjustWindowDays: 0, RestockingFeePct: 0},
	"homedepot": {Merchant: "homedepot", ReturnWindowDays: 90, PriceAdjustWindowDays: 0, RestockingFeePct: 0},
}

// Catalog maps merchant identifiers to policies with a fixed default fallback.
type Catalog struct {
	mu       sync.RWMutex
	policies map[string]domain.MerchantPolicy
}

// NewCatalog builds a catalog pre-populated with the seed table.
func NewCatalog() *Catalog {
	policies := make(map[string]domain.MerchantPolicy, len(seed))
	for k, v := range seed {
		policies[k] = v
	}
	return &Catalog{policies: policies}
}

// Resolve returns the policy for the merchant, falling back to Default for
// unknown merchants. It never fails.
func (c *Catalog) Resolve(merchant string) domain.MerchantPolicy {
	key := normalize(merchant)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.policies[key]; ok {
		return p
	}
	return Default
}

// Put installs or replaces the policy for one merchant. Used by bootstrap to
// apply operator overrides from the merchant_policies table.
func (c *Catalog) Put(p domain.MerchantPolicy) {
	key := normalize(p.Merchant)
	if key == "" {
		return
	}
	p.Merchant = key
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[key] = p
}

func normalize(merchant string) string {
	return strings.ToLower(strings.TrimSpace(merchant))
}
