package tenancy

import "sort"

// ProductStatus mirrors original_source's ProductStatus enum.
type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductInactive ProductStatus = "inactive"
	ProductBeta     ProductStatus = "beta"
)

// Product is a sellable feature, grounded on
// original_source/app/models/product.py's Product dataclass.
type Product struct {
	ID          string
	Name        string
	Description string
	Status      ProductStatus
	Features    []string
}

// IsActive reports whether the product may be sold or referenced by a tier.
func (p Product) IsActive() bool {
	return p.Status == ProductActive || p.Status == ProductBeta
}

// PricingTier is a subscription plan bundling products at a monthly/annual
// price, grounded on original_source/app/models/product.py's PricingTier.
type PricingTier struct {
	ID                    string
	Name                  string
	Description           string
	MonthlyPriceCents     int64
	AnnualPriceCents      int64
	Currency              string
	ProductIDs            []string
	TrialDays             int
	IsPopular             bool
	SortOrder             int
	MaxAppointmentsPerMonth int
	StripeMonthlyPriceID  string
	StripeAnnualPriceID   string
}

// Catalog is a read-only lookup of products and pricing tiers. Unlike the
// original's Firestore-backed ProductRepository, tiers here are fixed at
// process start — billing-plan changes ship as a deploy, not an admin
// write path, per the supplemented pricing feature.
type Catalog struct {
	products map[string]Product
	tiers    map[string]PricingTier
}

// NewCatalog builds a Catalog from the given products and tiers.
func NewCatalog(products []Product, tiers []PricingTier) *Catalog {
	c := &Catalog{products: make(map[string]Product), tiers: make(map[string]PricingTier)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	for _, t := range tiers {
		c.tiers[t.ID] = t
	}
	return c
}

// Product returns the product with the given id, or false if absent.
func (c *Catalog) Product(id string) (Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

// Tier returns the pricing tier with the given id, or false if absent.
func (c *Catalog) Tier(id string) (PricingTier, bool) {
	t, ok := c.tiers[id]
	return t, ok
}

// ActiveProductsForTier resolves a tier's product ids to their Product
// records, skipping any that are inactive or unknown.
func (c *Catalog) ActiveProductsForTier(tierID string) []Product {
	tier, ok := c.tiers[tierID]
	if !ok {
		return nil
	}
	var out []Product
	for _, pid := range tier.ProductIDs {
		if p, ok := c.products[pid]; ok && p.IsActive() {
			out = append(out, p)
		}
	}
	return out
}

// ListTiers returns every tier ordered by SortOrder, the shape the public
// pricing page reads.
func (c *Catalog) ListTiers() []PricingTier {
	out := make([]PricingTier, 0, len(c.tiers))
	for _, t := range c.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// AccountEntitled reports whether an account's current tier (or an explicit
// per-account product override) grants access to productID.
func (c *Catalog) AccountEntitled(acct *Account, productID string) bool {
	if acct == nil {
		return false
	}
	for _, pid := range acct.Subscription.ProductOverrideIDs {
		if pid == productID {
			return true
		}
	}
	for _, p := range c.ActiveProductsForTier(acct.Subscription.CurrentTierID) {
		if p.ID == productID {
			return true
		}
	}
	return false
}
