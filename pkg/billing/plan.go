package billing

import (
	"fmt"
	"sort"
)

// Interval is the recurrence unit of a plan
type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

const (
	// DefaultCurrency is the ISO currency of the default catalog
	DefaultCurrency = "cad"
	// DefaultProductName is shown on the hosted checkout page
	DefaultProductName = "Second Chances Premium"
	// DefaultProductDescription is shown under the product name
	DefaultProductDescription = "Premium subscription for Second Chances app"
)

// Plan is a purchasable subscription plan
type Plan struct {
	ID string `json:"id"`
	// Amount is the price per billing period in minor currency units
	Amount        int64    `json:"amount"`
	Currency      string   `json:"currency"`
	Interval      Interval `json:"interval"`
	IntervalCount int64    `json:"interval_count"`
}

// Catalog is the static, deploy-time set of plans
type Catalog struct {
	ProductName        string
	ProductDescription string
	plans              map[string]Plan
	order              []string
}

// NewCatalog builds a catalog from plans. Plan ids must be unique and every
// plan needs a positive amount, a currency and a known interval.
func NewCatalog(productName, productDescription string, plans ...Plan) (*Catalog, error) {
	c := &Catalog{
		ProductName:        productName,
		ProductDescription: productDescription,
		plans:              make(map[string]Plan, len(plans)),
	}
	for _, p := range plans {
		if p.ID == "" || p.Amount <= 0 || p.Currency == "" {
			return nil, fmt.Errorf("invalid plan %q", p.ID)
		}
		if p.Interval != IntervalMonth && p.Interval != IntervalYear {
			return nil, fmt.Errorf("invalid interval %q for plan %q", p.Interval, p.ID)
		}
		if p.IntervalCount <= 0 {
			p.IntervalCount = 1
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan %q", p.ID)
		}
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c, nil
}

// DefaultCatalog returns the standard monthly, quarterly, semi-annual and annual plans
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultProductName, DefaultProductDescription,
		Plan{ID: "monthly", Amount: 999, Currency: DefaultCurrency, Interval: IntervalMonth, IntervalCount: 1},
		Plan{ID: "quarterly", Amount: 2499, Currency: DefaultCurrency, Interval: IntervalMonth, IntervalCount: 3},
		Plan{ID: "semi-annual", Amount: 4499, Currency: DefaultCurrency, Interval: IntervalMonth, IntervalCount: 6},
		Plan{ID: "annual", Amount: 7999, Currency: DefaultCurrency, Interval: IntervalYear, IntervalCount: 1},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the plan with the given id or ErrInvalidPlan
func (c *Catalog) Lookup(planID string) (Plan, error) {
	p, ok := c.plans[planID]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrInvalidPlan, planID)
	}
	return p, nil
}

// Plans returns the catalog in declaration order
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

// IDs returns the sorted plan ids
func (c *Catalog) IDs() []string {
	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}
