package payments

// Package is a credit bundle sold through Stripe Checkout.
type Package struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int    `json:"credits"`
	Bonus      int    `json:"bonus"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency"`
}

// Total is what the lawyer receives.
func (p Package) Total() int { return p.Credits + p.Bonus }

var catalog = []Package{
	{ID: "starter", Name: "Starter", Credits: 10, PriceCents: 19900, Currency: "brl"},
	{ID: "professional", Name: "Professional", Credits: 50, Bonus: 5, PriceCents: 89900, Currency: "brl"},
	{ID: "firm", Name: "Firm", Credits: 120, Bonus: 20, PriceCents: 199900, Currency: "brl"},
}

// Packages returns the catalog in display order.
func Packages() []Package {
	out := make([]Package, len(catalog))
	copy(out, catalog)
	return out
}

func FindPackage(id string) (Package, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}
