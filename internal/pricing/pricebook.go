package pricing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotInPriceBook is returned when a product reference no longer resolves.
var ErrNotInPriceBook = errors.New("pricing: product not in price book")

// VariantPrice is the current adder for a single attribute selection.
type VariantPrice struct {
	Name        string
	Value       string
	PriceAdder  decimal.Decimal
	Purchasable bool
}

// PriceEntry is the authoritative price of a product at lookup time.
type PriceEntry struct {
	ProductRef  string
	CategoryRef string
	UnitPrice   decimal.Decimal
	Purchasable bool
	Variants    []VariantPrice
}

// Variant finds the adder for name/value.
func (e PriceEntry) Variant(name, value string) (VariantPrice, bool) {
	for _, v := range e.Variants {
		if v.Name == name && v.Value == value {
			return v, true
		}
	}
	return VariantPrice{}, false
}

// PriceBook resolves current product prices. Implementations must be read-only.
type PriceBook interface {
	Lookup(ctx context.Context, productRef string) (PriceEntry, error)
}
