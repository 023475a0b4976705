package pricing

import (
	"fmt"
	"strings"
)

// ShippingMethod identifies one of the flat-fee delivery options.
type ShippingMethod string

const (
	ShippingStandard  ShippingMethod = "standard"
	ShippingExpress   ShippingMethod = "express"
	ShippingOvernight ShippingMethod = "overnight"
)

// ShippingMethods lists every supported method in display order.
var ShippingMethods = []ShippingMethod{ShippingStandard, ShippingExpress, ShippingOvernight}

// Valid reports whether m is a known shipping method.
func (m ShippingMethod) Valid() bool {
	switch m {
	case ShippingStandard, ShippingExpress, ShippingOvernight:
		return true
	default:
		return false
	}
}

// ParseShippingMethod normalises user input into a ShippingMethod.
func ParseShippingMethod(raw string) (ShippingMethod, error) {
	m := ShippingMethod(strings.ToLower(strings.TrimSpace(raw)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownShippingMethod, raw)
	}
	return m, nil
}
