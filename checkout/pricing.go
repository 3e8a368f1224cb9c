package checkout

import (
	"fmt"
	"math/big"
	"sort"
)

// Catalog maps item identifiers to their unit price in the shop currency.
// Prices are exact rationals; float arithmetic never enters the pipeline.
type Catalog map[string]*big.Rat

// DefaultCatalog returns the shop's fixed menu.
func DefaultCatalog() Catalog {
	return Catalog{
		"cookie":            big.NewRat(1, 2),
		"box-of-cookies":    big.NewRat(4, 1),
		"basket-of-cookies": big.NewRat(10, 1),
	}
}

// Items lists the catalog's item identifiers in stable order.
func (c Catalog) Items() []string {
	items := make([]string, 0, len(c))
	for id := range c {
		items = append(items, id)
	}
	sort.Strings(items)
	return items
}

// Price totals the cart against the catalog. Unknown items, negative
// quantities, and zero-value totals all fail with ErrInvalidRequest; a
// zero-value purchase is not a valid transaction.
func (c Catalog) Price(cart map[string]int64) (*big.Rat, error) {
	total := new(big.Rat)
	for id, qty := range cart {
		unit, ok := c[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown item %q", ErrInvalidRequest, id)
		}
		if qty < 0 {
			return nil, fmt.Errorf("%w: negative quantity for %q", ErrInvalidRequest, id)
		}
		line := new(big.Rat).Mul(unit, new(big.Rat).SetInt64(qty))
		total.Add(total, line)
	}
	if total.Sign() == 0 {
		return nil, fmt.Errorf("%w: can't checkout with charge of 0", ErrInvalidRequest)
	}
	return total, nil
}
