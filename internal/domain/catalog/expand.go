package catalog

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VariantKey returns the canonical structural identity of a variant's option
// selections: "(optionID,valueID)" pairs sorted by option ID. Two variants
// with equal keys represent the same combination regardless of map order.
func VariantKey(selections map[string]string) string {
	pairs := make([]string, 0, len(selections))
	for optID, valID := range selections {
		pairs = append(pairs, "("+optID+","+valID+")")
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ";")
}

// ExpandVariants computes the full Cartesian product of the given options'
// values for a product. Combinations that structurally match a previous
// variant (by VariantKey) keep that variant's ID, price, stock, and active
// flag; new combinations start at basePrice with zero stock. Previous
// variants whose combination no longer exists are simply absent from the
// result.
//
// Options with no values contribute nothing; if every option is empty (or
// options is empty) the result is empty.
func ExpandVariants(productID string, options []Option, basePrice decimal.Decimal, prev []Variant) []Variant {
	populated := make([]Option, 0, len(options))
	for _, opt := range options {
		if len(opt.Values) > 0 {
			populated = append(populated, opt)
		}
	}
	if len(populated) == 0 {
		return nil
	}

	prevByKey := make(map[string]Variant, len(prev))
	for _, v := range prev {
		prevByKey[VariantKey(v.Selections)] = v
	}

	combos := cartesian(populated)
	variants := make([]Variant, 0, len(combos))
	for _, selections := range combos {
		key := VariantKey(selections)
		if old, ok := prevByKey[key]; ok {
			old.Selections = selections
			variants = append(variants, old)
			continue
		}
		variants = append(variants, Variant{
			ID:         uuid.New().String(),
			ProductID:  productID,
			Price:      basePrice,
			Stock:      0,
			Active:     true,
			Selections: selections,
		})
	}
	return variants
}

// cartesian enumerates every selection map across the options' values,
// in option order then value order.
func cartesian(options []Option) []map[string]string {
	combos := []map[string]string{{}}
	for _, opt := range options {
		next := make([]map[string]string, 0, len(combos)*len(opt.Values))
		for _, combo := range combos {
			for _, val := range opt.Values {
				sel := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					sel[k] = v
				}
				sel[opt.ID] = val.ID
				next = append(next, sel)
			}
		}
		combos = next
	}
	return combos
}
