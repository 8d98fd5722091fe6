package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roastAndSize() []Option {
	return []Option{
		{
			ID:   "opt-roast",
			Name: "Roast",
			Values: []OptionValue{
				{ID: "val-light", Value: "Light"},
				{ID: "val-dark", Value: "Dark"},
			},
		},
		{
			ID:   "opt-size",
			Name: "Size",
			Values: []OptionValue{
				{ID: "val-250", Value: "250g"},
				{ID: "val-1kg", Value: "1kg"},
			},
		},
	}
}

func TestVariantKey_OrderIndependent(t *testing.T) {
	a := VariantKey(map[string]string{"opt-roast": "val-light", "opt-size": "val-250"})
	b := VariantKey(map[string]string{"opt-size": "val-250", "opt-roast": "val-light"})
	assert.Equal(t, a, b)

	c := VariantKey(map[string]string{"opt-roast": "val-dark", "opt-size": "val-250"})
	assert.NotEqual(t, a, c)
}

func TestExpandVariants_FullCartesianProduct(t *testing.T) {
	base := decimal.RequireFromString("14.50")
	variants := ExpandVariants("p1", roastAndSize(), base, nil)

	require.Len(t, variants, 4)
	seen := make(map[string]bool)
	for _, v := range variants {
		seen[VariantKey(v.Selections)] = true
		assert.Equal(t, "p1", v.ProductID)
		assert.True(t, base.Equal(v.Price))
		assert.Zero(t, v.Stock)
		assert.True(t, v.Active)
		assert.NotEmpty(t, v.ID)
	}
	assert.Len(t, seen, 4, "combinations must be distinct")
}

func TestExpandVariants_PreservesSurvivingCombinations(t *testing.T) {
	base := decimal.RequireFromString("14.50")
	options := roastAndSize()

	first := ExpandVariants("p1", options, base, nil)
	require.Len(t, first, 4)

	// Simulate stock and a price override on one surviving combination.
	for i := range first {
		if VariantKey(first[i].Selections) == VariantKey(map[string]string{"opt-roast": "val-dark", "opt-size": "val-1kg"}) {
			first[i].Stock = 7
			first[i].Price = decimal.RequireFromString("48.00")
		}
	}

	// Drop the 1kg size, add a 500g value: dark/1kg disappears, dark/250g survives.
	options[1].Values = []OptionValue{
		{ID: "val-250", Value: "250g"},
		{ID: "val-500", Value: "500g"},
	}
	second := ExpandVariants("p1", options, base, first)
	require.Len(t, second, 4)

	keys := make(map[string]Variant, len(second))
	for _, v := range second {
		keys[VariantKey(v.Selections)] = v
	}

	_, gone := keys[VariantKey(map[string]string{"opt-roast": "val-dark", "opt-size": "val-1kg"})]
	assert.False(t, gone, "removed combination must be discarded")

	survivor := keys[VariantKey(map[string]string{"opt-roast": "val-dark", "opt-size": "val-250"})]
	var orig Variant
	for _, v := range first {
		if VariantKey(v.Selections) == VariantKey(survivor.Selections) {
			orig = v
		}
	}
	assert.Equal(t, orig.ID, survivor.ID, "surviving combination keeps its identity")
	assert.Equal(t, orig.Stock, survivor.Stock)
	assert.True(t, orig.Price.Equal(survivor.Price))

	fresh := keys[VariantKey(map[string]string{"opt-roast": "val-light", "opt-size": "val-500"})]
	assert.Zero(t, fresh.Stock)
	assert.True(t, base.Equal(fresh.Price))
}

func TestExpandVariants_SingleOption(t *testing.T) {
	opts := []Option{{
		ID:     "opt-roast",
		Name:   "Roast",
		Values: []OptionValue{{ID: "val-light", Value: "Light"}, {ID: "val-dark", Value: "Dark"}},
	}}
	variants := ExpandVariants("p1", opts, decimal.NewFromInt(10), nil)
	require.Len(t, variants, 2)
}

func TestExpandVariants_NoValues(t *testing.T) {
	assert.Empty(t, ExpandVariants("p1", nil, decimal.Zero, nil))
	assert.Empty(t, ExpandVariants("p1", []Option{{ID: "opt", Name: "Roast"}}, decimal.Zero, nil))
}
