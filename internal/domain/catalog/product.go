package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product or variant does not exist.
var ErrNotFound = errors.New("product not found")

// ErrVariantRequired is returned when a product that carries variants is
// addressed without a variant selection.
var ErrVariantRequired = errors.New("variant selection required")

// Product represents a catalog item available for purchase. When HasVariants
// is set, Price and Stock on the product row are informational only and each
// variant carries its own authoritative values.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Active      bool
	HasVariants bool
}

// Option is a named axis of variation for a product (e.g. "Roast"), owning
// an ordered set of values. A product has at most two options.
type Option struct {
	ID       string
	Name     string
	Position int
	Values   []OptionValue
}

// OptionValue is one selectable value of an Option.
type OptionValue struct {
	ID       string
	Value    string
	Position int
}

// Variant is a specific combination of option values with its own price and
// stock. Selections maps option ID to the chosen value ID.
type Variant struct {
	ID         string
	ProductID  string
	Price      decimal.Decimal
	Stock      int
	Active     bool
	Selections map[string]string
}

// SaleItem is the resolved, authoritative view of what an order line sells:
// the variant when one is addressed, the product row otherwise. StockID is
// the identifier the stock ledger decrements.
type SaleItem struct {
	StockID   string
	ProductID string
	VariantID string
	Name      string
	Price     decimal.Decimal
	Stock     int
	Active    bool
}

// Repository defines the read operations the order engine needs from the
// catalog. Catalog editing happens elsewhere.
type Repository interface {
	GetProduct(ctx context.Context, id string) (*Product, error)

	// ResolveSaleItem resolves a (product, optional variant) pair into the
	// authoritative sale item. variantID may be empty for variant-less
	// products; addressing a product that has variants without a variant ID
	// is an error.
	ResolveSaleItem(ctx context.Context, productID, variantID string) (*SaleItem, error)
}
