// Package customer holds the customer directory contract. Customers are
// keyed by their normalized contact email across every path that creates
// them; the rolling aggregates are written only by the order engine.
package customer

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Customer is a directory entry with derived order aggregates.
type Customer struct {
	ID       string
	Email    string
	Name     string
	Phone    string
	Provider string

	TotalOrders   int
	TotalSpent    decimal.Decimal
	LastOrderDate time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail canonicalizes a contact email for identity matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Directory is the upsert-by-contact-identity store.
type Directory interface {
	// UpsertByContact finds a customer by normalized email, updating the
	// display fields when found, or inserts a new record with zeroed
	// aggregates. It returns the stored identity either way.
	UpsertByContact(ctx context.Context, name, phone, email string) (*Customer, error)

	// RecordCompletedOrder atomically bumps total_orders, adds the order
	// amount to total_spent, and advances last_order_date monotonically.
	RecordCompletedOrder(ctx context.Context, customerID string, amount decimal.Decimal, orderDate time.Time) error
}
