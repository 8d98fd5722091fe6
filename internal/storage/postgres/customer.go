package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/roastline/orderd/internal/domain/customer"
)

const (
	// The email unique constraint is the identity; concurrent first orders
	// for the same contact fold into one row.
	upsertCustomerSQL = `INSERT INTO customers (id, email, name, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			updated_at = now()
		RETURNING id, email, name, phone, total_orders, total_spent, last_order_date, created_at, updated_at`

	// Aggregates use in-place SQL arithmetic rather than read-modify-write
	// so concurrent orders from the same customer cannot lose increments.
	recordOrderSQL = `UPDATE customers SET
			total_orders = total_orders + 1,
			total_spent = total_spent + $2,
			last_order_date = GREATEST(COALESCE(last_order_date, $3::timestamptz), $3::timestamptz),
			updated_at = now()
		WHERE id = $1`
)

var _ customer.Directory = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Directory backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// UpsertByContact finds or creates a customer by normalized email and
// refreshes the mutable display fields. Aggregates are never written here.
func (r *CustomerRepository) UpsertByContact(ctx context.Context, name, phone, email string) (*customer.Customer, error) {
	norm := customer.NormalizeEmail(email)
	if norm == "" {
		return nil, errors.New("email required")
	}

	var (
		c    customer.Customer
		last *time.Time
	)
	err := r.pool.QueryRow(ctx, upsertCustomerSQL, uuid.New().String(), norm, name, phone).Scan(
		&c.ID, &c.Email, &c.Name, &c.Phone,
		&c.TotalOrders, &c.TotalSpent, &last,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "upsert customer %q", norm)
	}
	if last != nil {
		c.LastOrderDate = *last
	}
	return &c, nil
}

// RecordCompletedOrder bumps the rolling aggregates for one completed order.
func (r *CustomerRepository) RecordCompletedOrder(ctx context.Context, customerID string, amount decimal.Decimal, orderDate time.Time) error {
	tag, err := r.pool.Exec(ctx, recordOrderSQL, customerID, amount, orderDate)
	if err != nil {
		return errors.Wrapf(err, "record order for customer %q", customerID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("customer %q not found", customerID)
	}
	return nil
}
