package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roastline/orderd/internal/domain/order"
)

// The decrement is a single conditional update: the availability predicate
// and the subtraction execute atomically on the row, so concurrent
// submissions can never drive stock below zero. Stock IDs are resolved by
// the catalog before they reach this ledger; a miss in product_variants
// means the ID addresses a product row.
const (
	decrementVariantSQL = `UPDATE product_variants SET stock = stock - $2
		WHERE id = $1 AND stock >= $2 RETURNING stock`

	decrementProductSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2 RETURNING stock`

	variantStockSQL = `SELECT stock FROM product_variants WHERE id = $1`

	productStockSQL = `SELECT stock FROM products WHERE id = $1`
)

var _ order.StockLedger = (*StockRepository)(nil)

// StockRepository implements order.StockLedger backed by PostgreSQL.
type StockRepository struct {
	pool *pgxpool.Pool
}

// NewStockRepository returns a StockRepository that uses the given pool.
func NewStockRepository(pool *pgxpool.Pool) *StockRepository {
	return &StockRepository{pool: pool}
}

// CheckAvailable reports whether the product or variant can cover qty. The
// result is advisory: only Decrement is authoritative under concurrency.
func (r *StockRepository) CheckAvailable(ctx context.Context, stockID string, qty int) (bool, error) {
	var stock int
	err := r.pool.QueryRow(ctx, variantStockSQL, stockID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		err = r.pool.QueryRow(ctx, productStockSQL, stockID).Scan(&stock)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrapf(err, "read stock for %q", stockID)
	}
	return stock >= qty, nil
}

// Decrement atomically subtracts qty and returns the new stock level. It
// returns order.ErrInsufficientStock when the conditional update matches no
// row, leaving stock unchanged.
func (r *StockRepository) Decrement(ctx context.Context, stockID string, qty int) (int, error) {
	var newStock int
	err := r.pool.QueryRow(ctx, decrementVariantSQL, stockID, qty).Scan(&newStock)
	if errors.Is(err, pgx.ErrNoRows) {
		err = r.pool.QueryRow(ctx, decrementProductSQL, stockID, qty).Scan(&newStock)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, order.ErrInsufficientStock
		}
		return 0, errors.Wrapf(err, "decrement stock for %q", stockID)
	}
	return newStock, nil
}
