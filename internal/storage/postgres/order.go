package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roastline/orderd/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (
			id, order_id, customer_id,
			customer_name, customer_phone, customer_email,
			pickup_method, payment_method,
			total_amount, discount_amount, final_amount,
			status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	insertLineSQL = `INSERT INTO order_lines (
			id, order_ref, position, product_id, variant_id,
			product_name, unit_price, quantity, grind_option, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	orderColumns = `id, order_id, customer_id,
		customer_name, customer_phone, customer_email,
		pickup_method, payment_method,
		total_amount, discount_amount, final_amount,
		status, notes, needs_reconciliation, created_at, updated_at`

	lineColumns = `id, order_ref, position, product_id, variant_id,
		product_name, unit_price, quantity, grind_option, subtotal`

	// The WHERE status predicate is the optimistic check: a concurrent
	// transition leaves zero rows affected instead of overwriting.
	updateStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`

	insertStatusLogSQL = `INSERT INTO order_status_log (order_ref, status, updated_by, notes, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	statusLogSQL = `SELECT order_ref, status, updated_by, notes, created_at
		FROM order_status_log WHERE order_ref = $1 ORDER BY created_at, id`

	markReconciliationSQL = `UPDATE orders SET needs_reconciliation = TRUE, updated_at = now()
		WHERE id = $1`

	countSinceSQL = `SELECT count(*) FROM orders WHERE created_at >= $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order header and its lines in one transaction, so a
// header can never be observed without its lines.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.OrderID, o.CustomerID,
		o.CustomerName, o.CustomerPhone, o.CustomerEmail,
		string(o.PickupMethod), string(o.PaymentMethod),
		o.TotalAmount, o.DiscountAmount, o.FinalAmount,
		string(o.Status), o.Notes, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert order %q", o.OrderID)
	}

	for _, line := range o.Lines {
		var variantID *string
		if line.VariantID != "" {
			variantID = &line.VariantID
		}
		_, err = tx.Exec(ctx, insertLineSQL,
			line.ID, o.ID, line.Position, line.ProductID, variantID,
			line.ProductName, line.UnitPrice, line.Quantity, string(line.Grind), line.Subtotal,
		)
		if err != nil {
			return errors.Wrapf(err, "insert line %d for order %q", line.Position, o.OrderID)
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns an order with its lines by internal identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetByOrderID returns an order with its lines by the human-readable
// order identifier.
func (r *OrderRepository) GetByOrderID(ctx context.Context, orderID string) (*order.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID)
}

func (r *OrderRepository) getOne(ctx context.Context, sql, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}

	lines, err := r.loadLines(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Lines = lines[o.ID]
	return &o, nil
}

// List returns orders newest first, optionally filtered by status and
// creation date range, with lines in insertion order.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + orderColumns + ` FROM orders`)

	var conds []string
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		conds = append(conds, "created_at >= $"+strconv.Itoa(len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		conds = append(conds, "created_at <= $"+strconv.Itoa(len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC")

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

// UpdateStatus conditionally moves the order's status. Zero rows affected
// with an existing order means a concurrent transition won; the caller gets
// order.ErrStatusConflict and the row stays unchanged.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	tag, err := r.pool.Exec(ctx, updateStatusSQL, id, string(from), string(to))
	if err != nil {
		return errors.Wrapf(err, "update status for %q", id)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return errors.Wrapf(err, "check order %q", id)
		}
		if !exists {
			return order.ErrNotFound
		}
		return order.ErrStatusConflict
	}
	return nil
}

// AppendStatusLog appends one immutable history entry.
func (r *OrderRepository) AppendStatusLog(ctx context.Context, e order.StatusEntry) error {
	_, err := r.pool.Exec(ctx, insertStatusLogSQL,
		e.OrderRef, string(e.Status), e.UpdatedBy, e.Notes, e.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "append status log for %q", e.OrderRef)
	}
	return nil
}

// StatusLog returns the order's history, oldest first.
func (r *OrderRepository) StatusLog(ctx context.Context, id string) ([]order.StatusEntry, error) {
	rows, err := r.pool.Query(ctx, statusLogSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "status log for %q", id)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.StatusEntry, error) {
		var (
			e      order.StatusEntry
			status string
		)
		err := row.Scan(&e.OrderRef, &status, &e.UpdatedBy, &e.Notes, &e.CreatedAt)
		e.Status = order.Status(status)
		return e, err
	})
}

// MarkNeedsReconciliation flags an order whose stock decrement lost a race.
func (r *OrderRepository) MarkNeedsReconciliation(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, markReconciliationSQL, id)
	if err != nil {
		return errors.Wrapf(err, "mark reconciliation for %q", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// CountCreatedSince counts orders created at or after the given instant.
func (r *OrderRepository) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countSinceSQL, since).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count orders")
	}
	return n, nil
}

func (r *OrderRepository) loadLines(ctx context.Context, orderIDs []string) (map[string][]order.Line, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+lineColumns+` FROM order_lines WHERE order_ref = ANY($1) ORDER BY order_ref, position`,
		orderIDs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "load order lines")
	}
	defer rows.Close()

	lines := make(map[string][]order.Line, len(orderIDs))
	for rows.Next() {
		var (
			l         order.Line
			orderRef  string
			variantID *string
			grind     string
		)
		err := rows.Scan(
			&l.ID, &orderRef, &l.Position, &l.ProductID, &variantID,
			&l.ProductName, &l.UnitPrice, &l.Quantity, &grind, &l.Subtotal,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scan order line")
		}
		if variantID != nil {
			l.VariantID = *variantID
		}
		l.Grind = order.GrindOption(grind)
		lines[orderRef] = append(lines[orderRef], l)
	}
	return lines, rows.Err()
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o               order.Order
		pickup, payment string
		status          string
	)
	err := row.Scan(
		&o.ID, &o.OrderID, &o.CustomerID,
		&o.CustomerName, &o.CustomerPhone, &o.CustomerEmail,
		&pickup, &payment,
		&o.TotalAmount, &o.DiscountAmount, &o.FinalAmount,
		&status, &o.Notes, &o.NeedsReconciliation, &o.CreatedAt, &o.UpdatedAt,
	)
	o.PickupMethod = order.PickupMethod(pickup)
	o.PaymentMethod = order.PaymentMethod(payment)
	o.Status = order.Status(status)
	return o, err
}
