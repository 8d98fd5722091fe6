package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/roastline/orderd/internal/domain/catalog"
	"github.com/roastline/orderd/internal/domain/customer"
)

// LineRequest is one requested order line. VariantID addresses a specific
// variant; it must be set for products that have variants and empty otherwise.
type LineRequest struct {
	ProductID string
	VariantID string
	Quantity  int
	Grind     GrindOption
}

// CreateRequest is the orchestrator's inbound cart submission. The unit
// price is always taken from the catalog, never from the client.
type CreateRequest struct {
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	PickupMethod  PickupMethod
	PaymentMethod PaymentMethod
	Notes         string
	Lines         []LineRequest
}

// CreateResult is a successful creation. Warnings report post-commit steps
// that degraded (stock race, aggregate bookkeeping, log append); the order
// itself is durably recorded whenever CreateResult is returned.
type CreateResult struct {
	Order    *Order
	Warnings []string
}

// Service sequences order creation and status transitions across the
// catalog, stock ledger, customer directory, and order repository.
type Service struct {
	catalog   catalog.Repository
	customers customer.Directory
	stock     StockLedger
	orders    Repository
	ids       *IDGenerator
	notifier  Notifier
	lg        *zap.Logger

	now func() time.Time
}

// NewService creates the order service with its required collaborators.
func NewService(
	cat catalog.Repository,
	customers customer.Directory,
	stock StockLedger,
	orders Repository,
	ids *IDGenerator,
	notifier Notifier,
	lg *zap.Logger,
) *Service {
	return &Service{
		catalog:   cat,
		customers: customers,
		stock:     stock,
		orders:    orders,
		ids:       ids,
		notifier:  notifier,
		lg:        lg,
		now:       time.Now,
	}
}

// CreateOrder turns a cart submission into a durable order.
//
// Failures before the order insert are fully recoverable: nothing has been
// persisted and the caller may retry. Once the header and lines commit, the
// operation has happened; the remaining steps (stock decrement, customer
// aggregates, initial status log) are attempted individually and report
// degradation through CreateResult.Warnings rather than failure. Stock is
// decremented after commit: a decrement that loses a race to a concurrent
// submission marks the order for reconciliation instead of unwinding it.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	cust, err := s.customers.UpsertByContact(ctx, req.CustomerName, req.CustomerPhone, req.CustomerEmail)
	if err != nil {
		return nil, errors.Wrap(err, "upsert customer")
	}

	// Resolve every line and confirm availability before touching stock:
	// if any line fails, nothing is decremented for any line.
	items := make([]*catalog.SaleItem, len(req.Lines))
	for i, line := range req.Lines {
		item, err := s.catalog.ResolveSaleItem(ctx, line.ProductID, line.VariantID)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve product %s", line.ProductID)
		}
		if !item.Active {
			return nil, &InactiveProductError{Name: item.Name}
		}
		ok, err := s.stock.CheckAvailable(ctx, item.StockID, line.Quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "check stock for %s", item.Name)
		}
		if !ok {
			return nil, &InsufficientStockError{Name: item.Name, Quantity: line.Quantity}
		}
		items[i] = item
	}

	now := s.now().UTC()
	o := &Order{
		ID:             uuid.New().String(),
		OrderID:        s.ids.Generate(),
		CustomerID:     cust.ID,
		CustomerName:   cust.Name,
		CustomerPhone:  cust.Phone,
		CustomerEmail:  cust.Email,
		PickupMethod:   req.PickupMethod,
		PaymentMethod:  req.PaymentMethod,
		DiscountAmount: decimal.Zero,
		Status:         StatusPending,
		Notes:          req.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	total := decimal.Zero
	o.Lines = make([]Line, len(req.Lines))
	for i, line := range req.Lines {
		subtotal := items[i].Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		o.Lines[i] = Line{
			ID:          uuid.New().String(),
			Position:    i,
			ProductID:   items[i].ProductID,
			VariantID:   items[i].VariantID,
			ProductName: items[i].Name,
			UnitPrice:   items[i].Price,
			Quantity:    line.Quantity,
			Grind:       line.Grind,
			Subtotal:    subtotal,
		}
		total = total.Add(subtotal)
	}
	o.TotalAmount = total
	o.FinalAmount = total.Sub(o.DiscountAmount)

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	// Post-commit steps, each attempted with try/log/continue semantics.
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"stock_decrement", func(ctx context.Context) error {
			return s.decrementLines(ctx, o, items)
		}},
		{"customer_aggregates", func(ctx context.Context) error {
			return s.customers.RecordCompletedOrder(ctx, cust.ID, o.FinalAmount, o.CreatedAt)
		}},
		{"initial_status_log", func(ctx context.Context) error {
			return s.orders.AppendStatusLog(ctx, StatusEntry{
				OrderRef:  o.ID,
				Status:    StatusPending,
				UpdatedBy: "system",
				CreatedAt: now,
			})
		}},
	}

	var warnings []string
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			s.lg.Warn("post-commit step degraded",
				zap.String("step", step.name),
				zap.String("order_id", o.OrderID),
				zap.Error(err),
			)
			warnings = append(warnings, fmt.Sprintf("%s: %v", step.name, err))
		}
	}

	s.notifier.Notify(ctx, Event{
		Type:       EventOrderCreated,
		Order:      o,
		OccurredAt: now,
	})

	return &CreateResult{Order: o, Warnings: warnings}, nil
}

// decrementLines applies the conditional stock decrement for every line. A
// decrement that loses a race after the order committed marks the order for
// manual reconciliation; the first race is returned so the caller can
// surface it as a warning.
func (s *Service) decrementLines(ctx context.Context, o *Order, items []*catalog.SaleItem) error {
	var raceErr error
	for i, line := range o.Lines {
		_, err := s.stock.Decrement(ctx, items[i].StockID, line.Quantity)
		switch {
		case err == nil:
		case errors.Is(err, ErrInsufficientStock):
			if raceErr == nil {
				raceErr = &InsufficientStockError{Name: line.ProductName, Quantity: line.Quantity}
			}
		default:
			if raceErr == nil {
				raceErr = errors.Wrapf(err, "decrement stock for %s", line.ProductName)
			}
		}
	}
	if raceErr == nil {
		return nil
	}
	o.NeedsReconciliation = true
	if err := s.orders.MarkNeedsReconciliation(ctx, o.ID); err != nil {
		s.lg.Error("mark reconciliation failed",
			zap.String("order_id", o.OrderID),
			zap.Error(err),
		)
	}
	return raceErr
}

// UpdateStatus validates and applies one status transition, appending to the
// immutable status history. The transition is optimistic: the stored status
// is re-checked by the conditional update, and a lost race surfaces as an
// InvalidStatusTransitionError to the loser. A failed log append does not
// undo the status change; order state takes priority over the audit trail.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status, actor, note string) (*Order, error) {
	if !to.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}
	if actor == "" {
		return nil, &ValidationError{Field: "updated_by", Reason: "required"}
	}

	o, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, &InvalidStatusTransitionError{From: o.Status, To: to}
	}

	if err := s.orders.UpdateStatus(ctx, o.ID, o.Status, to); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			if fresh, ferr := s.orders.GetByID(ctx, o.ID); ferr == nil {
				return nil, &InvalidStatusTransitionError{From: fresh.Status, To: to}
			}
			return nil, &InvalidStatusTransitionError{From: o.Status, To: to}
		}
		return nil, errors.Wrap(err, "update status")
	}

	prev := o.Status
	now := s.now().UTC()
	o.Status = to
	o.UpdatedAt = now

	if err := s.orders.AppendStatusLog(ctx, StatusEntry{
		OrderRef:  o.ID,
		Status:    to,
		UpdatedBy: actor,
		Notes:     note,
		CreatedAt: now,
	}); err != nil {
		s.lg.Warn("status log append failed",
			zap.String("order_id", o.OrderID),
			zap.String("status", string(to)),
			zap.Error(err),
		)
	}

	s.notifier.Notify(ctx, Event{
		Type:       EventStatusUpdated,
		Order:      o,
		PrevStatus: prev,
		OccurredAt: now,
	})

	return o, nil
}

// History returns the order's status log, oldest first.
func (s *Service) History(ctx context.Context, orderID string) ([]StatusEntry, error) {
	o, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.orders.StatusLog(ctx, o.ID)
}

func validateCreate(req CreateRequest) error {
	if len(req.Lines) == 0 {
		return ErrEmptyLines
	}
	if req.CustomerName == "" {
		return &ValidationError{Field: "customer_name", Reason: "required"}
	}
	if customer.NormalizeEmail(req.CustomerEmail) == "" {
		return &ValidationError{Field: "customer_email", Reason: "required"}
	}
	if !req.PickupMethod.Valid() {
		return &ValidationError{Field: "pickup_method", Reason: fmt.Sprintf("unknown value %q", req.PickupMethod)}
	}
	if !req.PaymentMethod.Valid() {
		return &ValidationError{Field: "payment_method", Reason: fmt.Sprintf("unknown value %q", req.PaymentMethod)}
	}
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: line.ProductID}
		}
		if !line.Grind.Valid() {
			return &ValidationError{Field: "grind_option", Reason: fmt.Sprintf("unknown value %q", line.Grind)}
		}
	}
	return nil
}
