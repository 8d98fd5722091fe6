package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PickupMethod enumerates how a customer receives their order.
type PickupMethod string

const (
	PickupSelf     PickupMethod = "self_pickup"
	PickupDelivery PickupMethod = "delivery"
)

// Valid reports whether the pickup method is a recognized value.
func (m PickupMethod) Valid() bool {
	return m == PickupSelf || m == PickupDelivery
}

// PaymentMethod enumerates recorded (not processed) payment methods.
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "cash"
	PaymentTransfer   PaymentMethod = "transfer"
	PaymentCreditCard PaymentMethod = "credit_card"
)

// Valid reports whether the payment method is a recognized value.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentTransfer || m == PaymentCreditCard
}

// GrindOption enumerates the bean preparation choices for a line.
type GrindOption string

const (
	GrindNone     GrindOption = "none"
	GrindHandDrip GrindOption = "hand_drip"
	GrindEspresso GrindOption = "espresso"
)

// Valid reports whether the grind option is a recognized value.
func (g GrindOption) Valid() bool {
	return g == GrindNone || g == GrindHandDrip || g == GrindEspresso
}

// Order is a durable order record. Contact fields are denormalized at order
// time so the record stays readable if the customer row later changes.
// Lines and monetary fields are immutable post-creation; Status moves only
// through the state machine.
type Order struct {
	ID         string
	OrderID    string
	CustomerID string

	CustomerName  string
	CustomerPhone string
	CustomerEmail string

	PickupMethod  PickupMethod
	PaymentMethod PaymentMethod

	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal

	Status Status
	Notes  string

	// NeedsReconciliation marks an order whose stock decrement lost a race
	// after the header was committed (see the creation policy in Service).
	NeedsReconciliation bool

	Lines []Line

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Line is one order line with the product name and unit price frozen at the
// moment of purchase.
type Line struct {
	ID          string
	Position    int
	ProductID   string
	VariantID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	Grind       GrindOption
	Subtotal    decimal.Decimal
}

// StatusEntry is one append-only status history record.
type StatusEntry struct {
	OrderRef  string
	Status    Status
	UpdatedBy string
	Notes     string
	CreatedAt time.Time
}

// Filter narrows order listings. Zero values mean "no constraint".
type Filter struct {
	Status Status
	From   time.Time
	To     time.Time
}

// Repository defines persistence for orders, their lines, and the status log.
type Repository interface {
	// Create persists the header and lines in one transaction.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByOrderID(ctx context.Context, orderID string) (*Order, error)
	// List returns orders newest first, lines in insertion order.
	List(ctx context.Context, f Filter) ([]Order, error)

	// UpdateStatus conditionally moves an order from one status to another.
	// It returns ErrStatusConflict when the stored status no longer equals
	// from, leaving the row unchanged.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	AppendStatusLog(ctx context.Context, e StatusEntry) error
	StatusLog(ctx context.Context, id string) ([]StatusEntry, error)

	MarkNeedsReconciliation(ctx context.Context, id string) error
	// CountCreatedSince supports the sequential order-ID fallback.
	CountCreatedSince(ctx context.Context, since time.Time) (int, error)
}

// ErrInsufficientStock is the ledger-level sentinel for a failed conditional
// decrement. Callers wrap it with the display name for user-facing messages.
var ErrInsufficientStock = errors.New("insufficient stock")

// StockLedger owns per-product/variant available quantity. Decrement must be
// a single conditional update, atomic with respect to the availability
// check, so stock can never go negative under concurrent submissions.
type StockLedger interface {
	CheckAvailable(ctx context.Context, stockID string, qty int) (bool, error)
	// Decrement subtracts qty and returns the new stock level, or an error
	// wrapping ErrInsufficientStock when the conditional update matched no row.
	Decrement(ctx context.Context, stockID string, qty int) (int, error)
}

// EventType identifies a notification payload shape.
type EventType string

const (
	EventOrderCreated  EventType = "order.created"
	EventStatusUpdated EventType = "order.status_updated"
)

// Event is the denormalized payload handed to the notification dispatcher.
type Event struct {
	Type       EventType
	Order      *Order
	PrevStatus Status
	OccurredAt time.Time
}

/// Notifier receives order events best-effort: implementations must never
// block the caller and must swallow (and log) their own failures.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Sentinel errors for the engine's taxonomy.
var (
	ErrEmptyLines = errors.New("order lines required")
	ErrNotFound   = errors.New("order not found")
	// ErrStatusConflict reports a lost optimistic status update.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// ValidationError reports malformed input, rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidQuantityError indicates a line with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// InactiveProductError indicates a line referencing a product or variant
// that is not open for sale.
type InactiveProductError struct {
	Name string
}

func (e *InactiveProductError) Error() string {
	return fmt.Sprintf("product %q is not available for ordering", e.Name)
}

// InsufficientStockError names the product or variant that could not cover
// the requested quantity.
type InsufficientStockError struct {
	Name     string
	Quantity int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q (requested %d)", e.Name, e.Quantity)
}

// InvalidStatusTransitionError reports a transition outside the allowed-edge
// table. The order is left unchanged.
type InvalidStatusTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
