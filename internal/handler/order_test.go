package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roastline/orderd/internal/domain/catalog"
	"github.com/roastline/orderd/internal/domain/customer"
	"github.com/roastline/orderd/internal/domain/order"
)

type memCatalog struct {
	items map[string]*catalog.SaleItem
}

func (c *memCatalog) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	return nil, catalog.ErrNotFound
}

func (c *memCatalog) ResolveSaleItem(ctx context.Context, productID, variantID string) (*catalog.SaleItem, error) {
	item, ok := c.items[productID+"/"+variantID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

type memDirectory struct{}

func (d *memDirectory) UpsertByContact(ctx context.Context, name, phone, email string) (*customer.Customer, error) {
	return &customer.Customer{ID: "cust-1", Name: name, Phone: phone, Email: customer.NormalizeEmail(email)}, nil
}

func (d *memDirectory) RecordCompletedOrder(ctx context.Context, customerID string, amount decimal.Decimal, orderDate time.Time) error {
	return nil
}

type memLedger struct {
	mu    sync.Mutex
	stock map[string]int
}

func (l *memLedger) CheckAvailable(ctx context.Context, stockID string, qty int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stock[stockID] >= qty, nil
}

func (l *memLedger) Decrement(ctx context.Context, stockID string, qty int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stock[stockID] < qty {
		return 0, order.ErrInsufficientStock
	}
	l.stock[stockID] -= qty
	return l.stock[stockID], nil
}

type memRepo struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	byOID  map[string]string
	logs   map[string][]order.StatusEntry
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders: make(map[string]*order.Order),
		byOID:  make(map[string]string),
		logs:   make(map[string][]order.StatusEntry),
	}
}

func (r *memRepo) Create(ctx context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	r.byOID[o.OrderID] = o.ID
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) GetByOrderID(ctx context.Context, orderID string) (*order.Order, error) {
	r.mu.Lock()
	id, ok := r.byOID[orderID]
	r.mu.Unlock()
	if !ok {
		return nil, order.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *memRepo) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []order.Order
	for _, o := range r.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && o.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && o.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return order.ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return nil
}

func (r *memRepo) AppendStatusLog(ctx context.Context, e order.StatusEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs[e.OrderRef] = append(r.logs[e.OrderRef], e)
	return nil
}

func (r *memRepo) StatusLog(ctx context.Context, id string) ([]order.StatusEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]order.StatusEntry(nil), r.logs[id]...), nil
}

func (r *memRepo) MarkNeedsReconciliation(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.NeedsReconciliation = true
	return nil
}

func (r *memRepo) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders), nil
}

type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, ev order.Event) {}

type apiEnv struct {
	srv    *httptest.Server
	repo   *memRepo
	ledger *memLedger
	cat    *memCatalog
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	env := &apiEnv{
		repo:   newMemRepo(),
		ledger: &memLedger{stock: make(map[string]int)},
		cat:    &memCatalog{items: make(map[string]*catalog.SaleItem)},
	}
	lg := zaptest.NewLogger(t)
	svc := order.NewService(env.cat, &memDirectory{}, env.ledger, env.repo, order.NewIDGenerator(nil), noopNotifier{}, lg)
	h := NewHandler(svc, env.repo, lg)
	env.srv = httptest.NewServer(h.Routes())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *apiEnv) addProduct(id, name, price string, stock int) {
	e.cat.items[id+"/"] = &catalog.SaleItem{
		StockID:   id,
		ProductID: id,
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		Active:    true,
	}
	e.ledger.stock[id] = stock
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &payload), "body: %s", raw)
	}
	return resp, payload
}

func validCreateBody() map[string]any {
	return map[string]any{
		"customer_name":  "Ada Chen",
		"customer_phone": "+62811000111",
		"customer_email": "ada@example.com",
		"pickup_method":  "self_pickup",
		"payment_method": "cash",
		"order_items": []map[string]any{
			{"product_id": "prod-1", "quantity": 2, "grind_option": "hand_drip"},
		},
	}
}

func TestAPI_CreateOrder(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("prod-1", "House Blend 250g", "14.50", 5)

	resp, payload := env.do(t, http.MethodPost, "/api/orders", validCreateBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	o := payload["order"].(map[string]any)
	assert.Regexp(t, `^ORD-\d{8}-[A-Z0-9]{4}$`, o["order_id"])
	assert.Equal(t, "pending", o["status"])
	assert.Equal(t, "29", o["total_amount"])
	assert.Equal(t, "29", o["final_amount"])
	assert.Nil(t, payload["warnings"])
	assert.Equal(t, 3, env.ledger.stock["prod-1"])

	items := o["order_items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "House Blend 250g", items[0].(map[string]any)["product_name"])
}

func TestAPI_CreateOrder_BadJSON(t *testing.T) {
	env := newAPIEnv(t)
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/orders", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CreateOrder_ValidationError(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("prod-1", "House Blend 250g", "14.50", 5)

	body := validCreateBody()
	body["customer_email"] = ""
	resp, payload := env.do(t, http.MethodPost, "/api/orders", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "customer_email", payload["field"])
}

func TestAPI_CreateOrder_InsufficientStock(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("prod-1", "House Blend 250g", "14.50", 1)

	resp, payload := env.do(t, http.MethodPost, "/api/orders", validCreateBody())
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, payload["error"], "House Blend 250g")
}

func TestAPI_CreateOrder_UnknownProduct(t *testing.T) {
	env := newAPIEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/orders", validCreateBody())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_GetOrder(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("prod-1", "House Blend 250g", "14.50", 5)

	_, created := env.do(t, http.MethodPost, "/api/orders", validCreateBody())
	orderID := created["order"].(map[string]any)["order_id"].(string)

	resp, got := env.do(t, http.MethodGet, "/api/orders/"+orderID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, orderID, got["order_id"])
	assert.Equal(t, "ada@example.com", got["customer_email"])

	resp, _ = env.do(t, http.MethodGet, "/api/orders/ORD-20250101-XXXX", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ListOrders_StatusFilter(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("prod-1", "House Blend 250g", "14.50", 50)

	for range 3 {
		resp, _ := env.do(t, http.MethodPost, "/api/orders", validCreateBody())
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, payload := env.do(t, http.MethodGet, "/api/orders?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, payload["orders"], 3)

	resp, payload = env.do(t, http.MethodGet, "/api/orders?status=cancelled", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, payload["orders"])

	resp, _ = env.do(t, http.MethodGet, "/api/orders?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/orders?from=not-a-date", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_UpdateStatus(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("prod-1", "House Blend 250g", "14.50", 5)

	_, created := env.do(t, http.MethodPost, "/api/orders", validCreateBody())
	orderID := created["order"].(map[string]any)["order_id"].(string)

	resp, got := env.do(t, http.MethodPatch, "/api/orders/"+orderID+"/status", map[string]any{
		"status":     "processing",
		"updated_by": "barista-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "processing", got["status"])

	// processing -> pending walks the state machine backwards.
	resp, _ = env.do(t, http.MethodPatch, "/api/orders/"+orderID+"/status", map[string]any{
		"status":     "pending",
		"updated_by": "barista-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPatch, "/api/orders/"+orderID+"/status", map[string]any{
		"status": "completed",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_OrderHistory(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("prod-1", "House Blend 250g", "14.50", 5)

	_, created := env.do(t, http.MethodPost, "/api/orders", validCreateBody())
	orderID := created["order"].(map[string]any)["order_id"].(string)

	env.do(t, http.MethodPatch, "/api/orders/"+orderID+"/status", map[string]any{
		"status": "processing", "updated_by": "barista-1", "notes": "grinding",
	})

	resp, payload := env.do(t, http.MethodGet, "/api/orders/"+orderID+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	history := payload["history"].([]any)
	require.Len(t, history, 2)
	assert.Equal(t, "pending", history[0].(map[string]any)["status"])
	assert.Equal(t, "processing", history[1].(map[string]any)["status"])
	assert.Equal(t, "barista-1", history[1].(map[string]any)["updated_by"])

	resp, _ = env.do(t, http.MethodGet, "/api/orders/ORD-20250101-XXXX/history", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
