package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roastline/orderd/internal/domain/order"
)

type orderItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	Grind     string `json:"grind_option"`
}

type createOrderRequest struct {
	CustomerName  string             `json:"customer_name"`
	CustomerPhone string             `json:"customer_phone"`
	CustomerEmail string             `json:"customer_email"`
	PickupMethod  string             `json:"pickup_method"`
	PaymentMethod string             `json:"payment_method"`
	Notes         string             `json:"notes,omitempty"`
	Items         []orderItemRequest `json:"order_items"`
}

type updateStatusRequest struct {
	Status    string `json:"status"`
	UpdatedBy string `json:"updated_by"`
	Notes     string `json:"notes,omitempty"`
}

type orderItemResponse struct {
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id,omitempty"`
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	Grind       string `json:"grind_option"`
	Subtotal    string `json:"subtotal"`
}

type orderResponse struct {
	OrderID             string              `json:"order_id"`
	Status              string              `json:"status"`
	CustomerName        string              `json:"customer_name"`
	CustomerPhone       string              `json:"customer_phone"`
	CustomerEmail       string              `json:"customer_email"`
	PickupMethod        string              `json:"pickup_method"`
	PaymentMethod       string              `json:"payment_method"`
	TotalAmount         string              `json:"total_amount"`
	DiscountAmount      string              `json:"discount_amount"`
	FinalAmount         string              `json:"final_amount"`
	Notes               string              `json:"notes,omitempty"`
	NeedsReconciliation bool                `json:"needs_reconciliation,omitempty"`
	Items               []orderItemResponse `json:"order_items"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

type createOrderResponse struct {
	Order    orderResponse `json:"order"`
	Warnings []string      `json:"warnings,omitempty"`
}

type historyEntry struct {
	Status    string    `json:"status"`
	UpdatedBy string    `json:"updated_by"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Lines))
	for i, l := range o.Lines {
		items[i] = orderItemResponse{
			ProductID:   l.ProductID,
			VariantID:   l.VariantID,
			ProductName: l.ProductName,
			UnitPrice:   l.UnitPrice.String(),
			Quantity:    l.Quantity,
			Grind:       string(l.Grind),
			Subtotal:    l.Subtotal.String(),
		}
	}
	return orderResponse{
		OrderID:             o.OrderID,
		Status:              string(o.Status),
		CustomerName:        o.CustomerName,
		CustomerPhone:       o.CustomerPhone,
		CustomerEmail:       o.CustomerEmail,
		PickupMethod:        string(o.PickupMethod),
		PaymentMethod:       string(o.PaymentMethod),
		TotalAmount:         o.TotalAmount.String(),
		DiscountAmount:      o.DiscountAmount.String(),
		FinalAmount:         o.FinalAmount.String(),
		Notes:               o.Notes,
		NeedsReconciliation: o.NeedsReconciliation,
		Items:               items,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	lines := make([]order.LineRequest, len(req.Items))
	for i, item := range req.Items {
		lines[i] = order.LineRequest{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			Grind:     order.GrindOption(item.Grind),
		}
	}

	res, err := h.svc.CreateOrder(r.Context(), order.CreateRequest{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		PickupMethod:  order.PickupMethod(req.PickupMethod),
		PaymentMethod: order.PaymentMethod(req.PaymentMethod),
		Notes:         req.Notes,
		Lines:         lines,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		Order:    toOrderResponse(res.Order),
		Warnings: res.Warnings,
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	orders, err := h.orders.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func parseFilter(r *http.Request) (order.Filter, error) {
	var f order.Filter
	q := r.URL.Query()

	if s := q.Get("status"); s != "" {
		status := order.Status(s)
		if !status.Valid() {
			return f, &order.ValidationError{Field: "status", Reason: "unknown status"}
		}
		f.Status = status
	}
	if v := q.Get("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return f, &order.ValidationError{Field: "from", Reason: "expected RFC3339 or YYYY-MM-DD"}
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return f, &order.ValidationError{Field: "to", Reason: "expected RFC3339 or YYYY-MM-DD"}
		}
		// A bare date means the whole day, inclusive.
		if len(v) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.To = t
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByOrderID(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	o, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), order.Status(req.Status), req.UpdatedBy, req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) orderHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.History(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]historyEntry, len(entries))
	for i, e := range entries {
		out[i] = historyEntry{
			Status:    string(e.Status),
			UpdatedBy: e.UpdatedBy,
			Notes:     e.Notes,
			CreatedAt: e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}
