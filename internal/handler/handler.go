// Package handler exposes the order engine over HTTP.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/roastline/orderd/internal/domain/catalog"
	"github.com/roastline/orderd/internal/domain/order"
)

// Handler serves the order API. Reads go straight to the repository;
// writes go through the orchestrating service.
type Handler struct {
	svc    *order.Service
	orders order.Repository
	lg     *zap.Logger
}

// NewHandler wires the API around the order service and repository.
func NewHandler(svc *order.Service, orders order.Repository, lg *zap.Logger) *Handler {
	return &Handler{svc: svc, orders: orders, lg: lg}
}

// Routes returns the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{orderID}", h.getOrder)
		r.Patch("/{orderID}/status", h.updateStatus)
		r.Get("/{orderID}/history", h.orderHistory)
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps the engine's error taxonomy onto HTTP status codes.
// Malformed input is 400, unknown resources 404, lost transition races 409,
// and stock or catalog rejections of a well-formed request 422.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *order.ValidationError
		quantityErr   *order.InvalidQuantityError
		inactiveErr   *order.InactiveProductError
		stockErr      *order.InsufficientStockError
		transitionErr *order.InvalidStatusTransitionError
	)
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationErr.Error(), Field: validationErr.Field})
	case errors.Is(err, order.ErrEmptyLines), errors.As(err, &quantityErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, order.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &transitionErr), errors.Is(err, order.ErrStatusConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &stockErr), errors.As(err, &inactiveErr), errors.Is(err, catalog.ErrVariantRequired):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		h.lg.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
