// Package notify delivers denormalized order events to a configured HTTP
// endpoint. Delivery is strictly best-effort: the dispatcher never blocks
// its caller, never retries, and never lets a delivery failure reach the
// order engine.
package notify

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/roastline/orderd/internal/domain/order"
)

const (
	dispatchTimeout = 10 * time.Second
	secretHeader    = "X-Webhook-Secret"
)

var _ order.Notifier = (*Webhook)(nil)

// Webhook posts order events as JSON to a single endpoint. An empty URL
// disables dispatch entirely.
type Webhook struct {
	url    string
	secret string
	client *http.Client
	lg     *zap.Logger
}

// NewWebhook creates a dispatcher for the given endpoint. secret, when
// non-empty, is sent on every request in the X-Webhook-Secret header.
func NewWebhook(url, secret string, lg *zap.Logger) *Webhook {
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: dispatchTimeout},
		lg:     lg,
	}
}

// Notify hands the event off to a background goroutine and returns
// immediately. The delivery uses its own deadline, detached from the
// request context, so an already-answered request cannot cancel it.
func (w *Webhook) Notify(ctx context.Context, ev order.Event) {
	if w.url == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		defer cancel()
		if err := w.send(ctx, ev); err != nil {
			w.lg.Warn("notification dispatch failed",
				zap.String("event", string(ev.Type)),
				zap.String("order_id", ev.Order.OrderID),
				zap.Error(err),
			)
		}
	}()
}

func (w *Webhook) send(ctx context.Context, ev order.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(encodeEvent(ev)))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(secretHeader, w.secret)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// encodeEvent builds the denormalized JSON payload. Monetary amounts are
// encoded as strings to keep their exact decimal representation.
func encodeEvent(ev order.Event) []byte {
	o := ev.Order
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("event", func(e *jx.Encoder) { e.Str(string(ev.Type)) })
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(ev.OccurredAt.Format(time.RFC3339)) })
		if ev.Type == order.EventStatusUpdated {
			e.Field("previous_status", func(e *jx.Encoder) { e.Str(string(ev.PrevStatus)) })
		}
		e.Field("order", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("order_id", func(e *jx.Encoder) { e.Str(o.OrderID) })
				e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
				e.Field("customer_name", func(e *jx.Encoder) { e.Str(o.CustomerName) })
				e.Field("customer_phone", func(e *jx.Encoder) { e.Str(o.CustomerPhone) })
				e.Field("customer_email", func(e *jx.Encoder) { e.Str(o.CustomerEmail) })
				e.Field("pickup_method", func(e *jx.Encoder) { e.Str(string(o.PickupMethod)) })
				e.Field("payment_method", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
				e.Field("total_amount", func(e *jx.Encoder) { e.Str(o.TotalAmount.String()) })
				e.Field("discount_amount", func(e *jx.Encoder) { e.Str(o.DiscountAmount.String()) })
				e.Field("final_amount", func(e *jx.Encoder) { e.Str(o.FinalAmount.String()) })
				if o.Notes != "" {
					e.Field("notes", func(e *jx.Encoder) { e.Str(o.Notes) })
				}
				e.Field("items", func(e *jx.Encoder) {
					e.Arr(func(e *jx.Encoder) {
						for _, line := range o.Lines {
							e.Obj(func(e *jx.Encoder) {
								e.Field("product_id", func(e *jx.Encoder) { e.Str(line.ProductID) })
								if line.VariantID != "" {
									e.Field("variant_id", func(e *jx.Encoder) { e.Str(line.VariantID) })
								}
								e.Field("product_name", func(e *jx.Encoder) { e.Str(line.ProductName) })
								e.Field("quantity", func(e *jx.Encoder) { e.Int(line.Quantity) })
								e.Field("unit_price", func(e *jx.Encoder) { e.Str(line.UnitPrice.String()) })
								e.Field("grind_option", func(e *jx.Encoder) { e.Str(string(line.Grind)) })
								e.Field("subtotal", func(e *jx.Encoder) { e.Str(line.Subtotal.String()) })
							})
						}
					})
				})
				e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.Format(time.RFC3339)) })
			})
		})
	})
	return e.Bytes()
}
