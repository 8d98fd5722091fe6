package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roastline/orderd/internal/domain/order"
)

func testEvent() order.Event {
	return order.Event{
		Type:       order.EventOrderCreated,
		OccurredAt: time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
		Order: &order.Order{
			OrderID:       "ORD-20250601-7K2M",
			Status:        order.StatusPending,
			CustomerName:  "Ada Chen",
			CustomerPhone: "+62811000111",
			CustomerEmail: "ada@example.com",
			PickupMethod:  order.PickupSelf,
			PaymentMethod: order.PaymentCash,
			TotalAmount:   decimal.RequireFromString("29.00"),
			FinalAmount:   decimal.RequireFromString("29.00"),
			CreatedAt:     time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
			Lines: []order.Line{
				{
					ProductID:   "prod-1",
					VariantID:   "var-1",
					ProductName: "House Blend 250g",
					UnitPrice:   decimal.RequireFromString("14.50"),
					Quantity:    2,
					Grind:       order.GrindHandDrip,
					Subtotal:    decimal.RequireFromString("29.00"),
				},
			},
		},
	}
}

func TestWebhook_SendPayload(t *testing.T) {
	var (
		gotBody   []byte
		gotSecret string
		gotType   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Webhook-Secret")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "s3cret", zaptest.NewLogger(t))
	require.NoError(t, w.send(context.Background(), testEvent()))

	assert.Equal(t, "s3cret", gotSecret)
	assert.Equal(t, "application/json", gotType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "order.created", payload["event"])
	assert.NotContains(t, payload, "previous_status")

	o, ok := payload["order"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ORD-20250601-7K2M", o["order_id"])
	assert.Equal(t, "pending", o["status"])
	assert.Equal(t, "29", o["total_amount"])
	assert.Equal(t, "0", o["discount_amount"])

	items, ok := o["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "var-1", item["variant_id"])
	assert.Equal(t, float64(2), item["quantity"])
	assert.Equal(t, "hand_drip", item["grind_option"])
}

func TestWebhook_StatusUpdatedCarriesPreviousStatus(t *testing.T) {
	ev := testEvent()
	ev.Type = order.EventStatusUpdated
	ev.PrevStatus = order.StatusPending
	ev.Order.Status = order.StatusProcessing

	var payload map[string]any
	require.NoError(t, json.Unmarshal(encodeEvent(ev), &payload))
	assert.Equal(t, "order.status_updated", payload["event"])
	assert.Equal(t, "pending", payload["previous_status"])
	assert.Equal(t, "processing", payload["order"].(map[string]any)["status"])
}

func TestWebhook_SendRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "", zaptest.NewLogger(t))
	err := w.send(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhook_NotifyIsFireAndForget(t *testing.T) {
	delivered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- struct{}{}
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "", zaptest.NewLogger(t))

	// Cancelled caller context must not abort delivery.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Notify(ctx, testEvent())

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was never delivered")
	}
}

func TestWebhook_DisabledWithoutURL(t *testing.T) {
	w := NewWebhook("", "secret", zaptest.NewLogger(t))
	// Must be a no-op rather than an attempted dial.
	w.Notify(context.Background(), testEvent())
}
