package order

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emmanuel-dcoder/shopping-api/internal/domain"
)

const testSecret = "sk_test_secret"

func newTestReconciler(t *testing.T) (*Reconciler, *fixture) {
	t.Helper()
	f := newFixture(t)
	return NewReconciler(f.orch, testSecret, 30*time.Minute, zap.NewNop()), f
}

func sign(payload []byte) string {
	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func checkout(t *testing.T, f *fixture) *domain.Order {
	t.Helper()
	f.fillCart(
		domain.CartItem{ProductID: "p1", Quantity: 2, Name: "Wireless Headphones", PriceCents: 19999},
		domain.CartItem{ProductID: "p2", Quantity: 1, Name: "Smart Watch", PriceCents: 24999},
	)
	res, err := f.orch.Checkout(context.Background(), "u1")
	require.NoError(t, err)
	return res.Order
}

func successEvent(reference string) WebhookEvent {
	ev := WebhookEvent{Event: WebhookChargeSuccess}
	ev.Data.Reference = reference
	ev.Data.Status = "success"
	return ev
}

func failedEvent(reference string) WebhookEvent {
	ev := WebhookEvent{Event: WebhookChargeFailed}
	ev.Data.Reference = reference
	ev.Data.Status = "failed"
	return ev
}

func TestVerifySignature(t *testing.T) {
	r, _ := newTestReconciler(t)
	payload := []byte(`{"event":"charge.success"}`)

	require.NoError(t, r.VerifySignature(payload, sign(payload)))
	require.ErrorIs(t, r.VerifySignature(payload, "deadbeef"), domain.ErrSignatureInvalid)
	require.ErrorIs(t, r.VerifySignature([]byte(`tampered`), sign(payload)), domain.ErrSignatureInvalid)
}

func TestApplyEventChargeSuccess(t *testing.T) {
	ctx := context.Background()
	r, f := newTestReconciler(t)
	ord := checkout(t, f)

	updated, err := r.ApplyEvent(ctx, successEvent(ord.Reference))
	require.NoError(t, err)
	require.Equal(t, domain.OrderCompleted, updated.Status)

	// Stock stays reserved on success.
	require.Empty(t, f.stock.releases)
	require.Equal(t, []string{EventOrderCreated, EventOrderCompleted}, f.publisher.types())

	persisted, err := f.orders.GetByReference(ctx, ord.Reference)
	require.NoError(t, err)
	require.Equal(t, domain.OrderCompleted, persisted.Status)
}

func TestApplyEventChargeFailedReleasesStock(t *testing.T) {
	ctx := context.Background()
	r, f := newTestReconciler(t)
	ord := checkout(t, f)

	updated, err := r.ApplyEvent(ctx, failedEvent(ord.Reference))
	require.NoError(t, err)
	require.Equal(t, domain.OrderCancelled, updated.Status)

	// Every reserved line goes back.
	require.Equal(t, []string{"p1:2", "p2:1"}, f.stock.releases)
	require.EqualValues(t, 10, f.stock.stock["p1"])
	require.EqualValues(t, 5, f.stock.stock["p2"])
	require.Equal(t, []string{EventOrderCreated, EventOrderCancelled}, f.publisher.types())
}

func TestApplyEventUnknownReference(t *testing.T) {
	r, _ := newTestReconciler(t)

	_, err := r.ApplyEvent(context.Background(), successEvent("no-such-ref"))
	require.ErrorIs(t, err, domain.ErrUnknownOrder)
}

func TestApplyEventDoubleDelivery(t *testing.T) {
	ctx := context.Background()
	r, f := newTestReconciler(t)
	ord := checkout(t, f)

	_, err := r.ApplyEvent(ctx, successEvent(ord.Reference))
	require.NoError(t, err)

	// Replay of the same delivery must be a no-op.
	_, err = r.ApplyEvent(ctx, successEvent(ord.Reference))
	require.ErrorIs(t, err, domain.ErrNotPending)

	// Contradicting late delivery cannot flip the outcome either.
	_, err = r.ApplyEvent(ctx, failedEvent(ord.Reference))
	require.ErrorIs(t, err, domain.ErrNotPending)
	require.Empty(t, f.stock.releases)
}

func TestApplyEventInvalidatesOrderCache(t *testing.T) {
	ctx := context.Background()
	r, f := newTestReconciler(t)
	ord := checkout(t, f)

	// Warm the cache with the pending order.
	got, err := f.orch.GetOrder(ctx, "u1", ord.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderPending, got.Status)

	_, err = r.ApplyEvent(ctx, successEvent(ord.Reference))
	require.NoError(t, err)

	got, err = f.orch.GetOrder(ctx, "u1", ord.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderCompleted, got.Status)
}

func TestReconcileStale(t *testing.T) {
	ctx := context.Background()
	r, f := newTestReconciler(t)

	success := checkout(t, f)
	failed := checkout(t, f)
	fresh := checkout(t, f)

	// Age the first two past the sweep threshold.
	f.orders.mu.Lock()
	old := time.Now().UTC().Add(-time.Hour)
	f.orders.orders[success.Reference].CreatedAt = old
	f.orders.orders[failed.Reference].CreatedAt = old
	f.orders.mu.Unlock()

	f.gateway.statuses[success.Reference] = &domain.PaymentStatus{Success: true, RawStatus: "success"}
	f.gateway.statuses[failed.Reference] = &domain.PaymentStatus{Success: false, RawStatus: "abandoned"}

	n, err := r.ReconcileStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := f.orders.GetByReference(ctx, success.Reference)
	require.NoError(t, err)
	require.Equal(t, domain.OrderCompleted, got.Status)

	got, err = f.orders.GetByReference(ctx, failed.Reference)
	require.NoError(t, err)
	require.Equal(t, domain.OrderCancelled, got.Status)

	// The order inside the grace window is untouched.
	got, err = f.orders.GetByReference(ctx, fresh.Reference)
	require.NoError(t, err)
	require.Equal(t, domain.OrderPending, got.Status)
}

func TestReconcileStaleSkipsUnverifiable(t *testing.T) {
	ctx := context.Background()
	r, f := newTestReconciler(t)

	ord := checkout(t, f)
	f.orders.mu.Lock()
	f.orders.orders[ord.Reference].CreatedAt = time.Now().UTC().Add(-time.Hour)
	f.orders.mu.Unlock()

	// No gateway status registered: verification fails and the order
	// stays pending for the next sweep.
	n, err := r.ReconcileStale(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := f.orders.GetByReference(ctx, ord.Reference)
	require.NoError(t, err)
	require.Equal(t, domain.OrderPending, got.Status)
}
