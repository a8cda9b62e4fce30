package order

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/emmanuel-dcoder/shopping-api/internal/cache"
	"github.com/emmanuel-dcoder/shopping-api/internal/domain"
)

// Webhook event names sent by the payment gateway.
const (
	WebhookChargeSuccess = "charge.success"
	WebhookChargeFailed  = "charge.failed"
)

// WebhookEvent is the subset of the gateway's webhook payload the
// reconciler acts on.
type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	} `json:"data"`
}

// Reconciler settles pending orders: it applies gateway webhooks and
// sweeps orders whose webhook never arrived.
type Reconciler struct {
	orch       *Orchestrator
	secret     []byte
	pendingAge time.Duration
	logger     *zap.Logger
}

func NewReconciler(orch *Orchestrator, secretKey string, pendingAge time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		orch:       orch,
		secret:     []byte(secretKey),
		pendingAge: pendingAge,
		logger:     logger,
	}
}

// VerifySignature checks the hex-encoded HMAC-SHA512 signature the
// gateway attaches to every webhook delivery.
func (r *Reconciler) VerifySignature(payload []byte, signature string) error {
	mac := hmac.New(sha512.New, r.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

// ApplyEvent settles the referenced order. Only pending orders
// transition; replays and late deliveries return ErrNotPending. A
// failed charge releases every reserved line back to stock.
func (r *Reconciler) ApplyEvent(ctx context.Context, ev WebhookEvent) (*domain.Order, error) {
	o := r.orch

	ord, err := o.orders.GetByReference(ctx, ev.Data.Reference)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: reference %s", domain.ErrUnknownOrder, ev.Data.Reference)
		}
		return nil, fmt.Errorf("load order by reference: %w", err)
	}
	if ord.Status != domain.OrderPending {
		return nil, fmt.Errorf("%w: order %s is %s", domain.ErrNotPending, ord.ID, ord.Status)
	}

	success := ev.Event == WebhookChargeSuccess
	target := domain.OrderCancelled
	eventType := EventOrderCancelled
	if success {
		target = domain.OrderCompleted
		eventType = EventOrderCompleted
	}

	// The conditional update is the authoritative idempotency guard:
	// two concurrent deliveries race here and exactly one wins.
	updated, err := o.orders.UpdateStatusFromPending(ctx, ev.Data.Reference, target)
	if err != nil {
		return nil, err
	}

	if !success {
		for _, it := range updated.Items {
			if _, err := o.stock.Release(ctx, it.ProductID, it.Quantity); err != nil {
				r.logger.Error("release after failed charge",
					zap.String("order_id", updated.ID),
					zap.String("product_id", it.ProductID),
					zap.Error(err),
				)
			}
		}
	}

	if err := o.cache.Delete(ctx, cache.OrderKey(updated.ID)); err != nil {
		r.logger.Warn("order cache invalidation failed", zap.String("order_id", updated.ID), zap.Error(err))
	}
	o.invalidateUserOrders(ctx, updated.UserID)
	o.publish(ctx, eventType, updated)
	o.metrics.IncWebhookEvent(string(target))

	r.logger.Info("order settled",
		zap.String("order_id", updated.ID),
		zap.String("reference", updated.Reference),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

// ReconcileStale settles pending orders older than the configured age
// by asking the gateway for their terminal state. It returns how many
// orders were settled.
func (r *Reconciler) ReconcileStale(ctx context.Context) (int, error) {
	before := time.Now().UTC().Add(-r.pendingAge)

	stale, err := r.orch.orders.ListStalePending(ctx, before, 100)
	if err != nil {
		return 0, fmt.Errorf("list stale pending: %w", err)
	}

	settled := 0
	for _, ord := range stale {
		st, err := r.orch.gateway.VerifyPayment(ctx, ord.Reference)
		if err != nil {
			r.logger.Warn("verify stale order failed",
				zap.String("order_id", ord.ID),
				zap.String("reference", ord.Reference),
				zap.Error(err),
			)
			continue
		}

		ev := WebhookEvent{Event: WebhookChargeFailed}
		if st.Success {
			ev.Event = WebhookChargeSuccess
		}
		ev.Data.Reference = ord.Reference
		ev.Data.Status = st.RawStatus

		if _, err := r.ApplyEvent(ctx, ev); err != nil {
			if errors.Is(err, domain.ErrNotPending) {
				continue
			}
			r.logger.Error("reconcile stale order failed", zap.String("order_id", ord.ID), zap.Error(err))
			continue
		}
		settled++
	}
	return settled, nil
}

// Run sweeps on the given interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.ReconcileStale(ctx)
			if err != nil {
				r.logger.Error("reconcile sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				r.logger.Info("reconcile sweep settled orders", zap.Int("count", n))
			}
		}
	}
}
