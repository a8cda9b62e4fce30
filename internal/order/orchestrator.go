// Package order coordinates checkout across the cart, the stock
// ledger and the payment gateway, and reconciles payment outcomes
// delivered by webhook.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emmanuel-dcoder/shopping-api/internal/cache"
	"github.com/emmanuel-dcoder/shopping-api/internal/domain"
	"github.com/emmanuel-dcoder/shopping-api/internal/observability"
)

type UserStore interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

type OrderStore interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByReference(ctx context.Context, reference string) (*domain.Order, error)
	UpdateStatusFromPending(ctx context.Context, reference string, status domain.OrderStatus) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string, status domain.OrderStatus, page, limit int) ([]domain.Order, int64, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

type CartService interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error)
	Clear(ctx context.Context, userID string) (*domain.Cart, error)
}

type StockService interface {
	CheckAvailability(ctx context.Context, productID string, qty int64) (bool, error)
	Reserve(ctx context.Context, productID string, qty int64) (*domain.Product, error)
	Release(ctx context.Context, productID string, qty int64) (*domain.Product, error)
}

type Gateway interface {
	InitiatePayment(ctx context.Context, amountCents int64, email string) (*domain.PaymentIntent, error)
	VerifyPayment(ctx context.Context, reference string) (*domain.PaymentStatus, error)
}

// Publisher emits order lifecycle events. A nil Publisher disables
// publishing.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// CheckoutResult carries the pending order together with the checkout
// URL the user must be redirected to.
type CheckoutResult struct {
	Order   *domain.Order         `json:"order"`
	Payment *domain.PaymentIntent `json:"payment"`
}

type Orchestrator struct {
	users     UserStore
	orders    OrderStore
	carts     CartService
	stock     StockService
	gateway   Gateway
	publisher Publisher
	cache     cache.Store
	logger    *zap.Logger
	metrics   observability.Metrics
}

func NewOrchestrator(
	users UserStore,
	orders OrderStore,
	carts CartService,
	stock StockService,
	gateway Gateway,
	publisher Publisher,
	store cache.Store,
	logger *zap.Logger,
	metrics observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		users:     users,
		orders:    orders,
		carts:     carts,
		stock:     stock,
		gateway:   gateway,
		publisher: publisher,
		cache:     store,
		logger:    logger,
		metrics:   metrics,
	}
}

// Checkout turns the user's cart into a pending order. The payment
// intent is created before any state changes, so a gateway failure
// leaves cart and stock untouched. Stock is reserved immediately; the
// reservation is released again only if the payment later fails.
func (o *Orchestrator) Checkout(ctx context.Context, userID string) (*CheckoutResult, error) {
	user, err := o.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidUser, userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	crt, err := o.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(crt.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	// Advisory pre-check to fail fast before touching the gateway.
	// The reserve step below is the authoritative one.
	for _, it := range crt.Items {
		ok, err := o.stock.CheckAvailability(ctx, it.ProductID, it.Quantity)
		if err != nil {
			return nil, fmt.Errorf("check availability: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: product %s", domain.ErrInsufficientStock, it.ProductID)
		}
	}

	intent, err := o.gateway.InitiatePayment(ctx, crt.TotalCents, user.Email)
	if err != nil {
		return nil, err
	}

	items := make([]domain.OrderItem, 0, len(crt.Items))
	for _, it := range crt.Items {
		items = append(items, domain.OrderItem{
			ProductID:     it.ProductID,
			Name:          it.Name,
			PriceCents:    it.PriceCents,
			Quantity:      it.Quantity,
			SubtotalCents: it.SubtotalCents(),
		})
	}

	now := time.Now().UTC()
	ord := &domain.Order{
		ID:         uuid.NewString(),
		UserID:     userID,
		Items:      items,
		TotalCents: crt.TotalCents,
		Status:     domain.OrderPending,
		Reference:  intent.Reference,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.orders.Create(ctx, ord); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	for _, it := range ord.Items {
		if _, err := o.stock.Reserve(ctx, it.ProductID, it.Quantity); err != nil {
			return nil, fmt.Errorf("reserve product %s: %w", it.ProductID, err)
		}
	}

	if _, err := o.carts.Clear(ctx, userID); err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}

	o.invalidateUserOrders(ctx, userID)
	o.publish(ctx, EventOrderCreated, ord)
	o.metrics.IncOrderCreated()

	o.logger.Info("order created",
		zap.String("order_id", ord.ID),
		zap.String("user_id", userID),
		zap.String("reference", ord.Reference),
		zap.Int64("total_cents", ord.TotalCents),
	)
	return &CheckoutResult{Order: ord, Payment: intent}, nil
}

// GetOrder returns the order if it belongs to the user.
func (o *Orchestrator) GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	key := cache.OrderKey(orderID)

	var cached domain.Order
	found, err := o.cache.Get(ctx, key, &cached)
	if err != nil {
		o.logger.Warn("order cache get failed", zap.String("key", key), zap.Error(err))
	}
	if found {
		o.metrics.IncCacheHit("order")
		if cached.UserID != userID {
			return nil, domain.ErrNotFound
		}
		return &cached, nil
	}
	o.metrics.IncCacheMiss("order")

	ord, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.UserID != userID {
		return nil, domain.ErrNotFound
	}

	if err := o.cache.Set(ctx, key, ord, cache.TTLOrder); err != nil {
		o.logger.Warn("order cache set failed", zap.String("key", key), zap.Error(err))
	}
	return ord, nil
}

// ListUserOrders returns one page of the user's orders, optionally
// filtered by status. Page numbers start at 1.
func (o *Orchestrator) ListUserOrders(ctx context.Context, userID string, status domain.OrderStatus, page, limit int) (*domain.OrderPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	key := cache.UserOrdersKey(userID, page, limit, string(status))

	var cached domain.OrderPage
	found, err := o.cache.Get(ctx, key, &cached)
	if err != nil {
		o.logger.Warn("order list cache get failed", zap.String("key", key), zap.Error(err))
	}
	if found {
		o.metrics.IncCacheHit("order_list")
		return &cached, nil
	}
	o.metrics.IncCacheMiss("order_list")

	orders, total, err := o.orders.ListByUser(ctx, userID, status, page, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	pageResult := &domain.OrderPage{Orders: orders, Total: total, Page: page, Limit: limit}

	if err := o.cache.Set(ctx, key, pageResult, cache.TTLOrderList); err != nil {
		o.logger.Warn("order list cache set failed", zap.String("key", key), zap.Error(err))
	}
	return pageResult, nil
}

func (o *Orchestrator) invalidateUserOrders(ctx context.Context, userID string) {
	if err := o.cache.DeletePrefix(ctx, cache.UserOrdersPrefix(userID)); err != nil {
		o.logger.Warn("order list cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, ord *domain.Order) {
	if o.publisher == nil {
		return
	}
	ev := OrderEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		OrderID:    ord.ID,
		UserID:     ord.UserID,
		Reference:  ord.Reference,
		TotalCents: ord.TotalCents,
		OccurredAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		o.logger.Error("marshal order event", zap.Error(err))
		return
	}
	if err := o.publisher.Publish(ctx, ord.ID, payload); err != nil {
		o.logger.Warn("publish order event failed",
			zap.String("type", eventType),
			zap.String("order_id", ord.ID),
			zap.Error(err),
		)
	}
}
