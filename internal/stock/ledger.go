package stock

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/emmanuel-dcoder/shopping-api/internal/cache"
	"github.com/emmanuel-dcoder/shopping-api/internal/config"
	"github.com/emmanuel-dcoder/shopping-api/internal/domain"
	"github.com/emmanuel-dcoder/shopping-api/internal/observability"
	"github.com/emmanuel-dcoder/shopping-api/internal/pkg/retry"
)

// ProductStore is the persistence the ledger drives. AdjustQuantity is
// conditional: it commits only if the stored quantity still equals the
// value the ledger read, and reports domain.ErrConflict otherwise.
type ProductStore interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	AdjustQuantity(ctx context.Context, id string, delta, expected int64) (*domain.Product, error)
}

// Ledger owns the available quantity of every product. All mutation
// goes through Adjust's optimistic read-check-commit loop; no other
// component writes stock directly.
type Ledger struct {
	products    ProductStore
	cache       cache.Store
	retryPolicy config.Retry
	logger      *zap.Logger
	metrics     observability.Metrics
}

func NewLedger(products ProductStore, store cache.Store, retryPolicy config.Retry, logger *zap.Logger, metrics observability.Metrics) *Ledger {
	return &Ledger{
		products:    products,
		cache:       store,
		retryPolicy: retryPolicy,
		logger:      logger,
		metrics:     metrics,
	}
}

// Product is the cached read-through used for snapshots and advisory
// checks. Cache failures degrade to a miss.
func (l *Ledger) Product(ctx context.Context, productID string) (*domain.Product, error) {
	key := cache.ProductKey(productID)

	var cached domain.Product
	ok, err := l.cache.Get(ctx, key, &cached)
	if err != nil {
		l.logger.Warn("product cache read failed", zap.String("product_id", productID), zap.Error(err))
	}
	if ok {
		l.metrics.IncCacheHit("product")
		return &cached, nil
	}
	l.metrics.IncCacheMiss("product")

	p, err := l.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	if err := l.cache.Set(ctx, key, p, cache.TTLProduct); err != nil {
		l.logger.Warn("product cache write failed", zap.String("product_id", productID), zap.Error(err))
	}
	return p, nil
}

// CheckAvailability reports whether qty is currently available. It is
// advisory only: stock may be depleted between the check and a later
// reservation.
func (l *Ledger) CheckAvailability(ctx context.Context, productID string, qty int64) (bool, error) {
	p, err := l.Product(ctx, productID)
	if err != nil {
		return false, err
	}
	return qty <= p.StockQuantity, nil
}

// Adjust applies delta to the product's quantity (negative reserves,
// positive releases). Each attempt re-reads the current quantity,
// fails fast if the result would go negative, and commits with a
// conditional write. Lost races retry up to the policy bound; the
// bound exhausting surfaces domain.ErrConflictExhausted, which callers
// treat as retryable at their level.
func (l *Ledger) Adjust(ctx context.Context, productID string, delta int64) (*domain.Product, error) {
	var updated *domain.Product

	err := retry.Do(ctx, l.retryPolicy, func() error {
		p, err := l.products.GetByID(ctx, productID)
		if err != nil {
			return retry.Permanent(err)
		}
		if p.StockQuantity+delta < 0 {
			return retry.Permanent(fmt.Errorf("%w for product %s", domain.ErrInsufficientStock, p.Name))
		}

		updated, err = l.products.AdjustQuantity(ctx, productID, delta, p.StockQuantity)
		if errors.Is(err, domain.ErrConflict) {
			l.metrics.IncStockConflict()
			return err
		}
		return err
	})
	if errors.Is(err, domain.ErrConflict) {
		l.logger.Warn("stock adjustment exhausted retries",
			zap.String("product_id", productID),
			zap.Int64("delta", delta),
		)
		return nil, fmt.Errorf("%w: product %s", domain.ErrConflictExhausted, productID)
	}
	if err != nil {
		return nil, err
	}

	if err := l.cache.Delete(ctx, cache.ProductKey(productID)); err != nil {
		l.logger.Warn("product cache invalidation failed", zap.String("product_id", productID), zap.Error(err))
	}

	l.logger.Info("stock adjusted",
		zap.String("product_id", productID),
		zap.Int64("delta", delta),
		zap.Int64("stock_quantity", updated.StockQuantity),
	)
	return updated, nil
}

// Reserve takes qty units out of stock.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int64) (*domain.Product, error) {
	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidInput)
	}
	return l.Adjust(ctx, productID, -qty)
}

// Release returns qty units to stock, compensating an earlier Reserve.
func (l *Ledger) Release(ctx context.Context, productID string, qty int64) (*domain.Product, error) {
	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidInput)
	}
	return l.Adjust(ctx, productID, qty)
}
