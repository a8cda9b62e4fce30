package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emmanuel-dcoder/shopping-api/internal/cache"
	"github.com/emmanuel-dcoder/shopping-api/internal/config"
	"github.com/emmanuel-dcoder/shopping-api/internal/domain"
	"github.com/emmanuel-dcoder/shopping-api/internal/observability"
	"github.com/emmanuel-dcoder/shopping-api/internal/pkg/retry"
)

//go:generate mockgen -destination=cache_mock_test.go -package=cart github.com/emmanuel-dcoder/shopping-api/internal/cache Store

// CartStore persists carts. UpdateItems is conditional on the version
// the caller read and reports domain.ErrConflict on a lost race;
// Create reports domain.ErrConflict when another request created the
// user's cart first.
type CartStore interface {
	GetByUser(ctx context.Context, userID string) (*domain.Cart, error)
	Create(ctx context.Context, c *domain.Cart) error
	UpdateItems(ctx context.Context, userID string, items []domain.CartItem, totalCents, expectedVersion int64) (*domain.Cart, error)
	Clear(ctx context.Context, userID, newID string) (*domain.Cart, error)
}

// Catalog is the slice of the stock ledger the cart needs: price/name
// snapshots and advisory availability checks.
type Catalog interface {
	Product(ctx context.Context, productID string) (*domain.Product, error)
	CheckAvailability(ctx context.Context, productID string, qty int64) (bool, error)
}

// Service is the cart aggregate. Every mutation runs as a single
// conditional document update with bounded retry, and invalidates the
// per-user cache entry as its last step so the cache never outlives a
// successful write.
type Service struct {
	carts       CartStore
	stock       Catalog
	cache       cache.Store
	retryPolicy config.Retry
	logger      *zap.Logger
	metrics     observability.Metrics
}

func NewService(carts CartStore, stock Catalog, store cache.Store, retryPolicy config.Retry, logger *zap.Logger, metrics observability.Metrics) *Service {
	return &Service{
		carts:       carts,
		stock:       stock,
		cache:       store,
		retryPolicy: retryPolicy,
		logger:      logger,
		metrics:     metrics,
	}
}

// GetOrCreate returns the user's cart, creating an empty one lazily on
// first access. Reads go cache-first with a short TTL.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	key := cache.CartKey(userID)

	var cached domain.Cart
	ok, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("cart cache read failed", zap.String("user_id", userID), zap.Error(err))
	}
	if ok {
		s.metrics.IncCacheHit("cart")
		return &cached, nil
	}
	s.metrics.IncCacheMiss("cart")

	c, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, c, cache.TTLCart); err != nil {
		s.logger.Warn("cart cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
	return c, nil
}

// load reads the authoritative cart, creating it if absent. A create
// race is resolved by re-reading the winner's row.
func (s *Service) load(ctx context.Context, userID string) (*domain.Cart, error) {
	c, err := s.carts.GetByUser(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	fresh := &domain.Cart{
		ID:      uuid.NewString(),
		UserID:  userID,
		Items:   []domain.CartItem{},
		Version: 1,
	}
	switch err := s.carts.Create(ctx, fresh); {
	case err == nil:
		return fresh, nil
	case errors.Is(err, domain.ErrConflict):
		return s.carts.GetByUser(ctx, userID)
	default:
		return nil, err
	}
}

// AddItem appends a product line, or increments an existing one, as an
// atomic conditional update. The combined quantity must not exceed the
// available stock.
func (s *Service) AddItem(ctx context.Context, userID, productID string, qty int64) (*domain.Cart, error) {
	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidInput)
	}

	product, err := s.stock.Product(ctx, productID)
	if err != nil {
		return nil, err
	}
	if ok, err := s.stock.CheckAvailability(ctx, productID, qty); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w for product %s", domain.ErrInsufficientStock, product.Name)
	}

	updated, err := s.mutate(ctx, userID, func(c *domain.Cart) error {
		if i := c.ItemIndex(productID); i >= 0 {
			combined := c.Items[i].Quantity + qty
			if ok, err := s.stock.CheckAvailability(ctx, productID, combined); err != nil {
				return retry.Permanent(err)
			} else if !ok {
				return retry.Permanent(fmt.Errorf(
					"%w: adding %d more of %s would exceed available stock",
					domain.ErrInsufficientStock, qty, product.Name))
			}
			c.Items[i].Quantity = combined
		} else {
			c.Items = append(c.Items, domain.CartItem{
				ProductID:  productID,
				Quantity:   qty,
				Name:       product.Name,
				PriceCents: product.PriceCents,
			})
		}
		c.TotalCents += qty * product.PriceCents
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("item added to cart",
		zap.String("user_id", userID),
		zap.String("product_id", productID),
		zap.Int64("quantity", qty),
	)
	return updated, nil
}

// UpdateItemQuantity sets a line's quantity outright. Zero delegates
// to RemoveItem, matching the remove semantics exactly.
func (s *Service) UpdateItemQuantity(ctx context.Context, userID, productID string, qty int64) (*domain.Cart, error) {
	if qty < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", domain.ErrInvalidInput)
	}
	if qty == 0 {
		return s.RemoveItem(ctx, userID, productID)
	}

	if ok, err := s.stock.CheckAvailability(ctx, productID, qty); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w for product %s", domain.ErrInsufficientStock, productID)
	}

	updated, err := s.mutate(ctx, userID, func(c *domain.Cart) error {
		i := c.ItemIndex(productID)
		if i < 0 {
			return retry.Permanent(fmt.Errorf("%w: %s", domain.ErrProductNotInCart, productID))
		}
		// Signed delta against the line's snapshotted price.
		c.TotalCents += (qty - c.Items[i].Quantity) * c.Items[i].PriceCents
		c.Items[i].Quantity = qty
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("cart item quantity updated",
		zap.String("user_id", userID),
		zap.String("product_id", productID),
		zap.Int64("quantity", qty),
	)
	return updated, nil
}

// RemoveItem drops the product's line and subtracts its frozen
// subtotal from the running total.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	updated, err := s.mutate(ctx, userID, func(c *domain.Cart) error {
		i := c.ItemIndex(productID)
		if i < 0 {
			return retry.Permanent(fmt.Errorf("%w: %s", domain.ErrProductNotInCart, productID))
		}
		c.TotalCents -= c.Items[i].SubtotalCents()
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("item removed from cart",
		zap.String("user_id", userID),
		zap.String("product_id", productID),
	)
	return updated, nil
}

// Clear resets the cart to empty. Used after successful order
// creation; safe to repeat.
func (s *Service) Clear(ctx context.Context, userID string) (*domain.Cart, error) {
	c, err := s.carts.Clear(ctx, userID, uuid.NewString())
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)
	return c, nil
}

// mutate runs the read-mutate-commit cycle under the retry policy. A
// conditional write that reports no match (concurrent structural
// change) restarts from a fresh read; surviving conflicts surface as
// domain.ErrCartConflict. The user's cache entry is dropped after a
// successful commit.
func (s *Service) mutate(ctx context.Context, userID string, apply func(*domain.Cart) error) (*domain.Cart, error) {
	var updated *domain.Cart

	err := retry.Do(ctx, s.retryPolicy, func() error {
		c, err := s.load(ctx, userID)
		if err != nil {
			return retry.Permanent(err)
		}

		work := *c
		work.Items = append([]domain.CartItem(nil), c.Items...)
		if err := apply(&work); err != nil {
			return err
		}

		updated, err = s.carts.UpdateItems(ctx, userID, work.Items, work.TotalCents, c.Version)
		return err
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil, fmt.Errorf("%w: user %s", domain.ErrCartConflict, userID)
	}
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	return updated, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, cache.CartKey(userID)); err != nil {
		s.logger.Warn("cart cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}
