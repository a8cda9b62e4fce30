package stock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emmanuel-dcoder/shopping-api/internal/cache"
	"github.com/emmanuel-dcoder/shopping-api/internal/config"
	"github.com/emmanuel-dcoder/shopping-api/internal/domain"
	"github.com/emmanuel-dcoder/shopping-api/internal/observability"
)

// fakeProductStore implements the conditional-write contract the real
// repository has: AdjustQuantity commits only when the stored quantity
// still equals the expected value.
type fakeProductStore struct {
	mu       sync.Mutex
	products map[string]*domain.Product

	// forceConflicts makes the next N conditional writes lose the race.
	forceConflicts int
	adjustCalls    int
}

func newFakeProductStore(products ...*domain.Product) *fakeProductStore {
	s := &fakeProductStore{products: make(map[string]*domain.Product)}
	for _, p := range products {
		cp := *p
		s.products[p.ID] = &cp
	}
	return s
}

func (s *fakeProductStore) GetByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeProductStore) AdjustQuantity(_ context.Context, id string, delta, expected int64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjustCalls++
	if s.forceConflicts > 0 {
		s.forceConflicts--
		return nil, domain.ErrConflict
	}
	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.StockQuantity != expected {
		return nil, domain.ErrConflict
	}
	p.StockQuantity += delta
	cp := *p
	return &cp, nil
}

func (s *fakeProductStore) quantity(id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].StockQuantity
}

func newTestLedger(t *testing.T, store ProductStore) (*Ledger, *cache.Memory) {
	t.Helper()
	mem, err := cache.NewMemory(64)
	require.NoError(t, err)

	policy := config.Retry{Attempts: 5, Base: time.Millisecond, Max: 5 * time.Millisecond}
	return NewLedger(store, mem, policy, zap.NewNop(), observability.NewNoop()), mem
}

func phone(stock int64) *domain.Product {
	return &domain.Product{
		ID:            "p1",
		Name:          "Smartphone XYZ",
		PriceCents:    99999,
		StockQuantity: stock,
		IsActive:      true,
	}
}

func TestReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	store := newFakeProductStore(phone(5))
	ledger, _ := newTestLedger(t, store)

	p, err := ledger.Reserve(ctx, "p1", 3)
	require.NoError(t, err)
	require.EqualValues(t, 2, p.StockQuantity)

	p, err = ledger.Release(ctx, "p1", 3)
	require.NoError(t, err)
	require.EqualValues(t, 5, p.StockQuantity)
}

func TestReserveWithZeroAttemptPolicy(t *testing.T) {
	ctx := context.Background()
	store := newFakeProductStore(phone(5))

	mem, err := cache.NewMemory(64)
	require.NoError(t, err)
	ledger := NewLedger(store, mem, config.Retry{Attempts: 0, Base: time.Millisecond, Max: time.Millisecond}, zap.NewNop(), observability.NewNoop())

	// A zero retry bound still performs the write exactly once.
	p, err := ledger.Reserve(ctx, "p1", 1)
	require.NoError(t, err)
	require.EqualValues(t, 4, p.StockQuantity)
	require.EqualValues(t, 4, store.quantity("p1"))
}

func TestReserveInsufficientStockLeavesQuantityUnchanged(t *testing.T) {
	ctx := context.Background()
	store := newFakeProductStore(phone(2))
	ledger, _ := newTestLedger(t, store)

	_, err := ledger.Reserve(ctx, "p1", 3)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.EqualValues(t, 2, store.quantity("p1"))

	// Only the read happened; the fail-fast check never reached the write.
	require.Zero(t, store.adjustCalls)
}

func TestReserveUnknownProduct(t *testing.T) {
	store := newFakeProductStore()
	ledger, _ := newTestLedger(t, store)

	_, err := ledger.Reserve(context.Background(), "ghost", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReserveInvalidQuantity(t *testing.T) {
	store := newFakeProductStore(phone(5))
	ledger, _ := newTestLedger(t, store)

	_, err := ledger.Reserve(context.Background(), "p1", 0)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAdjustRetriesThroughConflicts(t *testing.T) {
	ctx := context.Background()
	store := newFakeProductStore(phone(5))
	store.forceConflicts = 2
	ledger, _ := newTestLedger(t, store)

	p, err := ledger.Reserve(ctx, "p1", 1)
	require.NoError(t, err)
	require.EqualValues(t, 4, p.StockQuantity)
	require.Equal(t, 3, store.adjustCalls)
}

func TestAdjustConflictExhausted(t *testing.T) {
	ctx := context.Background()
	store := newFakeProductStore(phone(5))
	store.forceConflicts = 100
	ledger, _ := newTestLedger(t, store)

	_, err := ledger.Reserve(ctx, "p1", 1)
	require.ErrorIs(t, err, domain.ErrConflictExhausted)
	require.Equal(t, 5, store.adjustCalls)
	require.EqualValues(t, 5, store.quantity("p1"))
}

func TestCheckAvailability(t *testing.T) {
	ctx := context.Background()
	store := newFakeProductStore(phone(5))
	ledger, _ := newTestLedger(t, store)

	ok, err := ledger.CheckAvailability(ctx, "p1", 5)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ledger.CheckAvailability(ctx, "p1", 6)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdjustInvalidatesProductCache(t *testing.T) {
	ctx := context.Background()
	store := newFakeProductStore(phone(5))
	ledger, mem := newTestLedger(t, store)

	// Populate the cache, then mutate and verify the entry is gone.
	_, err := ledger.Product(ctx, "p1")
	require.NoError(t, err)

	var cached domain.Product
	ok, err := mem.Get(ctx, cache.ProductKey("p1"), &cached)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = ledger.Reserve(ctx, "p1", 1)
	require.NoError(t, err)

	ok, err = mem.Get(ctx, cache.ProductKey("p1"), &cached)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConcurrentReservationsNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	store := newFakeProductStore(phone(100))
	ledger, _ := newTestLedger(t, store)

	const callers = 20
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(ctx, "p1", 2)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 100-callers*2, store.quantity("p1"))
}

func TestConcurrentReservationDepletesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newFakeProductStore(phone(1))
	ledger, _ := newTestLedger(t, store)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := ledger.Reserve(ctx, "p1", 1)
			results <- err
		}()
	}

	var succeeded, rejected int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			succeeded++
		default:
			// The loser either saw depleted stock on re-read or ran out
			// of retries against the winner.
			rejected++
		}
	}

	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, rejected)
	require.EqualValues(t, 0, store.quantity("p1"))
}
