package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emmanuel-dcoder/shopping-api/internal/domain"
)

type ProductRepo struct {
	pool *pgxpool.Pool
}

func NewProductRepo(pool *pgxpool.Pool) *ProductRepo { return &ProductRepo{pool: pool} }

func (r *ProductRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, price_cents, stock_quantity, is_active, created_at, updated_at
		FROM products WHERE id=$1
	`, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.StockQuantity,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AdjustQuantity applies delta to the product's stock, but only if the
// stored quantity still equals expected (the value the caller read).
// A lost race reports domain.ErrConflict so the caller can retry from
// the read step.
func (r *ProductRepo) AdjustQuantity(ctx context.Context, id string, delta, expected int64) (*domain.Product, error) {
	var p domain.Product
	err := r.pool.QueryRow(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE id=$1 AND stock_quantity=$3
		RETURNING id, name, description, price_cents, stock_quantity, is_active, created_at, updated_at
	`, id, delta, expected).Scan(
		&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.StockQuantity,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
