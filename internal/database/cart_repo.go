package database

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emmanuel-dcoder/shopping-api/internal/domain"
)

// Cart rows hold the line items as a single JSONB document plus a
// version counter. Structural updates replace the whole document
// conditionally on the version, which gives the compare-and-swap
// semantics the cart aggregate builds its retry loop on.
type CartRepo struct {
	pool *pgxpool.Pool
}

func NewCartRepo(pool *pgxpool.Pool) *CartRepo { return &CartRepo{pool: pool} }

const cartColumns = `id, user_id, items, total_cents, version, created_at, updated_at`

func scanCart(row pgx.Row) (*domain.Cart, error) {
	var (
		c   domain.Cart
		raw []byte
	)
	err := row.Scan(&c.ID, &c.UserID, &raw, &c.TotalCents, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &c.Items); err != nil {
		return nil, err
	}
	if c.Items == nil {
		c.Items = []domain.CartItem{}
	}
	return &c, nil
}

func (r *CartRepo) GetByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE user_id=$1`, userID)
	c, err := scanCart(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Create inserts an empty cart for the user. The unique constraint on
// user_id turns a concurrent first-access race into domain.ErrConflict;
// the caller re-reads the winner's cart.
func (r *CartRepo) Create(ctx context.Context, c *domain.Cart) error {
	raw, err := json.Marshal(c.Items)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO carts (id, user_id, items, total_cents, version)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.UserID, raw, c.TotalCents, c.Version)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrConflict
	}
	return err
}

// UpdateItems commits a new item document and total, but only if the
// stored version still matches what the caller read. Zero matched rows
// means a concurrent structural change won the race.
func (r *CartRepo) UpdateItems(ctx context.Context, userID string, items []domain.CartItem, totalCents, expectedVersion int64) (*domain.Cart, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE carts
		SET items=$2, total_cents=$3, version=version+1, updated_at=now()
		WHERE user_id=$1 AND version=$4
		RETURNING `+cartColumns,
		userID, raw, totalCents, expectedVersion)
	c, err := scanCart(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Clear resets the cart to empty via upsert, so it works whether or
// not the user has a cart row yet. Repeated calls are idempotent.
func (r *CartRepo) Clear(ctx context.Context, userID, newID string) (*domain.Cart, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO carts (id, user_id, items, total_cents, version)
		VALUES ($1, $2, '[]'::jsonb, 0, 1)
		ON CONFLICT (user_id) DO UPDATE
		SET items='[]'::jsonb, total_cents=0, version=carts.version+1, updated_at=now()
		RETURNING `+cartColumns,
		newID, userID)
	return scanCart(row)
}
