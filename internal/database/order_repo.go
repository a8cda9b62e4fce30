package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emmanuel-dcoder/shopping-api/internal/domain"
)

type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo { return &OrderRepo{pool: pool} }

const orderColumns = `id, user_id, items, total_cents, status, reference, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o   domain.Order
		raw []byte
	)
	err := row.Scan(&o.ID, &o.UserID, &raw, &o.TotalCents, &o.Status, &o.Reference, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &o.Items); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepo) Create(ctx context.Context, o *domain.Order) error {
	raw, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO orders (id, user_id, items, total_cents, status, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, o.ID, o.UserID, raw, o.TotalCents, o.Status, o.Reference)
	return err
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepo) GetByReference(ctx context.Context, reference string) (*domain.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE reference=$1`, reference)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateStatusFromPending performs the terminal transition with the
// pending guard in the WHERE clause, so a duplicate delivery racing
// the first one cannot apply the transition twice. Zero matched rows
// reports domain.ErrNotPending.
func (r *OrderRepo) UpdateStatusFromPending(ctx context.Context, reference string, status domain.OrderStatus) (*domain.Order, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE orders
		SET status=$2, updated_at=now()
		WHERE reference=$1 AND status=$3
		RETURNING `+orderColumns,
		reference, status, domain.OrderPending)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotPending
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepo) ListByUser(ctx context.Context, userID string, status domain.OrderStatus, page, limit int) ([]domain.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var total int64
	if err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM orders WHERE user_id=$1 AND ($2='' OR status=$2)
	`, userID, string(status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id=$1 AND ($2='' OR status=$2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, userID, string(status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	return orders, total, rows.Err()
}

// ListStalePending returns pending orders created before the cutoff,
// candidates for the reconciliation sweep.
func (r *OrderRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status=$1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, domain.OrderPending, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
