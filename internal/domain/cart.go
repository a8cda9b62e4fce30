package domain

import "time"

// CartItem is a single product line. Name and price are snapshotted
// from the catalog when the line is added, not re-read on every view.
type CartItem struct {
	ProductID  string `json:"product_id"`
	Quantity   int64  `json:"quantity"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

func (i CartItem) SubtotalCents() int64 { return i.Quantity * i.PriceCents }

// Cart holds one user's line items and the running total. One cart per
// user, created lazily on first access. Version backs the conditional
// update: a write commits only if the stored version still matches the
// one that was read.
type Cart struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Items      []CartItem `json:"items"`
	TotalCents int64      `json:"total_cents"`
	Version    int64      `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ItemIndex returns the position of the product's line, or -1.
func (c *Cart) ItemIndex(productID string) int {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}
