package domain

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderItem is a frozen copy of a cart line at order-creation time.
type OrderItem struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	PriceCents    int64  `json:"price_cents"`
	Quantity      int64  `json:"quantity"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

// Order transitions pending -> {completed, cancelled} exactly once.
// Reference is the unique external payment reference correlating the
// order with provider notifications.
type Order struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	Items      []OrderItem `json:"items"`
	TotalCents int64       `json:"total_cents"`
	Status     OrderStatus `json:"status"`
	Reference  string      `json:"reference"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// OrderPage is one page of a user's order history.
type OrderPage struct {
	Orders []Order `json:"orders"`
	Total  int64   `json:"total"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
}

// PaymentIntent is what the gateway returns when a payment is
// initiated; the caller is redirected to AuthorizationURL.
type PaymentIntent struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
}

// PaymentStatus is the gateway's verdict on a payment reference.
type PaymentStatus struct {
	Success   bool   `json:"success"`
	RawStatus string `json:"raw_status"`
}
