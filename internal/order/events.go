package order

import "time"

// Lifecycle event types published to the order stream.
const (
	EventOrderCreated   = "order.created"
	EventOrderCompleted = "order.completed"
	EventOrderCancelled = "order.cancelled"
)

// OrderEvent is the message body published on every order state
// transition. Consumers key on OrderID.
type OrderEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	Reference  string    `json:"reference"`
	TotalCents int64     `json:"total_cents"`
	OccurredAt time.Time `json:"occurred_at"`
}
