package domain

import "time"

// User is resolved during order creation for the payment email.
// Registration and authentication live outside this service.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
