package domain

import "errors"

var (
	// ErrNotFound is returned when a persisted entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput covers malformed or out-of-range requests,
	// e.g. a zero or negative quantity.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientStock is returned when the requested quantity
	// exceeds the available stock of a product.
	ErrInsufficientStock = errors.New("not enough stock available")

	// ErrConflict signals that a conditional write lost a race with a
	// concurrent writer. It is transient: callers retry the whole
	// read-mutate-commit cycle up to a fixed bound.
	ErrConflict = errors.New("concurrent modification")

	// ErrConflictExhausted is surfaced when a stock adjustment still
	// conflicts after the retry bound. Caller-retryable.
	ErrConflictExhausted = errors.New("stock update failed after multiple attempts")

	// ErrCartConflict is surfaced when a cart mutation still conflicts
	// after the retry bound. Caller-retryable.
	ErrCartConflict = errors.New("cart was modified, please try again")

	// ErrProductNotInCart is returned when an update or removal targets
	// a product line the cart does not contain.
	ErrProductNotInCart = errors.New("product not found in cart")

	// ErrEmptyCart rejects order creation from a cart with no items.
	ErrEmptyCart = errors.New("cannot create order from empty cart")

	// ErrInvalidUser rejects order creation for an unknown user.
	ErrInvalidUser = errors.New("invalid user")

	// ErrPaymentInit is returned when the payment gateway fails to
	// initiate a payment. No state is mutated in that case.
	ErrPaymentInit = errors.New("error initiating payment request")

	// ErrUnknownOrder is returned when a webhook event references an
	// order that does not exist.
	ErrUnknownOrder = errors.New("invalid order")

	// ErrNotPending rejects a webhook event against an order that has
	// already left the pending state. Guarantees at-most-once terminal
	// transitions under duplicate delivery.
	ErrNotPending = errors.New("likely duplicate event or invalid order")

	// ErrSignatureInvalid is returned when a webhook signature does not
	// match the payload.
	ErrSignatureInvalid = errors.New("invalid webhook signature")
)
