package cache

import (
	"fmt"
	"time"
)

// Cached projections are disposable: short TTLs bound staleness, and
// every write path deletes the affected keys before returning.
var (
	TTLProduct   = 5 * time.Minute
	TTLCart      = time.Minute
	TTLOrder     = 5 * time.Minute
	TTLOrderList = time.Minute
)

func ProductKey(productID string) string { return "product:" + productID }

func CartKey(userID string) string { return "cart:" + userID }

func OrderKey(orderID string) string { return "order:" + orderID }

// UserOrdersPrefix covers every cached page of a user's order list;
// writes invalidate the whole prefix since any page may be affected.
func UserOrdersPrefix(userID string) string { return "user_orders:" + userID + ":" }

func UserOrdersKey(userID string, page, limit int, status string) string {
	return fmt.Sprintf("%s%d:%d:%s", UserOrdersPrefix(userID), page, limit, status)
}
