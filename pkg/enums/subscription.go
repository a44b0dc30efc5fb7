package enums

import "strings"

// PayPal subscription statuses that end the billing relationship. After a
// sync pass over such a subscription the correlation id is removed from the
// owning user.
const (
	PayPalSubscriptionSuspended = "SUSPENDED"
	PayPalSubscriptionCancelled = "CANCELLED"
	PayPalSubscriptionExpired   = "EXPIRED"
)

// IsTerminalPayPalSubscriptionStatus reports whether the subscription no
// longer produces new transactions.
func IsTerminalPayPalSubscriptionStatus(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case PayPalSubscriptionSuspended, PayPalSubscriptionCancelled, PayPalSubscriptionExpired:
		return true
	}
	return false
}
