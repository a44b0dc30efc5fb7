package paypal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Amount is PayPal's money shape: a currency code plus a decimal string.
type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

var hundred = decimal.NewFromInt(100)

// MinorUnits converts the decimal value to integer cents. Fractional cents
// are rejected rather than truncated.
func (a Amount) MinorUnits() (int64, error) {
	value, err := decimal.NewFromString(a.Value)
	if err != nil {
		return 0, fmt.Errorf("paypal: parse amount %q: %w", a.Value, err)
	}
	minor := value.Mul(hundred)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("paypal: amount %q has sub-cent precision", a.Value)
	}
	return minor.IntPart(), nil
}

// Subscriber identifies the paying account on a billing subscription.
type Subscriber struct {
	PayerID      string `json:"payer_id"`
	EmailAddress string `json:"email_address"`
}

// Subscription is a billing agreement as returned by
// GET /v1/billing/subscriptions/{id}.
type Subscription struct {
	ID         string     `json:"id"`
	PlanID     string     `json:"plan_id"`
	Status     string     `json:"status"`
	CreateTime time.Time  `json:"create_time"`
	Subscriber Subscriber `json:"subscriber"`
}

// Transaction is one captured payment on a subscription.
type Transaction struct {
	ID                  string    `json:"id"`
	Status              string    `json:"status"`
	Time                time.Time `json:"time"`
	AmountWithBreakdown struct {
		GrossAmount Amount `json:"gross_amount"`
	} `json:"amount_with_breakdown"`
}

// Completed reports whether the transaction captured funds. Declined and
// pending transactions never reach the ledger.
func (t Transaction) Completed() bool {
	return t.Status == "COMPLETED" || t.Status == "PARTIALLY_REFUNDED" || t.Status == "REFUNDED"
}

// Refund is a refund object from GET /v2/payments/refunds/{id}.
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Amount `json:"amount"`
}
