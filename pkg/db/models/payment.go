package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lunamail/billing-backend/pkg/enums"
)

// Payment is one row per real-world payment or refund event observed at a
// billing provider. Rows are created exactly once by whichever channel sees
// the provider object first and are only ever refined afterwards, never
// deleted.
type Payment struct {
	ID     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`

	Plan     enums.Plan        `gorm:"column:plan;not null"`
	Kind     enums.PaymentKind `gorm:"column:kind;not null"`
	Duration enums.Duration    `gorm:"column:duration;not null"`

	// Method is a card brand, a wallet type, "paypal", or one of the
	// refund-immune internal methods.
	Method     string `gorm:"column:method;not null"`
	ExpMonth   *int64 `gorm:"column:exp_month"`
	ExpYear    *int64 `gorm:"column:exp_year"`
	Last4      string `gorm:"column:last4"`
	IsApplePay bool   `gorm:"column:is_apple_pay;not null;default:false"`
	IsGooglePay bool  `gorm:"column:is_google_pay;not null;default:false"`

	Amount         int64 `gorm:"column:amount;not null"`
	AmountRefunded int64 `gorm:"column:amount_refunded;not null;default:0"`

	// IsRefundCreditAllowed is a manual override so a specific refund does
	// not reduce plan credit (e.g. refunds issued for our own outages).
	IsRefundCreditAllowed bool `gorm:"column:is_refund_credit_allowed;not null;default:false"`

	// Provider correlation keys. Each of the starred ones is unique when
	// present (partial unique index); subscription ids repeat across the
	// payments of one subscription.
	StripePaymentIntentID *string `gorm:"column:stripe_payment_intent_id;uniqueIndex"`
	StripeInvoiceID       *string `gorm:"column:stripe_invoice_id;uniqueIndex"`
	StripeSessionID       *string `gorm:"column:stripe_session_id;uniqueIndex"`
	StripeSubscriptionID  *string `gorm:"column:stripe_subscription_id;index"`
	PayPalSubscriptionID  *string `gorm:"column:paypal_subscription_id;index"`
	PayPalTransactionID   *string `gorm:"column:paypal_transaction_id;uniqueIndex"`

	Reference string `gorm:"column:reference"`

	// InvoiceAt is the provider's authoritative transaction time and drives
	// plan-expiry math; it is distinct from CreatedAt.
	InvoiceAt time.Time `gorm:"column:invoice_at;not null;index"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an id client-side so inserts behave the same on
// drivers without a uuid default.
func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// CountsForCredit reports whether the payment advances plan expiry.
func (p *Payment) CountsForCredit() bool {
	if p.IsRefundCreditAllowed {
		return true
	}
	if p.AmountRefunded == 0 {
		return true
	}
	return enums.IsRefundImmuneMethod(p.Method)
}
