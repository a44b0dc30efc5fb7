package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lunamail/billing-backend/pkg/enums"
)

// User carries the subscription projection owned by the billing engine.
// PlanExpiresAt is derived state: it is recomputed from the user's full
// qualifying payment history on every save, never patched incrementally.
type User struct {
	ID    uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email string    `gorm:"column:email;not null;unique"`

	Plan enums.Plan `gorm:"column:plan;not null;default:'free'"`

	// PlanSetAt marks when the current tier became effective. It only ever
	// moves forward, when a newer payment is observed.
	PlanSetAt     time.Time `gorm:"column:plan_set_at;not null"`
	PlanExpiresAt time.Time `gorm:"column:plan_expires_at;not null"`

	StripeCustomerID     *string `gorm:"column:stripe_customer_id;uniqueIndex"`
	StripeSubscriptionID *string `gorm:"column:stripe_subscription_id;index"`
	PayPalPayerID        *string `gorm:"column:paypal_payer_id;index"`
	PayPalSubscriptionID *string `gorm:"column:paypal_subscription_id;index"`

	IsBanned bool `gorm:"column:is_banned;not null;default:false"`

	// Dunning markers. Cleared by the expiry projector once the plan is paid
	// up again so a re-subscribing user stops receiving stale reminders.
	APIPastDueSentAt                    *time.Time `gorm:"column:api_past_due_sent_at"`
	APIRestrictedSentAt                 *time.Time `gorm:"column:api_restricted_sent_at"`
	PaymentReminderInitialSentAt        *time.Time `gorm:"column:payment_reminder_initial_sent_at"`
	PaymentReminderFollowUpSentAt       *time.Time `gorm:"column:payment_reminder_follow_up_sent_at"`
	PaymentReminderFinalNoticeSentAt    *time.Time `gorm:"column:payment_reminder_final_notice_sent_at"`
	PaymentReminderTerminationSentAt    *time.Time `gorm:"column:payment_reminder_termination_sent_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an id client-side so inserts behave the same on
// drivers without a uuid default.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// HasStripeSubscription reports whether an active Stripe subscription
// correlation is stored.
func (u *User) HasStripeSubscription() bool {
	return u.StripeSubscriptionID != nil && *u.StripeSubscriptionID != ""
}

// HasPayPalSubscription reports whether an active PayPal subscription
// correlation is stored.
func (u *User) HasPayPalSubscription() bool {
	return u.PayPalSubscriptionID != nil && *u.PayPalSubscriptionID != ""
}
