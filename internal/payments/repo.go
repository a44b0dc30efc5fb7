package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lunamail/billing-backend/pkg/db/models"
	"github.com/lunamail/billing-backend/pkg/enums"
)

// Repository handles payment ledger persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	Save(ctx context.Context, payment *models.Payment) error
	ListByUserAndStripeIntent(ctx context.Context, userID uuid.UUID, paymentIntentID string) ([]models.Payment, error)
	ListByUserAndStripeSession(ctx context.Context, userID uuid.UUID, sessionID string) ([]models.Payment, error)
	ListByUserAndPayPalSubscription(ctx context.Context, userID uuid.UUID, subscriptionID string) ([]models.Payment, error)
	CountWithStripePaymentIntentID(ctx context.Context, paymentIntentID string, exclude *uuid.UUID) (int64, error)
	CountWithPayPalTransactionID(ctx context.Context, transactionID string, exclude *uuid.UUID) (int64, error)
	ListQualifyingForExpiry(ctx context.Context, userID uuid.UUID, plan enums.Plan, since time.Time) ([]models.Payment, error)
	DistinctPayPalSubscriptionIDs(ctx context.Context, userID uuid.UUID) ([]string, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) Save(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *repository) ListByUserAndStripeIntent(ctx context.Context, userID uuid.UUID, paymentIntentID string) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND stripe_payment_intent_id = ?", userID, paymentIntentID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByUserAndStripeSession(ctx context.Context, userID uuid.UUID, sessionID string) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND stripe_session_id = ?", userID, sessionID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByUserAndPayPalSubscription(ctx context.Context, userID uuid.UUID, subscriptionID string) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND paypal_subscription_id = ?", userID, subscriptionID).
		Order("invoice_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CountWithStripePaymentIntentID(ctx context.Context, paymentIntentID string, exclude *uuid.UUID) (int64, error) {
	return r.countCorrelation(ctx, "stripe_payment_intent_id", paymentIntentID, exclude)
}

func (r *repository) CountWithPayPalTransactionID(ctx context.Context, transactionID string, exclude *uuid.UUID) (int64, error) {
	return r.countCorrelation(ctx, "paypal_transaction_id", transactionID, exclude)
}

func (r *repository) countCorrelation(ctx context.Context, column, value string, exclude *uuid.UUID) (int64, error) {
	if value == "" {
		return 0, nil
	}
	query := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where(column+" = ?", value)
	if exclude != nil {
		query = query.Where("id <> ?", *exclude)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListQualifyingForExpiry returns the user's payments that participate in
// plan-expiry math: invoiced at or after the plan-set date and matching the
// user's current plan, oldest first.
func (r *repository) ListQualifyingForExpiry(ctx context.Context, userID uuid.UUID, plan enums.Plan, since time.Time) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND plan = ? AND invoice_at >= ?", userID, plan, since).
		Order("invoice_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) DistinctPayPalSubscriptionIDs(ctx context.Context, userID uuid.UUID) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("user_id = ? AND paypal_subscription_id IS NOT NULL", userID).
		Distinct().
		Pluck("paypal_subscription_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
