package users

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lunamail/billing-backend/pkg/db/models"
)

// Repository handles user persistence for the billing engine. Find methods
// return (nil, nil) when no row matches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*models.User, error)
	FindByPayPalSubscriptionID(ctx context.Context, subscriptionID string) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
	SetStripeSubscriptionIDByCustomer(ctx context.Context, customerID, subscriptionID string) error
	ClearStripeSubscriptionID(ctx context.Context, subscriptionID string) error
	ListPayPalCustomers(ctx context.Context) ([]models.User, error)
	ListStripeCustomers(ctx context.Context) ([]models.User, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a user repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	if customerID == "" {
		return nil, nil
	}
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*models.User, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", subscriptionID).
		First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindByPayPalSubscriptionID(ctx context.Context, subscriptionID string) (*models.User, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("paypal_subscription_id = ?", subscriptionID).
		First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) Save(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

func (r *repository) SetStripeSubscriptionIDByCustomer(ctx context.Context, customerID, subscriptionID string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("stripe_customer_id = ?", customerID).
		Update("stripe_subscription_id", subscriptionID).Error
}

func (r *repository) ClearStripeSubscriptionID(ctx context.Context, subscriptionID string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("stripe_subscription_id = ?", subscriptionID).
		Update("stripe_subscription_id", nil).Error
}

// ListPayPalCustomers returns users with any PayPal correlation, newest
// first; the batch sync walks this set sequentially.
func (r *repository) ListPayPalCustomers(ctx context.Context) ([]models.User, error) {
	var rows []models.User
	if err := r.db.WithContext(ctx).
		Where("paypal_subscription_id IS NOT NULL OR paypal_payer_id IS NOT NULL").
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListStripeCustomers returns users with a Stripe customer id, newest first.
func (r *repository) ListStripeCustomers(ctx context.Context) ([]models.User, error) {
	var rows []models.User
	if err := r.db.WithContext(ctx).
		Where("stripe_customer_id IS NOT NULL").
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
