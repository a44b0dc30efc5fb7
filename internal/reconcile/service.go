package reconcile

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lunamail/billing-backend/internal/payments"
	"github.com/lunamail/billing-backend/internal/projection"
	"github.com/lunamail/billing-backend/internal/users"
	"github.com/lunamail/billing-backend/pkg/db/models"
	"github.com/lunamail/billing-backend/pkg/logger"
	"github.com/lunamail/billing-backend/pkg/metrics"
	"github.com/lunamail/billing-backend/pkg/paypal"
	"github.com/lunamail/billing-backend/pkg/stripeclient"
)

// Database runs a function inside a transaction.
type Database interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PayPalAPI is the subset of PayPal operations the reconciler calls.
type PayPalAPI interface {
	GetSubscription(ctx context.Context, id string) (*paypal.Subscription, error)
	ListTransactions(ctx context.Context, subscriptionID string, start, end time.Time) ([]paypal.Transaction, error)
	CancelSubscription(ctx context.Context, id, reason string) error
	GetRefund(ctx context.Context, id string) (*paypal.Refund, error)
}

// ServiceParams carries the dependencies for the reconciler.
type ServiceParams struct {
	Logger     *logger.Logger
	DB         Database
	Payments   payments.Repository
	Users      users.Repository
	Stripe     stripeclient.API
	PayPal     PayPalAPI
	Projection *projection.Service
	Metrics    *metrics.ReconcileMetrics
}

// Service converges the payment ledger on what the providers report. Every
// entry point is idempotent: replaying the same provider object is a no-op.
type Service struct {
	logger     *logger.Logger
	db         Database
	payments   payments.Repository
	users      users.Repository
	stripe     stripeclient.API
	paypal     PayPalAPI
	projection *projection.Service
	metrics    *metrics.ReconcileMetrics
}

// NewService validates params and returns a reconciler. Metrics are
// optional; provider clients may be nil when the binary only serves the
// other provider.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("reconcile: logger is required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("reconcile: database is required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("reconcile: payments repository is required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("reconcile: users repository is required")
	}
	if params.Projection == nil {
		return nil, fmt.Errorf("reconcile: projection service is required")
	}
	return &Service{
		logger:     params.Logger,
		db:         params.DB,
		payments:   params.Payments,
		users:      params.Users,
		stripe:     params.Stripe,
		paypal:     params.PayPal,
		projection: params.Projection,
		metrics:    params.Metrics,
	}, nil
}

func (s *Service) observe(provider string, outcome Outcome) {
	s.metrics.Observe(provider, string(outcome))
}

// persist writes the payment and the refreshed user projection in one
// transaction. create toggles Create vs Save on the payment row.
func (s *Service) persist(ctx context.Context, user *models.User, payment *models.Payment, create bool) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.payments.WithTx(tx)
		if create {
			if err := repo.Create(ctx, payment); err != nil {
				return err
			}
		} else {
			if err := repo.Save(ctx, payment); err != nil {
				return err
			}
		}
		if err := s.projection.RefreshWith(ctx, repo, user); err != nil {
			return err
		}
		return s.users.WithTx(tx).Save(ctx, user)
	})
}
