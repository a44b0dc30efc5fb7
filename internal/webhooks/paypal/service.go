package paypalwebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lunamail/billing-backend/internal/alerts"
	"github.com/lunamail/billing-backend/internal/plans"
	"github.com/lunamail/billing-backend/internal/projection"
	"github.com/lunamail/billing-backend/internal/reconcile"
	"github.com/lunamail/billing-backend/internal/users"
	"github.com/lunamail/billing-backend/pkg/db/models"
	pkgerrors "github.com/lunamail/billing-backend/pkg/errors"
	"github.com/lunamail/billing-backend/pkg/logger"
	"github.com/lunamail/billing-backend/pkg/paypal"
)

// Event is a PayPal webhook delivery envelope.
type Event struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

type subscriptionResource struct {
	ID         string    `json:"id"`
	PlanID     string    `json:"plan_id"`
	Status     string    `json:"status"`
	CustomID   string    `json:"custom_id"`
	StartTime  time.Time `json:"start_time"`
	Subscriber struct {
		PayerID string `json:"payer_id"`
	} `json:"subscriber"`
}

type saleResource struct {
	ID                 string    `json:"id"`
	State              string    `json:"state"`
	CreateTime         time.Time `json:"create_time"`
	BillingAgreementID string    `json:"billing_agreement_id"`
	Amount             struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

// ServiceParams carries the dependencies for the PayPal webhook processor.
type ServiceParams struct {
	Logger     *logger.Logger
	Users      users.Repository
	Reconciler *reconcile.Service
	PayPal     reconcile.PayPalAPI
	Projection *projection.Service
	Alerts     *alerts.Service
}

// Service processes verified PayPal events after acknowledgment.
type Service struct {
	logger     *logger.Logger
	users      users.Repository
	reconciler *reconcile.Service
	paypal     reconcile.PayPalAPI
	projection *projection.Service
	alerts     *alerts.Service
}

// NewService validates params and returns the processor.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "users repo required")
	}
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	if params.PayPal == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paypal client required")
	}
	if params.Projection == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "projection service required")
	}
	if params.Alerts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "alerts service required")
	}
	return &Service{
		logger:     params.Logger,
		users:      params.Users,
		reconciler: params.Reconciler,
		paypal:     params.PayPal,
		projection: params.Projection,
		alerts:     params.Alerts,
	}, nil
}

// HandleEvent dispatches one verified event. Unknown types are dropped.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil || len(event.Resource) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "paypal event resource required")
	}
	ctx = s.logger.WithEventID(ctx, event.ID)

	switch event.EventType {
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		return s.handleSubscriptionActivated(ctx, event)
	case "BILLING.SUBSCRIPTION.CANCELLED",
		"BILLING.SUBSCRIPTION.SUSPENDED",
		"BILLING.SUBSCRIPTION.EXPIRED":
		return s.handleSubscriptionTerminated(ctx, event)
	case "PAYMENT.SALE.COMPLETED":
		return s.handleSaleCompleted(ctx, event)
	default:
		return nil
	}
}

func (s *Service) handleSubscriptionActivated(ctx context.Context, event *Event) error {
	var res subscriptionResource
	if err := json.Unmarshal(event.Resource, &res); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription resource")
	}

	user, err := s.userForSubscription(ctx, &res)
	if err != nil {
		return err
	}

	plan, _, err := plans.ForPayPalPlan(res.PlanID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "resolve paypal plan")
	}

	subID := res.ID
	user.PayPalSubscriptionID = &subID
	if res.Subscriber.PayerID != "" {
		payerID := res.Subscriber.PayerID
		user.PayPalPayerID = &payerID
	}
	if user.Plan != plan {
		user.Plan = plan
		startAt := res.StartTime.UTC()
		if startAt.IsZero() {
			startAt = time.Now().UTC()
		}
		if startAt.After(user.PlanSetAt) {
			user.PlanSetAt = startAt
		}
	}
	if err := s.projection.Refresh(ctx, user); err != nil {
		return err
	}
	if err := s.users.Save(ctx, user); err != nil {
		return err
	}
	s.logger.Info(s.logger.WithUserID(ctx, user.ID.String()), "paypal subscription activated")
	return nil
}

func (s *Service) handleSubscriptionTerminated(ctx context.Context, event *Event) error {
	var res subscriptionResource
	if err := json.Unmarshal(event.Resource, &res); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription resource")
	}

	user, err := s.users.FindByPayPalSubscriptionID(ctx, res.ID)
	if err != nil {
		return err
	}
	if user == nil {
		// the batch sync already detached it, nothing to do
		return nil
	}
	user.PayPalSubscriptionID = nil
	if err := s.users.Save(ctx, user); err != nil {
		return err
	}
	s.logger.Info(s.logger.WithUserID(ctx, user.ID.String()), "paypal subscription detached: "+event.EventType)
	return nil
}

func (s *Service) handleSaleCompleted(ctx context.Context, event *Event) error {
	var res saleResource
	if err := json.Unmarshal(event.Resource, &res); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode sale resource")
	}
	if res.BillingAgreementID == "" {
		// one-off sale outside a subscription; the ledger only tracks plans
		return nil
	}

	user, err := s.users.FindByPayPalSubscriptionID(ctx, res.BillingAgreementID)
	if err != nil {
		return err
	}
	if user == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no user for paypal subscription %s", res.BillingAgreementID))
	}

	sub, err := s.paypal.GetSubscription(ctx, res.BillingAgreementID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch paypal subscription")
	}
	plan, duration, err := plans.ForPayPalPlan(sub.PlanID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "resolve paypal plan")
	}

	txn := paypal.Transaction{
		ID:     res.ID,
		Status: "COMPLETED",
		Time:   res.CreateTime,
	}
	txn.AmountWithBreakdown.GrossAmount = paypal.Amount{
		CurrencyCode: res.Amount.Currency,
		Value:        res.Amount.Total,
	}

	_, err = s.reconciler.SyncPayPalTransaction(ctx, user, sub, plan, duration, txn)
	return err
}

func (s *Service) userForSubscription(ctx context.Context, res *subscriptionResource) (*models.User, error) {
	if res.CustomID != "" {
		if id, err := uuid.Parse(res.CustomID); err == nil {
			user, err := s.users.FindByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if user != nil {
				return user, nil
			}
		}
	}
	user, err := s.users.FindByPayPalSubscriptionID(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no user for paypal subscription %s", res.ID))
}
