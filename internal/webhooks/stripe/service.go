package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"

	"github.com/lunamail/billing-backend/internal/alerts"
	"github.com/lunamail/billing-backend/internal/plans"
	"github.com/lunamail/billing-backend/internal/projection"
	"github.com/lunamail/billing-backend/internal/reconcile"
	"github.com/lunamail/billing-backend/internal/users"
	"github.com/lunamail/billing-backend/pkg/db/models"
	pkgerrors "github.com/lunamail/billing-backend/pkg/errors"
	"github.com/lunamail/billing-backend/pkg/logger"
	"github.com/lunamail/billing-backend/pkg/stripeclient"
)

// ServiceParams carries the dependencies for the Stripe webhook processor.
type ServiceParams struct {
	Logger       *logger.Logger
	Users        users.Repository
	Reconciler   *reconcile.Service
	Stripe       stripeclient.API
	Projection   *projection.Service
	Alerts       *alerts.Service
	DisputeDelay time.Duration
}

// Service processes verified Stripe events. Everything here runs after the
// delivery was acknowledged, so errors surface as alerts, never as HTTP
// failures Stripe would retry forever.
type Service struct {
	logger       *logger.Logger
	users        users.Repository
	reconciler   *reconcile.Service
	stripe       stripeclient.API
	projection   *projection.Service
	alerts       *alerts.Service
	disputeDelay time.Duration
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
	if params.Stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Projection == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "projection service required")
	}
	if params.Alerts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "alerts service required")
	}
	return &Service{
		logger:       params.Logger,
		users:        params.Users,
		reconciler:   params.Reconciler,
		stripe:       params.Stripe,
		projection:   params.Projection,
		alerts:       params.Alerts,
		disputeDelay: params.DisputeDelay,
	}, nil
}

// HandleEvent dispatches one verified event. Unknown event types are
// acknowledged and dropped.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logger.WithEventID(ctx, event.ID)

	switch string(event.Type) {
	case "charge.succeeded", "charge.captured", "charge.refunded":
		return s.handleCharge(ctx, event)
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return s.handleCheckoutSession(ctx, event)
	case "checkout.session.async_payment_failed":
		return s.handleCheckoutFailed(ctx, event)
	case "charge.dispute.created":
		return s.handleDispute(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		return s.handleSubscriptionUpserted(ctx, event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	default:
		return nil
	}
}

func (s *Service) handleCharge(ctx context.Context, event *stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge event")
	}
	if charge.PaymentIntent == nil {
		// standalone charges (e.g. created via the dashboard) carry no
		// intent and are invisible to the ledger
		return nil
	}
	if charge.Customer == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "charge has no customer")
	}

	user, err := s.users.FindByStripeCustomerID(ctx, charge.Customer.ID)
	if err != nil {
		return err
	}
	if user == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no user for stripe customer %s", charge.Customer.ID))
	}

	_, err = s.reconciler.SyncStripePaymentIntent(ctx, user, charge.PaymentIntent.ID)
	return err
}

func (s *Service) handleCheckoutSession(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil
	}

	user, err := s.userForSession(ctx, &session)
	if err != nil {
		return err
	}

	items, err := s.stripe.ListCheckoutSessionLineItems(ctx, session.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list checkout line items")
	}
	if len(items) == 0 || items[0].Price == nil || items[0].Price.Product == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("checkout session %s has no priced line item", session.ID))
	}
	plan, ok := plans.PlanForStripeProduct(items[0].Price.Product.ID)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown stripe product %s on session %s", items[0].Price.Product.ID, session.ID))
	}

	// apply the purchase to the subscription projection; plan_set_at only
	// ever moves forward
	sessionAt := time.Unix(session.Created, 0).UTC()
	if user.Plan != plan {
		user.Plan = plan
		if sessionAt.After(user.PlanSetAt) {
			user.PlanSetAt = sessionAt
		}
	}
	if session.Subscription != nil {
		subID := session.Subscription.ID
		user.StripeSubscriptionID = &subID
	}
	if err := s.projection.Refresh(ctx, user); err != nil {
		return err
	}
	if err := s.users.Save(ctx, user); err != nil {
		return err
	}

	if session.PaymentIntent != nil {
		_, err = s.reconciler.SyncStripePaymentIntent(ctx, user, session.PaymentIntent.ID)
		return err
	}
	if session.Subscription != nil {
		return s.syncFirstSubscriptionPayment(ctx, user, session.Subscription.ID)
	}
	return nil
}

// syncFirstSubscriptionPayment pulls the first invoice of a fresh
// subscription into the ledger. Trials have no invoice with an intent yet;
// the invoice webhooks pick those up when the trial converts.
func (s *Service) syncFirstSubscriptionPayment(ctx context.Context, user *models.User, subscriptionID string) error {
	sub, err := s.stripe.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	if sub.Status == stripe.SubscriptionStatusTrialing {
		return nil
	}

	invoices, err := s.stripe.ListInvoicesBySubscription(ctx, subscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscription invoices")
	}
	for _, inv := range invoices {
		if inv.PaymentIntent == nil {
			continue
		}
		if _, err := s.reconciler.SyncStripePaymentIntent(ctx, user, inv.PaymentIntent.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleCheckoutFailed(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
	}

	user, err := s.userForSession(ctx, &session)
	if err != nil {
		return err
	}
	s.alerts.User(ctx, user.Email,
		"Your payment could not be completed",
		"The delayed payment for your plan did not go through. Please try again or use a different payment method.")
	s.logger.Warn(s.logger.WithUserID(ctx, user.ID.String()), "checkout async payment failed")
	return nil
}

// handleDispute accepts the dispute immediately (fighting card disputes on
// a mail subscription is a lost cause), then records the resulting refund,
// cuts the subscription, and bans the account.
func (s *Service) handleDispute(ctx context.Context, event *stripe.Event) error {
	var disp stripe.Dispute
	if err := json.Unmarshal(event.Data.Raw, &disp); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode dispute event")
	}
	if disp.PaymentIntent == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("dispute %s has no payment intent", disp.ID))
	}

	if _, err := s.stripe.CloseDispute(ctx, disp.ID); err != nil {
		// already closed disputes fail here; the refund sync below still runs
		s.logger.Warn(s.logger.WithField(ctx, "dispute_id", disp.ID), "closing dispute failed: "+err.Error())
	}

	// give Stripe a moment to materialize the refund on the charge
	if s.disputeDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.disputeDelay):
		}
	}

	intent, err := s.stripe.GetPaymentIntent(ctx, disp.PaymentIntent.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch disputed payment intent")
	}
	if intent.Customer == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("disputed payment intent %s has no customer", intent.ID))
	}
	user, err := s.users.FindByStripeCustomerID(ctx, intent.Customer.ID)
	if err != nil {
		return err
	}
	if user == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no user for stripe customer %s", intent.Customer.ID))
	}

	if _, err := s.reconciler.SyncStripePaymentIntent(ctx, user, intent.ID); err != nil {
		return err
	}

	if user.HasStripeSubscription() {
		if _, err := s.stripe.CancelSubscription(ctx, *user.StripeSubscriptionID); err != nil {
			s.logger.Warn(s.logger.WithUserID(ctx, user.ID.String()), "canceling subscription after dispute failed: "+err.Error())
		}
		user.StripeSubscriptionID = nil
	}
	user.IsBanned = true
	if err := s.projection.Refresh(ctx, user); err != nil {
		return err
	}
	if err := s.users.Save(ctx, user); err != nil {
		return err
	}

	s.alerts.Admin(ctx,
		fmt.Sprintf("Dispute received for %s", user.Email),
		fmt.Sprintf("Dispute %s on payment intent %s was accepted. The account has been banned and its subscription canceled.", disp.ID, intent.ID))
	return nil
}

func (s *Service) handleSubscriptionUpserted(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	if sub.Customer == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription has no customer")
	}

	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return s.users.SetStripeSubscriptionIDByCustomer(ctx, sub.Customer.ID, sub.ID)
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		return s.users.ClearStripeSubscriptionID(ctx, sub.ID)
	default:
		return nil
	}
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	return s.users.ClearStripeSubscriptionID(ctx, sub.ID)
}

// userForSession resolves the checkout's owner: the client reference id we
// planted at checkout creation wins, the Stripe customer is the fallback.
func (s *Service) userForSession(ctx context.Context, session *stripe.CheckoutSession) (*models.User, error) {
	if session.ClientReferenceID != "" {
		if id, err := uuid.Parse(session.ClientReferenceID); err == nil {
			user, err := s.users.FindByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if user != nil {
				return user, nil
			}
		}
	}
	if session.Customer != nil {
		user, err := s.users.FindByStripeCustomerID(ctx, session.Customer.ID)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no user for checkout session %s", session.ID))
}
