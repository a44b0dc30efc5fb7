package stripeclient

import (
	"context"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/dispute"
	"github.com/stripe/stripe-go/v76/invoice"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/subscription"
)

// API is the subset of Stripe operations the billing engine calls. Services
// depend on this interface so tests can stub the provider.
type API interface {
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	ListCheckoutSessionsByIntent(ctx context.Context, paymentIntentID string) ([]*stripe.CheckoutSession, error)
	ListCheckoutSessionLineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error)
	GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error)
	GetRefund(ctx context.Context, id string) (*stripe.Refund, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CloseDispute(ctx context.Context, id string) (*stripe.Dispute, error)
	ListPaymentIntentsByCustomer(ctx context.Context, customerID string) ([]*stripe.PaymentIntent, error)
	ListInvoicesBySubscription(ctx context.Context, subscriptionID string) ([]*stripe.Invoice, error)
}

type api struct{}

// NewAPI wraps the package-level Stripe bindings behind the API interface.
// The client must have been initialized first so the global key is set.
func NewAPI(client *Client) API {
	if client == nil {
		return nil
	}
	return &api{}
}

// GetPaymentIntent fetches an intent with its latest charge expanded, which
// carries the card details and refund totals the ledger records.
func (a *api) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	return paymentintent.Get(id, params)
}

func (a *api) ListCheckoutSessionsByIntent(ctx context.Context, paymentIntentID string) ([]*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionListParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx
	var sessions []*stripe.CheckoutSession
	iter := session.List(params)
	for iter.Next() {
		sessions = append(sessions, iter.CheckoutSession())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (a *api) ListCheckoutSessionLineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx
	var items []*stripe.LineItem
	iter := session.ListLineItems(params)
	for iter.Next() {
		items = append(items, iter.LineItem())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (a *api) GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	return invoice.Get(id, params)
}

func (a *api) GetRefund(ctx context.Context, id string) (*stripe.Refund, error) {
	params := &stripe.RefundParams{}
	params.Context = ctx
	return refund.Get(id, params)
}

func (a *api) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return subscription.Get(id, params)
}

func (a *api) CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	return subscription.Cancel(id, params)
}

func (a *api) CloseDispute(ctx context.Context, id string) (*stripe.Dispute, error) {
	params := &stripe.DisputeParams{}
	params.Context = ctx
	return dispute.Close(id, params)
}

func (a *api) ListPaymentIntentsByCustomer(ctx context.Context, customerID string) ([]*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	params.AddExpand("data.latest_charge")
	var intents []*stripe.PaymentIntent
	iter := paymentintent.List(params)
	for iter.Next() {
		intents = append(intents, iter.PaymentIntent())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return intents, nil
}

func (a *api) ListInvoicesBySubscription(ctx context.Context, subscriptionID string) ([]*stripe.Invoice, error) {
	params := &stripe.InvoiceListParams{
		Subscription: stripe.String(subscriptionID),
	}
	params.Context = ctx
	var invoices []*stripe.Invoice
	iter := invoice.List(params)
	for iter.Next() {
		invoices = append(invoices, iter.Invoice())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}
