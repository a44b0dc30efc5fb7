package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lunamail/billing-backend/internal/payments"
	"github.com/lunamail/billing-backend/internal/projection"
	"github.com/lunamail/billing-backend/internal/users"
	"github.com/lunamail/billing-backend/pkg/db/models"
	"github.com/lunamail/billing-backend/pkg/enums"
	"github.com/lunamail/billing-backend/pkg/logger"
	"github.com/lunamail/billing-backend/pkg/paypal"
	stripesdk "github.com/stripe/stripe-go/v76"
)

func setupReconcileTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	usersDDL := `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  plan TEXT NOT NULL DEFAULT 'free',
  plan_set_at DATETIME NOT NULL,
  plan_expires_at DATETIME NOT NULL,
  stripe_customer_id TEXT UNIQUE,
  stripe_subscription_id TEXT,
  paypal_payer_id TEXT,
  paypal_subscription_id TEXT,
  is_banned INTEGER NOT NULL DEFAULT 0,
  api_past_due_sent_at DATETIME,
  api_restricted_sent_at DATETIME,
  payment_reminder_initial_sent_at DATETIME,
  payment_reminder_follow_up_sent_at DATETIME,
  payment_reminder_final_notice_sent_at DATETIME,
  payment_reminder_termination_sent_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	paymentsDDL := `
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  plan TEXT NOT NULL,
  kind TEXT NOT NULL,
  duration TEXT NOT NULL,
  method TEXT,
  exp_month INTEGER,
  exp_year INTEGER,
  last4 TEXT,
  is_apple_pay INTEGER NOT NULL DEFAULT 0,
  is_google_pay INTEGER NOT NULL DEFAULT 0,
  amount INTEGER NOT NULL,
  amount_refunded INTEGER NOT NULL DEFAULT 0,
  is_refund_credit_allowed INTEGER NOT NULL DEFAULT 0,
  stripe_payment_intent_id TEXT UNIQUE,
  stripe_invoice_id TEXT UNIQUE,
  stripe_session_id TEXT UNIQUE,
  stripe_subscription_id TEXT,
  paypal_subscription_id TEXT,
  paypal_transaction_id TEXT UNIQUE,
  reference TEXT,
  invoice_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, conn.Exec(usersDDL).Error)
	require.NoError(t, conn.Exec(paymentsDDL).Error)
	return conn
}

// gormTx adapts a raw test connection to the Database interface.
type gormTx struct {
	conn *gorm.DB
}

func (g *gormTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return g.conn.WithContext(ctx).Transaction(fn)
}

// stubStripeAPI serves canned Stripe objects keyed by id.
type stubStripeAPI struct {
	intents      map[string]*stripesdk.PaymentIntent
	sessions     map[string][]*stripesdk.CheckoutSession
	lineItems    map[string][]*stripesdk.LineItem
	invoices     map[string]*stripesdk.Invoice
	subs         map[string]*stripesdk.Subscription
	subInvoices  map[string][]*stripesdk.Invoice
	custIntents  map[string][]*stripesdk.PaymentIntent
	canceledSubs []string
	closedDisp   []string
}

func (s *stubStripeAPI) GetPaymentIntent(ctx context.Context, id string) (*stripesdk.PaymentIntent, error) {
	if pi, ok := s.intents[id]; ok {
		return pi, nil
	}
	return nil, &stripesdk.Error{Code: stripesdk.ErrorCodeResourceMissing}
}

func (s *stubStripeAPI) ListCheckoutSessionsByIntent(ctx context.Context, paymentIntentID string) ([]*stripesdk.CheckoutSession, error) {
	return s.sessions[paymentIntentID], nil
}

func (s *stubStripeAPI) ListCheckoutSessionLineItems(ctx context.Context, sessionID string) ([]*stripesdk.LineItem, error) {
	return s.lineItems[sessionID], nil
}

func (s *stubStripeAPI) GetInvoice(ctx context.Context, id string) (*stripesdk.Invoice, error) {
	if inv, ok := s.invoices[id]; ok {
		return inv, nil
	}
	return nil, &stripesdk.Error{Code: stripesdk.ErrorCodeResourceMissing}
}

func (s *stubStripeAPI) GetRefund(ctx context.Context, id string) (*stripesdk.Refund, error) {
	return nil, &stripesdk.Error{Code: stripesdk.ErrorCodeResourceMissing}
}

func (s *stubStripeAPI) GetSubscription(ctx context.Context, id string) (*stripesdk.Subscription, error) {
	if sub, ok := s.subs[id]; ok {
		return sub, nil
	}
	return nil, &stripesdk.Error{Code: stripesdk.ErrorCodeResourceMissing}
}

func (s *stubStripeAPI) CancelSubscription(ctx context.Context, id string) (*stripesdk.Subscription, error) {
	s.canceledSubs = append(s.canceledSubs, id)
	return &stripesdk.Subscription{ID: id, Status: stripesdk.SubscriptionStatusCanceled}, nil
}

func (s *stubStripeAPI) CloseDispute(ctx context.Context, id string) (*stripesdk.Dispute, error) {
	s.closedDisp = append(s.closedDisp, id)
	return &stripesdk.Dispute{ID: id}, nil
}

func (s *stubStripeAPI) ListPaymentIntentsByCustomer(ctx context.Context, customerID string) ([]*stripesdk.PaymentIntent, error) {
	return s.custIntents[customerID], nil
}

func (s *stubStripeAPI) ListInvoicesBySubscription(ctx context.Context, subscriptionID string) ([]*stripesdk.Invoice, error) {
	return s.subInvoices[subscriptionID], nil
}

// stubPayPalAPI serves canned PayPal objects keyed by id.
type stubPayPalAPI struct {
	subs         map[string]*paypal.Subscription
	transactions map[string][]paypal.Transaction
	refunds      map[string]*paypal.Refund
	canceled     []string
}

func (s *stubPayPalAPI) GetSubscription(ctx context.Context, id string) (*paypal.Subscription, error) {
	if sub, ok := s.subs[id]; ok {
		return sub, nil
	}
	return nil, paypal.ErrNotFound
}

func (s *stubPayPalAPI) ListTransactions(ctx context.Context, subscriptionID string, start, end time.Time) ([]paypal.Transaction, error) {
	return s.transactions[subscriptionID], nil
}

func (s *stubPayPalAPI) CancelSubscription(ctx context.Context, id, reason string) error {
	s.canceled = append(s.canceled, id)
	return nil
}

func (s *stubPayPalAPI) GetRefund(ctx context.Context, id string) (*paypal.Refund, error) {
	if ref, ok := s.refunds[id]; ok {
		return ref, nil
	}
	return nil, paypal.ErrNotFound
}

type reconcileFixture struct {
	conn     *gorm.DB
	service  *Service
	stripe   *stubStripeAPI
	paypal   *stubPayPalAPI
	payments payments.Repository
	users    users.Repository
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	conn := setupReconcileTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test"})
	paymentRepo := payments.NewRepository(conn)
	userRepo := users.NewRepository(conn)

	proj, err := projection.NewService(projection.ServiceParams{
		Logger:   logg,
		Payments: paymentRepo,
	})
	require.NoError(t, err)

	stripeStub := &stubStripeAPI{
		intents:   map[string]*stripesdk.PaymentIntent{},
		sessions:  map[string][]*stripesdk.CheckoutSession{},
		lineItems: map[string][]*stripesdk.LineItem{},
		invoices:  map[string]*stripesdk.Invoice{},
	}
	paypalStub := &stubPayPalAPI{
		subs:         map[string]*paypal.Subscription{},
		transactions: map[string][]paypal.Transaction{},
		refunds:      map[string]*paypal.Refund{},
	}

	svc, err := NewService(ServiceParams{
		Logger:     logg,
		DB:         &gormTx{conn: conn},
		Payments:   paymentRepo,
		Users:      userRepo,
		Stripe:     stripeStub,
		PayPal:     paypalStub,
		Projection: proj,
	})
	require.NoError(t, err)

	return &reconcileFixture{
		conn:     conn,
		service:  svc,
		stripe:   stripeStub,
		paypal:   paypalStub,
		payments: paymentRepo,
		users:    userRepo,
	}
}

func (f *reconcileFixture) createUser(t *testing.T, plan enums.Plan, planSetAt time.Time) *models.User {
	t.Helper()
	user := &models.User{
		ID:            uuid.New(),
		Email:         uuid.NewString() + "@example.com",
		Plan:          plan,
		PlanSetAt:     planSetAt,
		PlanExpiresAt: planSetAt,
	}
	require.NoError(t, f.conn.Create(user).Error)
	return user
}
