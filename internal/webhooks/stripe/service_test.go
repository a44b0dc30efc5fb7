package stripewebhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripesdk "github.com/stripe/stripe-go/v76"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lunamail/billing-backend/internal/alerts"
	"github.com/lunamail/billing-backend/internal/payments"
	"github.com/lunamail/billing-backend/internal/projection"
	"github.com/lunamail/billing-backend/internal/reconcile"
	"github.com/lunamail/billing-backend/internal/users"
	"github.com/lunamail/billing-backend/pkg/db/models"
	"github.com/lunamail/billing-backend/pkg/enums"
	"github.com/lunamail/billing-backend/pkg/logger"
	"github.com/lunamail/billing-backend/pkg/mailer"
	"github.com/lunamail/billing-backend/pkg/paypal"
)

var eventAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func setupWebhookTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, conn.Exec(`
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
);`).Error)
	require.NoError(t, conn.Exec(`
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
);`).Error)
	return conn
}

type gormTx struct {
	conn *gorm.DB
}

func (g *gormTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return g.conn.WithContext(ctx).Transaction(fn)
}

type stubStripeAPI struct {
	intents     map[string]*stripesdk.PaymentIntent
	sessions    map[string][]*stripesdk.CheckoutSession
	lineItems   map[string][]*stripesdk.LineItem
	invoices    map[string]*stripesdk.Invoice
	subs        map[string]*stripesdk.Subscription
	subInvoices map[string][]*stripesdk.Invoice
	canceled    []string
	closed      []string
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
	s.canceled = append(s.canceled, id)
	return &stripesdk.Subscription{ID: id, Status: stripesdk.SubscriptionStatusCanceled}, nil
}

func (s *stubStripeAPI) CloseDispute(ctx context.Context, id string) (*stripesdk.Dispute, error) {
	s.closed = append(s.closed, id)
	return &stripesdk.Dispute{ID: id}, nil
}

func (s *stubStripeAPI) ListPaymentIntentsByCustomer(ctx context.Context, customerID string) ([]*stripesdk.PaymentIntent, error) {
	return nil, nil
}

func (s *stubStripeAPI) ListInvoicesBySubscription(ctx context.Context, subscriptionID string) ([]*stripesdk.Invoice, error) {
	return s.subInvoices[subscriptionID], nil
}

type stubPayPalAPI struct{}

func (s *stubPayPalAPI) GetSubscription(ctx context.Context, id string) (*paypal.Subscription, error) {
	return nil, paypal.ErrNotFound
}

func (s *stubPayPalAPI) ListTransactions(ctx context.Context, subscriptionID string, start, end time.Time) ([]paypal.Transaction, error) {
	return nil, nil
}

func (s *stubPayPalAPI) CancelSubscription(ctx context.Context, id, reason string) error {
	return nil
}

func (s *stubPayPalAPI) GetRefund(ctx context.Context, id string) (*paypal.Refund, error) {
	return nil, paypal.ErrNotFound
}

type recordingMailer struct {
	sent []mailer.Message
}

func (m *recordingMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type webhookFixture struct {
	conn    *gorm.DB
	service *Service
	stripe  *stubStripeAPI
	mailer  *recordingMailer
	users   users.Repository
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	conn := setupWebhookTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test"})
	paymentRepo := payments.NewRepository(conn)
	userRepo := users.NewRepository(conn)

	proj, err := projection.NewService(projection.ServiceParams{Logger: logg, Payments: paymentRepo})
	require.NoError(t, err)

	stripeStub := &stubStripeAPI{
		intents:     map[string]*stripesdk.PaymentIntent{},
		sessions:    map[string][]*stripesdk.CheckoutSession{},
		lineItems:   map[string][]*stripesdk.LineItem{},
		invoices:    map[string]*stripesdk.Invoice{},
		subs:        map[string]*stripesdk.Subscription{},
		subInvoices: map[string][]*stripesdk.Invoice{},
	}

	reconciler, err := reconcile.NewService(reconcile.ServiceParams{
		Logger:     logg,
		DB:         &gormTx{conn: conn},
		Payments:   paymentRepo,
		Users:      userRepo,
		Stripe:     stripeStub,
		PayPal:     &stubPayPalAPI{},
		Projection: proj,
	})
	require.NoError(t, err)

	rec := &recordingMailer{}
	alertSvc, err := alerts.NewService(alerts.ServiceParams{
		Logger:     logg,
		Mailer:     rec,
		AdminEmail: "ops@example.com",
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Logger:     logg,
		Users:      userRepo,
		Reconciler: reconciler,
		Stripe:     stripeStub,
		Projection: proj,
		Alerts:     alertSvc,
	})
	require.NoError(t, err)

	return &webhookFixture{
		conn:    conn,
		service: svc,
		stripe:  stripeStub,
		mailer:  rec,
		users:   userRepo,
	}
}

func (f *webhookFixture) createUser(t *testing.T, customerID string) *models.User {
	t.Helper()
	user := &models.User{
		ID:               uuid.New(),
		Email:            uuid.NewString() + "@example.com",
		Plan:             enums.PlanFree,
		PlanSetAt:        eventAt.AddDate(0, -1, 0),
		PlanExpiresAt:    eventAt.AddDate(0, -1, 0),
		StripeCustomerID: &customerID,
	}
	require.NoError(t, f.conn.Create(user).Error)
	return user
}

func stripeEvent(t *testing.T, eventType string, payload any) *stripesdk.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &stripesdk.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: stripesdk.EventType(eventType),
		Data: &stripesdk.EventData{Raw: raw},
	}
}

func TestHandleEvent_UnknownTypeIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	event := stripeEvent(t, "customer.created", map[string]string{"id": "cus_1"})
	require.NoError(t, f.service.HandleEvent(context.Background(), event))
}

func TestHandleEvent_SubscriptionCreatedStoresID(t *testing.T) {
	f := newWebhookFixture(t)
	user := f.createUser(t, "cus_1")

	event := stripeEvent(t, "customer.subscription.created", map[string]any{
		"id":       "sub_1",
		"status":   "active",
		"customer": map[string]string{"id": "cus_1"},
	})
	require.NoError(t, f.service.HandleEvent(context.Background(), event))

	fresh, err := f.users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.StripeSubscriptionID)
	assert.Equal(t, "sub_1", *fresh.StripeSubscriptionID)
}

func TestHandleEvent_SubscriptionDeletedClearsID(t *testing.T) {
	f := newWebhookFixture(t)
	user := f.createUser(t, "cus_1")
	subID := "sub_1"
	user.StripeSubscriptionID = &subID
	require.NoError(t, f.conn.Save(user).Error)

	event := stripeEvent(t, "customer.subscription.deleted", map[string]any{
		"id":       "sub_1",
		"status":   "canceled",
		"customer": map[string]string{"id": "cus_1"},
	})
	require.NoError(t, f.service.HandleEvent(context.Background(), event))

	fresh, err := f.users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Nil(t, fresh.StripeSubscriptionID)
}

func TestHandleEvent_CheckoutCompletedUpgradesPlanAndReconciles(t *testing.T) {
	f := newWebhookFixture(t)
	user := f.createUser(t, "cus_1")

	f.stripe.intents["pi_1"] = &stripesdk.PaymentIntent{
		ID:      "pi_1",
		Amount:  900,
		Status:  stripesdk.PaymentIntentStatusSucceeded,
		Created: eventAt.Unix(),
		LatestCharge: &stripesdk.Charge{
			ID: "ch_1",
			PaymentMethodDetails: &stripesdk.ChargePaymentMethodDetails{
				Type: "card",
				Card: &stripesdk.ChargePaymentMethodDetailsCard{Brand: "visa", Last4: "4242", ExpMonth: 4, ExpYear: 2028},
			},
		},
	}
	f.stripe.sessions["pi_1"] = []*stripesdk.CheckoutSession{{ID: "cs_1"}}
	f.stripe.lineItems["cs_1"] = []*stripesdk.LineItem{{
		Price: &stripesdk.Price{
			ID:      "price_1L0IhrFjcK3YBSOyT30d001",
			Product: &stripesdk.Product{ID: "prod_LfNsMRVmLkXFAY"},
		},
	}}

	event := stripeEvent(t, "checkout.session.completed", map[string]any{
		"id":                  "cs_1",
		"payment_status":      "paid",
		"created":             eventAt.Unix(),
		"client_reference_id": user.ID.String(),
		"payment_intent":      map[string]string{"id": "pi_1"},
	})
	require.NoError(t, f.service.HandleEvent(context.Background(), event))

	fresh, err := f.users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanTeam, fresh.Plan)
	assert.Equal(t, eventAt, fresh.PlanSetAt.UTC())
	assert.Equal(t, eventAt.AddDate(0, 0, 30), fresh.PlanExpiresAt.UTC())
}

func TestHandleEvent_CheckoutUnpaidIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	user := f.createUser(t, "cus_1")

	event := stripeEvent(t, "checkout.session.completed", map[string]any{
		"id":                  "cs_1",
		"payment_status":      "unpaid",
		"client_reference_id": user.ID.String(),
	})
	require.NoError(t, f.service.HandleEvent(context.Background(), event))

	fresh, err := f.users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanFree, fresh.Plan)
}

func TestHandleEvent_AsyncPaymentFailedNotifiesUser(t *testing.T) {
	f := newWebhookFixture(t)
	user := f.createUser(t, "cus_1")

	event := stripeEvent(t, "checkout.session.async_payment_failed", map[string]any{
		"id":                  "cs_1",
		"client_reference_id": user.ID.String(),
	})
	require.NoError(t, f.service.HandleEvent(context.Background(), event))

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, user.Email, f.mailer.sent[0].To)
}

func TestHandleEvent_DisputeBansUserAndCancelsSubscription(t *testing.T) {
	f := newWebhookFixture(t)
	user := f.createUser(t, "cus_1")
	subID := "sub_1"
	user.Plan = enums.PlanTeam
	user.StripeSubscriptionID = &subID
	require.NoError(t, f.conn.Save(user).Error)

	f.stripe.intents["pi_1"] = &stripesdk.PaymentIntent{
		ID:       "pi_1",
		Amount:   900,
		Status:   stripesdk.PaymentIntentStatusSucceeded,
		Created:  eventAt.Unix(),
		Customer: &stripesdk.Customer{ID: "cus_1"},
		LatestCharge: &stripesdk.Charge{
			ID:             "ch_1",
			Refunded:       true,
			AmountRefunded: 900,
			PaymentMethodDetails: &stripesdk.ChargePaymentMethodDetails{
				Type: "card",
				Card: &stripesdk.ChargePaymentMethodDetailsCard{Brand: "visa", Last4: "4242"},
			},
		},
	}
	f.stripe.sessions["pi_1"] = []*stripesdk.CheckoutSession{{ID: "cs_1"}}
	f.stripe.lineItems["cs_1"] = []*stripesdk.LineItem{{
		Price: &stripesdk.Price{
			ID:      "price_1L0IhrFjcK3YBSOyT30d001",
			Product: &stripesdk.Product{ID: "prod_LfNsMRVmLkXFAY"},
		},
	}}

	event := stripeEvent(t, "charge.dispute.created", map[string]any{
		"id":             "dp_1",
		"payment_intent": map[string]string{"id": "pi_1"},
	})
	require.NoError(t, f.service.HandleEvent(context.Background(), event))

	assert.Equal(t, []string{"dp_1"}, f.stripe.closed)
	assert.Equal(t, []string{"sub_1"}, f.stripe.canceled)

	fresh, err := f.users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, fresh.IsBanned)
	assert.Nil(t, fresh.StripeSubscriptionID)

	// admin got the dispute summary
	require.NotEmpty(t, f.mailer.sent)
	assert.Equal(t, "ops@example.com", f.mailer.sent[len(f.mailer.sent)-1].To)
}
