package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"

	"github.com/lunamail/billing-backend/internal/plans"
	"github.com/lunamail/billing-backend/pkg/db"
	"github.com/lunamail/billing-backend/pkg/db/models"
	"github.com/lunamail/billing-backend/pkg/enums"
)

// SyncStripePaymentIntent reconciles one Stripe payment intent against the
// user's ledger. Non-succeeded intents are skipped; anything already in the
// ledger is verified field by field and corrected where the provider is
// authoritative. Identity fields never self-heal, they conflict.
func (s *Service) SyncStripePaymentIntent(ctx context.Context, user *models.User, paymentIntentID string) (Outcome, error) {
	if s.stripe == nil {
		return "", fmt.Errorf("reconcile: stripe client is not configured")
	}
	if user == nil {
		return "", fmt.Errorf("reconcile: user is required")
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"user_id":           user.ID.String(),
		"payment_intent_id": paymentIntentID,
	})

	intent, err := s.stripe.GetPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return "", fmt.Errorf("reconcile: fetch payment intent %s: %w", paymentIntentID, err)
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		s.observe("stripe", OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	charge := intent.LatestCharge
	if charge == nil {
		return "", fmt.Errorf("reconcile: succeeded payment intent %s has no charge", intent.ID)
	}

	sessions, err := s.stripe.ListCheckoutSessionsByIntent(ctx, intent.ID)
	if err != nil {
		return "", fmt.Errorf("reconcile: list checkout sessions for %s: %w", intent.ID, err)
	}
	if len(sessions) > 1 {
		return "", fmt.Errorf("reconcile: %d checkout sessions reference payment intent %s, expected at most one", len(sessions), intent.ID)
	}
	var sess *stripe.CheckoutSession
	if len(sessions) == 1 {
		sess = sessions[0]
	}

	var inv *stripe.Invoice
	if intent.Invoice != nil && intent.Invoice.ID != "" {
		inv, err = s.stripe.GetInvoice(ctx, intent.Invoice.ID)
		if err != nil {
			return "", fmt.Errorf("reconcile: fetch invoice %s: %w", intent.Invoice.ID, err)
		}
	}

	kind := enums.PaymentKindOneTime
	if inv != nil {
		kind = enums.PaymentKindSubscription
	}

	priceID, productID, err := s.stripePriceAndProduct(ctx, intent, inv, sess)
	if err != nil {
		return "", err
	}

	plan, ok := plans.PlanForStripeProduct(productID)
	if !ok {
		return "", fmt.Errorf("reconcile: unknown stripe product %s on payment intent %s", productID, intent.ID)
	}
	duration, err := plans.DurationForStripePrice(plan, kind, priceID)
	if err != nil {
		return "", fmt.Errorf("reconcile: payment intent %s: %w", intent.ID, err)
	}

	invoiceAt := time.Unix(intent.Created, 0).UTC()
	if inv != nil {
		invoiceAt = time.Unix(inv.Created, 0).UTC()
	}

	amountRefunded := charge.AmountRefunded
	if charge.Refunded {
		amountRefunded = intent.Amount
	}

	// locate the ledger row, preferring the intent id over the session id
	rows, err := s.payments.ListByUserAndStripeIntent(ctx, user.ID, intent.ID)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 && sess != nil {
		rows, err = s.payments.ListByUserAndStripeSession(ctx, user.ID, sess.ID)
		if err != nil {
			return "", err
		}
	}
	if len(rows) > 1 {
		return "", &TooManyPaymentsError{Key: "stripe_payment_intent_id", Value: intent.ID, Count: len(rows)}
	}

	var payment *models.Payment
	var outcome Outcome
	if len(rows) == 1 {
		payment = &rows[0]
		if payment.Plan != plan {
			return "", &ConflictError{Field: "plan", Stored: string(payment.Plan), Observed: string(plan)}
		}
		if payment.Kind != kind {
			return "", &ConflictError{Field: "kind", Stored: string(payment.Kind), Observed: string(kind)}
		}
		if payment.Amount != intent.Amount {
			return "", &ConflictError{
				Field:    "amount",
				Stored:   strconv.FormatInt(payment.Amount, 10),
				Observed: strconv.FormatInt(intent.Amount, 10),
			}
		}
		if err := conflictCheck("stripe_payment_intent_id", payment.StripePaymentIntentID, intent.ID); err != nil {
			return "", err
		}
		if sess != nil {
			if err := conflictCheck("stripe_session_id", payment.StripeSessionID, sess.ID); err != nil {
				return "", err
			}
		}
		if inv != nil {
			if err := conflictCheck("stripe_invoice_id", payment.StripeInvoiceID, inv.ID); err != nil {
				return "", err
			}
		}

		changed := false
		s.applyStripeState(payment, intent, charge, inv, sess, duration, amountRefunded, invoiceAt, &changed)
		if !changed {
			s.observe("stripe", OutcomeUnchanged)
			return OutcomeUnchanged, s.assertSingleStripeRow(ctx, intent.ID, payment.ID)
		}
		if err := s.persist(ctx, user, payment, false); err != nil {
			return "", fmt.Errorf("reconcile: update payment for intent %s: %w", intent.ID, err)
		}
		outcome = OutcomeUpdated
	} else {
		payment = &models.Payment{
			UserID: user.ID,
			Plan:   plan,
			Kind:   kind,
			Amount: intent.Amount,
		}
		changed := false
		s.applyStripeState(payment, intent, charge, inv, sess, duration, amountRefunded, invoiceAt, &changed)
		if err := s.persist(ctx, user, payment, true); err != nil {
			if db.IsDuplicateKey(err) {
				return "", &DuplicateCorrelationError{Key: "stripe_payment_intent_id", Value: intent.ID}
			}
			return "", fmt.Errorf("reconcile: create payment for intent %s: %w", intent.ID, err)
		}
		outcome = OutcomeCreated
	}

	if err := s.assertSingleStripeRow(ctx, intent.ID, payment.ID); err != nil {
		return "", err
	}

	s.logger.Info(s.logger.WithField(ctx, "outcome", string(outcome)), "stripe payment reconciled")
	s.observe("stripe", outcome)
	return outcome, nil
}

// stripePriceAndProduct extracts the price and product ids from whichever
// provider object carries them for this payment kind.
func (s *Service) stripePriceAndProduct(ctx context.Context, intent *stripe.PaymentIntent, inv *stripe.Invoice, sess *stripe.CheckoutSession) (string, string, error) {
	if inv != nil {
		if inv.Lines == nil || len(inv.Lines.Data) == 0 || inv.Lines.Data[0].Price == nil {
			return "", "", fmt.Errorf("reconcile: invoice %s has no priced line item", inv.ID)
		}
		price := inv.Lines.Data[0].Price
		if price.Product == nil {
			return "", "", fmt.Errorf("reconcile: invoice %s line price %s has no product", inv.ID, price.ID)
		}
		return price.ID, price.Product.ID, nil
	}

	if sess == nil {
		return "", "", fmt.Errorf("reconcile: one-time payment intent %s has no checkout session", intent.ID)
	}
	items, err := s.stripe.ListCheckoutSessionLineItems(ctx, sess.ID)
	if err != nil {
		return "", "", fmt.Errorf("reconcile: list line items for session %s: %w", sess.ID, err)
	}
	if len(items) == 0 || items[0].Price == nil {
		return "", "", fmt.Errorf("reconcile: checkout session %s has no priced line item", sess.ID)
	}
	price := items[0].Price
	if price.Product == nil {
		return "", "", fmt.Errorf("reconcile: session %s line price %s has no product", sess.ID, price.ID)
	}
	return price.ID, price.Product.ID, nil
}

// applyStripeState copies the provider-authoritative fields onto the row,
// flipping changed whenever a stored value moves. The charge amount is
// identity, not state; a mismatch conflicts before this runs. The refund
// total is monotonic: a stale provider read never shrinks what the ledger
// already recorded.
func (s *Service) applyStripeState(payment *models.Payment, intent *stripe.PaymentIntent, charge *stripe.Charge, inv *stripe.Invoice, sess *stripe.CheckoutSession, duration enums.Duration, amountRefunded int64, invoiceAt time.Time, changed *bool) {
	if payment.Duration != duration {
		payment.Duration = duration
		*changed = true
	}
	if amountRefunded > payment.AmountRefunded {
		payment.AmountRefunded = amountRefunded
		*changed = true
	}
	if !payment.InvoiceAt.Equal(invoiceAt) {
		payment.InvoiceAt = invoiceAt
		*changed = true
	}

	assignStr(&payment.StripePaymentIntentID, intent.ID, changed)
	if sess != nil {
		assignStr(&payment.StripeSessionID, sess.ID, changed)
	}
	if inv != nil {
		assignStr(&payment.StripeInvoiceID, inv.ID, changed)
		if inv.Subscription != nil {
			assignStr(&payment.StripeSubscriptionID, inv.Subscription.ID, changed)
		}
		if payment.Reference == "" && inv.Number != "" {
			payment.Reference = inv.Number
			*changed = true
		}
	}
	if payment.Reference == "" && charge.ReceiptNumber != "" {
		payment.Reference = charge.ReceiptNumber
		*changed = true
	}

	applyChargeDetails(payment, charge, changed)
}

func applyChargeDetails(payment *models.Payment, charge *stripe.Charge, changed *bool) {
	details := charge.PaymentMethodDetails
	if details == nil {
		return
	}
	if details.Card == nil {
		method := string(details.Type)
		if method != "" && payment.Method != method {
			payment.Method = method
			*changed = true
		}
		return
	}

	card := details.Card
	if brand := strings.ToLower(string(card.Brand)); brand != "" && payment.Method != brand {
		payment.Method = brand
		*changed = true
	}
	assignInt64(&payment.ExpMonth, card.ExpMonth, changed)
	assignInt64(&payment.ExpYear, card.ExpYear, changed)
	if card.Last4 != "" && payment.Last4 != card.Last4 {
		payment.Last4 = card.Last4
		*changed = true
	}
	if card.Wallet != nil {
		applePay := card.Wallet.Type == stripe.PaymentMethodCardWalletTypeApplePay
		googlePay := card.Wallet.Type == stripe.PaymentMethodCardWalletTypeGooglePay
		if payment.IsApplePay != applePay {
			payment.IsApplePay = applePay
			*changed = true
		}
		if payment.IsGooglePay != googlePay {
			payment.IsGooglePay = googlePay
			*changed = true
		}
	}
}

// assertSingleStripeRow enforces the one-row-per-intent invariant after any
// write, catching a webhook and a batch sync that raced past the lookup.
func (s *Service) assertSingleStripeRow(ctx context.Context, intentID string, selfID uuid.UUID) error {
	count, err := s.payments.CountWithStripePaymentIntentID(ctx, intentID, &selfID)
	if err != nil {
		return err
	}
	if count > 0 {
		return &TooManyPaymentsError{Key: "stripe_payment_intent_id", Value: intentID, Count: int(count) + 1}
	}
	return nil
}

func conflictCheck(field string, stored *string, observed string) error {
	if stored == nil || *stored == "" {
		return nil
	}
	if *stored != observed {
		return &ConflictError{Field: field, Stored: *stored, Observed: observed}
	}
	return nil
}

func assignStr(dst **string, value string, changed *bool) {
	if value == "" {
		return
	}
	if *dst == nil || **dst != value {
		v := value
		*dst = &v
		*changed = true
	}
}

func assignInt64(dst **int64, value int64, changed *bool) {
	if value == 0 {
		return
	}
	if *dst == nil || **dst != value {
		v := value
		*dst = &v
		*changed = true
	}
}
