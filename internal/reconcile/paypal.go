package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lunamail/billing-backend/pkg/db"
	"github.com/lunamail/billing-backend/pkg/db/models"
	"github.com/lunamail/billing-backend/pkg/enums"
	"github.com/lunamail/billing-backend/pkg/paypal"
)

// SyncPayPalTransaction reconciles one captured PayPal transaction against
// the user's ledger. PayPal did not always echo the transaction id back on
// early payments, so a row with a matching subscription and the same
// calendar day counts as the same payment.
func (s *Service) SyncPayPalTransaction(ctx context.Context, user *models.User, sub *paypal.Subscription, plan enums.Plan, duration enums.Duration, txn paypal.Transaction) (Outcome, error) {
	if s.paypal == nil {
		return "", fmt.Errorf("reconcile: paypal client is not configured")
	}
	if user == nil || sub == nil {
		return "", fmt.Errorf("reconcile: user and subscription are required")
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"user_id":                user.ID.String(),
		"paypal_subscription_id": sub.ID,
		"paypal_transaction_id":  txn.ID,
	})

	if !txn.Completed() {
		s.observe("paypal", OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	gross := txn.AmountWithBreakdown.GrossAmount
	if gross.CurrencyCode != "USD" {
		return "", fmt.Errorf("reconcile: transaction %s is in %s, only USD is supported", txn.ID, gross.CurrencyCode)
	}
	amount, err := gross.MinorUnits()
	if err != nil {
		return "", err
	}

	amountRefunded, err := s.paypalRefundedAmount(ctx, txn, amount)
	if err != nil {
		return "", err
	}

	rows, err := s.payments.ListByUserAndPayPalSubscription(ctx, user.ID, sub.ID)
	if err != nil {
		return "", err
	}
	matched, err := matchPayPalRow(rows, txn)
	if err != nil {
		return "", err
	}

	var payment *models.Payment
	var outcome Outcome
	if matched != nil {
		payment = matched
		if payment.Plan != plan {
			return "", &ConflictError{Field: "plan", Stored: string(payment.Plan), Observed: string(plan)}
		}
		if payment.Kind != enums.PaymentKindSubscription {
			return "", &ConflictError{Field: "kind", Stored: string(payment.Kind), Observed: string(enums.PaymentKindSubscription)}
		}
		if err := conflictCheck("paypal_transaction_id", payment.PayPalTransactionID, txn.ID); err != nil {
			return "", err
		}

		changed := false
		applyPayPalState(payment, sub, txn, duration, amount, amountRefunded, &changed)
		if !changed {
			s.observe("paypal", OutcomeUnchanged)
			return OutcomeUnchanged, s.assertSinglePayPalRow(ctx, txn.ID, payment.ID)
		}
		if err := s.persist(ctx, user, payment, false); err != nil {
			return "", fmt.Errorf("reconcile: update payment for transaction %s: %w", txn.ID, err)
		}
		outcome = OutcomeUpdated
	} else {
		payment = &models.Payment{
			UserID: user.ID,
			Plan:   plan,
			Kind:   enums.PaymentKindSubscription,
			Method: enums.PaymentMethodPayPal,
			Amount: amount,
		}
		changed := false
		applyPayPalState(payment, sub, txn, duration, amount, amountRefunded, &changed)
		if err := s.persist(ctx, user, payment, true); err != nil {
			if db.IsDuplicateKey(err) {
				return "", &DuplicateCorrelationError{Key: "paypal_transaction_id", Value: txn.ID}
			}
			return "", fmt.Errorf("reconcile: create payment for transaction %s: %w", txn.ID, err)
		}
		outcome = OutcomeCreated
	}

	if err := s.assertSinglePayPalRow(ctx, txn.ID, payment.ID); err != nil {
		return "", err
	}

	s.logger.Info(s.logger.WithField(ctx, "outcome", string(outcome)), "paypal payment reconciled")
	s.observe("paypal", outcome)
	return outcome, nil
}

// paypalRefundedAmount resolves how much of the transaction came back. A
// fully refunded transaction needs no lookup; a partial one does, because
// the transaction record only carries the original gross.
func (s *Service) paypalRefundedAmount(ctx context.Context, txn paypal.Transaction, amount int64) (int64, error) {
	switch txn.Status {
	case "REFUNDED":
		return amount, nil
	case "PARTIALLY_REFUNDED":
		refund, err := s.paypal.GetRefund(ctx, txn.ID)
		if err != nil {
			return 0, fmt.Errorf("reconcile: fetch refund for transaction %s: %w", txn.ID, err)
		}
		refunded, err := refund.Amount.MinorUnits()
		if err != nil {
			return 0, err
		}
		return refunded, nil
	default:
		return 0, nil
	}
}

// matchPayPalRow picks the ledger row for a transaction: exact transaction
// id first, then any row invoiced on the same UTC calendar day.
func matchPayPalRow(rows []models.Payment, txn paypal.Transaction) (*models.Payment, error) {
	for i := range rows {
		if rows[i].PayPalTransactionID != nil && *rows[i].PayPalTransactionID == txn.ID {
			return &rows[i], nil
		}
	}

	var candidates []*models.Payment
	day := txn.Time.UTC().Format("2006-01-02")
	for i := range rows {
		if rows[i].PayPalTransactionID != nil {
			continue
		}
		if rows[i].InvoiceAt.UTC().Format("2006-01-02") == day {
			candidates = append(candidates, &rows[i])
		}
	}
	if len(candidates) > 1 {
		return nil, &TooManyPaymentsError{Key: "paypal same-day match", Value: day, Count: len(candidates)}
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	return nil, nil
}

// applyPayPalState copies the provider-authoritative fields onto the row.
// The refund total is monotonic: a stale transaction listing never shrinks
// what the ledger already recorded.
func applyPayPalState(payment *models.Payment, sub *paypal.Subscription, txn paypal.Transaction, duration enums.Duration, amount, amountRefunded int64, changed *bool) {
	if payment.Duration != duration {
		payment.Duration = duration
		*changed = true
	}
	if payment.Amount != amount {
		payment.Amount = amount
		*changed = true
	}
	if amountRefunded > payment.AmountRefunded {
		payment.AmountRefunded = amountRefunded
		*changed = true
	}
	invoiceAt := txn.Time.UTC()
	if !payment.InvoiceAt.Equal(invoiceAt) {
		payment.InvoiceAt = invoiceAt
		*changed = true
	}
	if payment.Method != enums.PaymentMethodPayPal {
		payment.Method = enums.PaymentMethodPayPal
		*changed = true
	}
	assignStr(&payment.PayPalTransactionID, txn.ID, changed)
	assignStr(&payment.PayPalSubscriptionID, sub.ID, changed)
	if payment.Reference == "" {
		payment.Reference = txn.ID
		*changed = true
	}
}

func (s *Service) assertSinglePayPalRow(ctx context.Context, transactionID string, selfID uuid.UUID) error {
	count, err := s.payments.CountWithPayPalTransactionID(ctx, transactionID, &selfID)
	if err != nil {
		return err
	}
	if count > 0 {
		return &TooManyPaymentsError{Key: "paypal_transaction_id", Value: transactionID, Count: int(count) + 1}
	}
	return nil
}
