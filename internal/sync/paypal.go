package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lunamail/billing-backend/internal/alerts"
	"github.com/lunamail/billing-backend/internal/plans"
	"github.com/lunamail/billing-backend/pkg/db/models"
	"github.com/lunamail/billing-backend/pkg/enums"
	"github.com/lunamail/billing-backend/pkg/paypal"
)

const paypalJobName = "paypal payment sync"

// transaction listings start slightly before the subscription was created;
// PayPal occasionally timestamps the first capture ahead of the agreement
const paypalListingSlack = 24 * time.Hour

// SyncPayPal sweeps every PayPal customer, reconciling all transactions of
// all subscriptions the ledger or the user record knows about. Customers are
// processed one at a time; once the accumulated failures reach the
// threshold the whole run aborts, because at that point the failures are a
// provider or database problem, not customer data.
func (s *Service) SyncPayPal(ctx context.Context) (Counts, error) {
	if s.paypal == nil {
		return Counts{}, fmt.Errorf("sync: paypal client is not configured")
	}

	customers, err := s.users.ListPayPalCustomers(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("sync: list paypal customers: %w", err)
	}
	s.logger.Info(s.logger.WithField(ctx, "customers", len(customers)), paypalJobName+" started")

	var counts Counts
	acc := alerts.NewAccumulator(s.errorThreshold)
	for i := range customers {
		if err := ctx.Err(); err != nil {
			return s.finish(ctx, paypalJobName, counts, acc, err)
		}
		if tripErr := s.syncPayPalCustomer(ctx, &customers[i], &counts, acc); tripErr != nil {
			return s.finish(ctx, paypalJobName, counts, acc, tripErr)
		}
	}
	return s.finish(ctx, paypalJobName, counts, acc, nil)
}

func (s *Service) syncPayPalCustomer(ctx context.Context, user *models.User, counts *Counts, acc *alerts.Accumulator) error {
	subIDs, err := s.payments.DistinctPayPalSubscriptionIDs(ctx, user.ID)
	if err != nil {
		return s.noteFailure(ctx, user, acc, fmt.Errorf("list ledger subscriptions: %w", err))
	}
	if user.HasPayPalSubscription() && !containsString(subIDs, *user.PayPalSubscriptionID) {
		subIDs = append(subIDs, *user.PayPalSubscriptionID)
	}

	for _, subID := range subIDs {
		if tripErr := s.syncPayPalSubscription(ctx, user, subID, counts, acc); tripErr != nil {
			return tripErr
		}
	}
	return nil
}

func (s *Service) syncPayPalSubscription(ctx context.Context, user *models.User, subID string, counts *Counts, acc *alerts.Accumulator) error {
	sub, err := s.paypal.GetSubscription(ctx, subID)
	if err != nil {
		return s.noteFailure(ctx, user, acc, fmt.Errorf("subscription %s: %w", subID, err))
	}

	plan, duration, err := plans.ForPayPalPlan(sub.PlanID)
	if err != nil {
		return s.noteFailure(ctx, user, acc, fmt.Errorf("subscription %s: %w", subID, err))
	}

	start := sub.CreateTime.Add(-paypalListingSlack)
	transactions, err := s.paypal.ListTransactions(ctx, subID, start, time.Now().UTC())
	if err != nil {
		return s.noteFailure(ctx, user, acc, fmt.Errorf("subscription %s: list transactions: %w", subID, err))
	}

	// one bad transaction never blocks its siblings; each failure is
	// accumulated on its own
	hadFailure := false
	for _, txn := range transactions {
		outcome, err := s.reconciler.SyncPayPalTransaction(ctx, user, sub, plan, duration, txn)
		if err != nil {
			hadFailure = true
			if tripErr := s.noteFailure(ctx, user, acc, fmt.Errorf("subscription %s transaction %s: %w", subID, txn.ID, err)); tripErr != nil {
				return tripErr
			}
			continue
		}
		counts.record(outcome)
	}

	// a subscription whose transactions just failed is not safe to detach
	if !hadFailure && enums.IsTerminalPayPalSubscriptionStatus(sub.Status) {
		s.cleanupTerminalSubscription(ctx, user, sub)
	}
	return nil
}

// cleanupTerminalSubscription detaches a dead subscription from the user.
// Cancellation at the provider is best effort and skipped when PayPal
// already reports the subscription cancelled; the call only makes a
// suspended or expired state explicit on PayPal's side.
func (s *Service) cleanupTerminalSubscription(ctx context.Context, user *models.User, sub *paypal.Subscription) {
	ctx = s.logger.WithFields(ctx, map[string]any{
		"user_id":                user.ID.String(),
		"paypal_subscription_id": sub.ID,
		"status":                 sub.Status,
	})
	if !strings.EqualFold(strings.TrimSpace(sub.Status), enums.PayPalSubscriptionCancelled) {
		if err := s.paypal.CancelSubscription(ctx, sub.ID, "subscription is "+sub.Status); err != nil {
			s.logger.Warn(s.logger.WithField(ctx, "cancel_error", err.Error()), "paypal cancel on terminal subscription failed")
		}
	}

	if !user.HasPayPalSubscription() || *user.PayPalSubscriptionID != sub.ID {
		// the user already moved on to a different subscription
		return
	}
	user.PayPalSubscriptionID = nil
	if err := s.users.Save(ctx, user); err != nil {
		s.logger.Error(ctx, "clearing terminal paypal subscription failed", err)
		return
	}
	s.logger.Info(ctx, "cleared terminal paypal subscription")
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
