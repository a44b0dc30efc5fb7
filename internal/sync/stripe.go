package sync

import (
	"context"
	"fmt"

	"github.com/lunamail/billing-backend/internal/alerts"
	"github.com/lunamail/billing-backend/pkg/db/models"
)

const stripeJobName = "stripe payment sync"

// SyncStripe sweeps every Stripe customer's payment intent history through
// the reconciler. The webhook channel normally keeps the ledger current;
// this run exists for the deliveries that never arrived.
func (s *Service) SyncStripe(ctx context.Context) (Counts, error) {
	if s.stripe == nil {
		return Counts{}, fmt.Errorf("sync: stripe client is not configured")
	}

	customers, err := s.users.ListStripeCustomers(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("sync: list stripe customers: %w", err)
	}
	s.logger.Info(s.logger.WithField(ctx, "customers", len(customers)), stripeJobName+" started")

	var counts Counts
	acc := alerts.NewAccumulator(s.errorThreshold)
	for i := range customers {
		if err := ctx.Err(); err != nil {
			return s.finish(ctx, stripeJobName, counts, acc, err)
		}
		if tripErr := s.syncStripeCustomer(ctx, &customers[i], &counts, acc); tripErr != nil {
			return s.finish(ctx, stripeJobName, counts, acc, tripErr)
		}
	}
	return s.finish(ctx, stripeJobName, counts, acc, nil)
}

func (s *Service) syncStripeCustomer(ctx context.Context, user *models.User, counts *Counts, acc *alerts.Accumulator) error {
	if user.StripeCustomerID == nil {
		return nil
	}
	intents, err := s.stripe.ListPaymentIntentsByCustomer(ctx, *user.StripeCustomerID)
	if err != nil {
		return s.noteFailure(ctx, user, acc, fmt.Errorf("list payment intents: %w", err))
	}

	// one bad intent never blocks the rest of the customer's history
	for _, intent := range intents {
		outcome, err := s.reconciler.SyncStripePaymentIntent(ctx, user, intent.ID)
		if err != nil {
			if tripErr := s.noteFailure(ctx, user, acc, fmt.Errorf("payment intent %s: %w", intent.ID, err)); tripErr != nil {
				return tripErr
			}
			continue
		}
		counts.record(outcome)
	}
	return nil
}
