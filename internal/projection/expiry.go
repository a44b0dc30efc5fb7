package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/lunamail/billing-backend/internal/payments"
	"github.com/lunamail/billing-backend/pkg/db/models"
	"github.com/lunamail/billing-backend/pkg/logger"
)

// ServiceParams carries the dependencies for the expiry projector.
type ServiceParams struct {
	Logger   *logger.Logger
	Payments payments.Repository
}

// Service recomputes a user's plan expiry from their payment history. The
// projection is a full fold, not an incremental patch, so replaying it is
// always safe regardless of what channel touched the ledger last.
type Service struct {
	logger   *logger.Logger
	payments payments.Repository
	now      func() time.Time
}

// NewService validates params and returns an expiry projector.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("projection: logger is required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("projection: payments repository is required")
	}
	return &Service{
		logger:   params.Logger,
		payments: params.Payments,
		now:      time.Now,
	}, nil
}

// Refresh recomputes PlanExpiresAt on the user in place and clears dunning
// markers that no longer apply. The caller is responsible for persisting the
// user afterwards.
func (s *Service) Refresh(ctx context.Context, user *models.User) error {
	return s.RefreshWith(ctx, s.payments, user)
}

// RefreshWith is Refresh against an explicit repository, so callers holding
// a transaction can project over rows the transaction just wrote.
func (s *Service) RefreshWith(ctx context.Context, repo payments.Repository, user *models.User) error {
	if user == nil {
		return fmt.Errorf("projection: user is required")
	}

	if !user.Plan.Paid() {
		// A free plan is always "expired" as of the moment it was set.
		user.PlanExpiresAt = user.PlanSetAt
		s.resetDunning(user)
		return nil
	}

	rows, err := repo.ListQualifyingForExpiry(ctx, user.ID, user.Plan, user.PlanSetAt)
	if err != nil {
		return fmt.Errorf("projection: list payments for user %s: %w", user.ID, err)
	}

	expires := user.PlanSetAt
	credited := 0
	for i := range rows {
		if !rows[i].CountsForCredit() {
			continue
		}
		expires = rows[i].Duration.AddTo(expires)
		credited++
	}
	user.PlanExpiresAt = expires

	ctx = s.logger.WithFields(ctx, map[string]any{
		"user_id":         user.ID.String(),
		"plan":            string(user.Plan),
		"payments":        len(rows),
		"credited":        credited,
		"plan_expires_at": expires.Format(time.RFC3339),
	})
	s.logger.Info(ctx, "recomputed plan expiry")
	s.resetDunning(user)
	return nil
}

// resetDunning clears reminder markers once the computed expiry shows the
// user is paid up, so a lapsed-then-renewed account gets a fresh reminder
// cycle next time around.
func (s *Service) resetDunning(user *models.User) {
	now := s.now()
	if user.PlanExpiresAt.After(now) {
		user.APIPastDueSentAt = nil
		user.APIRestrictedSentAt = nil
	}
	if user.PlanExpiresAt.After(now.AddDate(0, 1, 0)) {
		user.PaymentReminderInitialSentAt = nil
		user.PaymentReminderFollowUpSentAt = nil
		user.PaymentReminderFinalNoticeSentAt = nil
		user.PaymentReminderTerminationSentAt = nil
	}
}
