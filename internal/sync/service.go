package sync

import (
	"context"
	"fmt"

	"github.com/lunamail/billing-backend/internal/alerts"
	"github.com/lunamail/billing-backend/internal/payments"
	"github.com/lunamail/billing-backend/internal/reconcile"
	"github.com/lunamail/billing-backend/internal/users"
	"github.com/lunamail/billing-backend/pkg/db/models"
	"github.com/lunamail/billing-backend/pkg/logger"
	"github.com/lunamail/billing-backend/pkg/stripeclient"
)

// Counts aggregates the outcomes of one batch run.
type Counts struct {
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
	Errors    int
}

func (c *Counts) record(outcome reconcile.Outcome) {
	switch outcome {
	case reconcile.OutcomeCreated:
		c.Created++
	case reconcile.OutcomeUpdated:
		c.Updated++
	case reconcile.OutcomeUnchanged:
		c.Unchanged++
	case reconcile.OutcomeSkipped:
		c.Skipped++
	}
}

// ServiceParams carries the dependencies for the batch sync service.
type ServiceParams struct {
	Logger         *logger.Logger
	Users          users.Repository
	Payments       payments.Repository
	Reconciler     *reconcile.Service
	Stripe         stripeclient.API
	PayPal         reconcile.PayPalAPI
	Alerts         *alerts.Service
	ErrorThreshold int
}

// Service walks provider history customer by customer and funnels every
// observed payment through the reconciler. Runs are strictly sequential; the
// point of the nightly sweep is correctness, not speed.
type Service struct {
	logger         *logger.Logger
	users          users.Repository
	payments       payments.Repository
	reconciler     *reconcile.Service
	stripe         stripeclient.API
	paypal         reconcile.PayPalAPI
	alerts         *alerts.Service
	errorThreshold int
}

// NewService validates params and returns a batch sync service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("sync: logger is required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("sync: users repository is required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("sync: payments repository is required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("sync: reconciler is required")
	}
	if params.Alerts == nil {
		return nil, fmt.Errorf("sync: alerts service is required")
	}
	return &Service{
		logger:         params.Logger,
		users:          params.Users,
		payments:       params.Payments,
		reconciler:     params.Reconciler,
		stripe:         params.Stripe,
		paypal:         params.PayPal,
		alerts:         params.Alerts,
		errorThreshold: params.ErrorThreshold,
	}, nil
}

// noteFailure logs an isolated item failure and records it on the
// accumulator. The returned error is non-nil only once the threshold trips;
// callers propagate it to abort the run.
func (s *Service) noteFailure(ctx context.Context, user *models.User, acc *alerts.Accumulator, err error) error {
	s.logger.Error(s.logger.WithUserID(ctx, user.ID.String()), "sync item failed", err)
	return acc.Add(fmt.Errorf("user %s: %w", user.ID, err))
}

// finish logs the run totals, emails each accumulated failure plus a
// summary when the run aborted, and wraps the errors on abort.
func (s *Service) finish(ctx context.Context, jobName string, counts Counts, acc *alerts.Accumulator, tripped error) (Counts, error) {
	counts.Errors = acc.Len()
	ctx = s.logger.WithFields(ctx, map[string]any{
		"created":   counts.Created,
		"updated":   counts.Updated,
		"unchanged": counts.Unchanged,
		"skipped":   counts.Skipped,
		"errors":    counts.Errors,
	})

	for _, itemErr := range acc.Errors() {
		s.alerts.Admin(ctx, jobName+" failure", itemErr.Error())
	}
	if tripped != nil {
		s.alerts.BatchSummary(ctx, jobName, acc.Errors())
	}

	if tripped != nil {
		s.logger.Error(ctx, jobName+" aborted", tripped)
		return counts, fmt.Errorf("%s: %w: %w", jobName, tripped, acc.Combined())
	}
	s.logger.Info(ctx, jobName+" finished")
	return counts, nil
}
