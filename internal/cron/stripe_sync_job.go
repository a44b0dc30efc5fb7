package cron

import (
	"context"
	"fmt"

	paymentsync "github.com/lunamail/billing-backend/internal/sync"
)

// StripeSyncJob runs the nightly Stripe history sweep.
type StripeSyncJob struct {
	sync *paymentsync.Service
}

// NewStripeSyncJob builds the job.
func NewStripeSyncJob(svc *paymentsync.Service) (*StripeSyncJob, error) {
	if svc == nil {
		return nil, fmt.Errorf("sync service required")
	}
	return &StripeSyncJob{sync: svc}, nil
}

func (j *StripeSyncJob) Name() string { return "stripe_payment_sync" }

func (j *StripeSyncJob) Run(ctx context.Context) error {
	_, err := j.sync.SyncStripe(ctx)
	return err
}
