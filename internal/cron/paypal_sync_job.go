package cron

import (
	"context"
	"fmt"

	paymentsync "github.com/lunamail/billing-backend/internal/sync"
)

// PayPalSyncJob runs the nightly PayPal reconciliation sweep.
type PayPalSyncJob struct {
	sync *paymentsync.Service
}

// NewPayPalSyncJob builds the job.
func NewPayPalSyncJob(svc *paymentsync.Service) (*PayPalSyncJob, error) {
	if svc == nil {
		return nil, fmt.Errorf("sync service required")
	}
	return &PayPalSyncJob{sync: svc}, nil
}

func (j *PayPalSyncJob) Name() string { return "paypal_payment_sync" }

func (j *PayPalSyncJob) Run(ctx context.Context) error {
	_, err := j.sync.SyncPayPal(ctx)
	return err
}
