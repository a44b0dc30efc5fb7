package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunamail/billing-backend/pkg/logger"
	"github.com/lunamail/billing-backend/pkg/mailer"
)

func TestAccumulator_TripsAtThreshold(t *testing.T) {
	acc := NewAccumulator(3)
	require.NoError(t, acc.Add(errors.New("one")))
	require.NoError(t, acc.Add(errors.New("two")))
	assert.ErrorIs(t, acc.Add(errors.New("three")), ErrThresholdReached)
	assert.Equal(t, 3, acc.Len())
}

func TestAccumulator_IgnoresNil(t *testing.T) {
	acc := NewAccumulator(1)
	require.NoError(t, acc.Add(nil))
	assert.Equal(t, 0, acc.Len())
	assert.NoError(t, acc.Combined())
}

func TestAccumulator_ZeroThresholdNeverTrips(t *testing.T) {
	acc := NewAccumulator(0)
	for i := 0; i < 10; i++ {
		require.NoError(t, acc.Add(errors.New("boom")))
	}
	assert.Equal(t, 10, acc.Len())
	assert.Error(t, acc.Combined())
}

type recordingMailer struct {
	sent []mailer.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

func newTestAlerts(t *testing.T, m mailer.Mailer) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Mailer:     m,
		AdminEmail: "ops@example.com",
	})
	require.NoError(t, err)
	return svc
}

func TestServiceUser_CopiesAdmin(t *testing.T) {
	rec := &recordingMailer{}
	svc := newTestAlerts(t, rec)

	svc.User(context.Background(), "customer@example.com", "payment issue", "details")
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "customer@example.com", rec.sent[0].To)
	assert.Equal(t, []string{"ops@example.com"}, rec.sent[0].CC)
}

func TestServiceUser_FallsBackToAdmin(t *testing.T) {
	rec := &recordingMailer{}
	svc := newTestAlerts(t, rec)

	svc.User(context.Background(), "", "payment issue", "details")
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "ops@example.com", rec.sent[0].To)
}

func TestServiceBatchSummary(t *testing.T) {
	rec := &recordingMailer{}
	svc := newTestAlerts(t, rec)

	svc.BatchSummary(context.Background(), "paypal sync", []error{
		errors.New("user a failed"),
		errors.New("user b failed"),
	})
	require.Len(t, rec.sent, 1)
	assert.Contains(t, rec.sent[0].Subject, "2 error(s)")
	assert.Contains(t, rec.sent[0].PlainRaw, "user a failed")
	assert.Contains(t, rec.sent[0].PlainRaw, "user b failed")

	rec.sent = nil
	svc.BatchSummary(context.Background(), "paypal sync", nil)
	assert.Empty(t, rec.sent)
}

func TestServiceDeliveryFailureDoesNotPanic(t *testing.T) {
	rec := &recordingMailer{err: errors.New("smtp down")}
	svc := newTestAlerts(t, rec)
	svc.Admin(context.Background(), "subject", "body")
	assert.Len(t, rec.sent, 1)
}
