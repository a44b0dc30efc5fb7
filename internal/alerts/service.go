package alerts

import (
	"context"
	"fmt"
	"strings"

	"github.com/lunamail/billing-backend/pkg/config"
	"github.com/lunamail/billing-backend/pkg/logger"
	"github.com/lunamail/billing-backend/pkg/mailer"
)

// ServiceParams carries the dependencies for the alert service.
type ServiceParams struct {
	Logger     *logger.Logger
	Mailer     mailer.Mailer
	AdminEmail string
}

// Service sends operational alerts to admins and payment notices to users.
// Delivery failures are logged, never propagated: an alert must not fail the
// operation that raised it.
type Service struct {
	logger     *logger.Logger
	mailer     mailer.Mailer
	adminEmail string
}

// NewService validates params and returns an alert service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("alerts: logger is required")
	}
	if params.Mailer == nil {
		return nil, fmt.Errorf("alerts: mailer is required")
	}
	if params.AdminEmail == "" {
		return nil, fmt.Errorf("alerts: admin email is required")
	}
	return &Service{
		logger:     params.Logger,
		mailer:     params.Mailer,
		adminEmail: params.AdminEmail,
	}, nil
}

// NewServiceFromConfig is a convenience constructor for the binaries.
func NewServiceFromConfig(cfg config.AlertsConfig, m mailer.Mailer, logg *logger.Logger) (*Service, error) {
	return NewService(ServiceParams{Logger: logg, Mailer: m, AdminEmail: cfg.AdminEmail})
}

// Admin emails the operations address.
func (s *Service) Admin(ctx context.Context, subject, body string) {
	s.deliver(ctx, s.adminEmail, nil, subject, body)
}

// User emails a customer with the admin address in copy so support has the
// thread on hand when the customer replies.
func (s *Service) User(ctx context.Context, to, subject, body string) {
	if to == "" {
		s.Admin(ctx, subject, body)
		return
	}
	s.deliver(ctx, to, []string{s.adminEmail}, subject, body)
}

// BatchSummary reports the failures of an aborted or degraded batch run as
// one admin email listing every recorded error.
func (s *Service) BatchSummary(ctx context.Context, jobName string, errs []error) {
	if len(errs) == 0 {
		return
	}
	lines := make([]string, 0, len(errs))
	for i, err := range errs {
		lines = append(lines, fmt.Sprintf("%d. %v", i+1, err))
	}
	subject := fmt.Sprintf("%s: %d error(s)", jobName, len(errs))
	s.Admin(ctx, subject, strings.Join(lines, "\n"))
}

func (s *Service) deliver(ctx context.Context, to string, cc []string, subject, body string) {
	err := s.mailer.Send(ctx, mailer.Message{
		To:       to,
		CC:       cc,
		Subject:  subject,
		PlainRaw: body,
	})
	if err != nil {
		ctx = s.logger.WithFields(ctx, map[string]any{
			"to":      to,
			"subject": subject,
		})
		s.logger.Error(ctx, "alert delivery failed", err)
	}
}
