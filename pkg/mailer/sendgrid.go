package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/lunamail/billing-backend/pkg/config"
)

// SendgridMailer delivers mail through the SendGrid v3 API.
type SendgridMailer struct {
	client      *sendgrid.Client
	defaultFrom string
}

// NewSendgrid validates config and returns a SendGrid-backed mailer.
func NewSendgrid(cfg config.SendgridConfig) (*SendgridMailer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	return &SendgridMailer{
		client:      sendgrid.NewSendClient(cfg.APIKey),
		defaultFrom: cfg.DefaultFrom,
	}, nil
}

func (m *SendgridMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("mailer: recipient is required")
	}
	from := msg.From
	if from == "" {
		from = m.defaultFrom
	}

	plain := msg.PlainRaw
	if plain == "" {
		plain = msg.Subject
	}
	email := mail.NewSingleEmail(
		mail.NewEmail("", from),
		msg.Subject,
		mail.NewEmail("", msg.To),
		plain,
		msg.HTMLRaw,
	)
	for _, cc := range msg.CC {
		if cc == "" || cc == msg.To {
			continue
		}
		email.Personalizations[0].AddCCs(mail.NewEmail("", cc))
	}

	resp, err := m.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("mailer: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("mailer: sendgrid responded %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
