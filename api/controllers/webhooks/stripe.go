package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/lunamail/billing-backend/api/responses"
	pkgerrors "github.com/lunamail/billing-backend/pkg/errors"
	"github.com/lunamail/billing-backend/pkg/logger"
)

// processTimeout bounds post-acknowledgment processing. Dispute handling
// sleeps before re-fetching the intent, so this stays generous.
const processTimeout = 5 * time.Minute

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

type alertNotifier interface {
	Admin(ctx context.Context, subject, body string)
}

// StripeWebhook verifies and acknowledges Stripe deliveries, then processes
// them out of band. Processing failures never reach the HTTP response; the
// delivery was already accepted, so they surface through logs and an admin
// alert, and the idempotency mark is dropped so a redelivery gets another
// attempt.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard webhookGuard, alerts alertNotifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || client == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify signature"))
			return
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteReceived(w)
			return
		}

		responses.WriteReceived(w)

		// detach from the request so the work survives the handler returning
		bgCtx := context.WithoutCancel(ctx)
		go processStripeEvent(bgCtx, svc, guard, alerts, logg, &event)
	}
}

func processStripeEvent(ctx context.Context, svc StripeWebhookService, guard webhookGuard, alerts alertNotifier, logg *logger.Logger, event *stripe.Event) {
	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	if err := svc.HandleEvent(ctx, event); err != nil {
		if logg != nil {
			logg.Fatal(logg.WithEventID(ctx, event.ID), "stripe event processing failed", err)
		}
		if alerts != nil {
			alerts.Admin(ctx,
				fmt.Sprintf("Stripe webhook %s failed", string(event.Type)),
				fmt.Sprintf("Processing event %s failed after acknowledgment: %v", event.ID, err))
		}
		_ = guard.Delete(ctx, event.ID)
		return
	}
	if logg != nil {
		logg.Info(logg.WithEventID(ctx, event.ID), fmt.Sprintf("stripe event %s processed", string(event.Type)))
	}
}
