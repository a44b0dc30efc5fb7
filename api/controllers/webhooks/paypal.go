package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lunamail/billing-backend/api/responses"
	paypalwebhook "github.com/lunamail/billing-backend/internal/webhooks/paypal"
	pkgerrors "github.com/lunamail/billing-backend/pkg/errors"
	"github.com/lunamail/billing-backend/pkg/logger"
)

type PayPalWebhookService interface {
	HandleEvent(ctx context.Context, event *paypalwebhook.Event) error
}

type paypalVerifier interface {
	VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) (bool, error)
}

// PayPalWebhook verifies and acknowledges PayPal deliveries, then processes
// them out of band, mirroring the Stripe handler.
func PayPalWebhook(svc PayPalWebhookService, verifier paypalVerifier, guard webhookGuard, alerts alertNotifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || verifier == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		verified, err := verifier.VerifyWebhookSignature(ctx, r.Header, body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify signature"))
			return
		}
		if !verified {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "paypal signature verification failed"))
			return
		}

		var event paypalwebhook.Event
		if err := json.Unmarshal(body, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}
		if event.ID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event id missing"))
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

		bgCtx := context.WithoutCancel(ctx)
		go processPayPalEvent(bgCtx, svc, guard, alerts, logg, &event)
	}
}

func processPayPalEvent(ctx context.Context, svc PayPalWebhookService, guard webhookGuard, alerts alertNotifier, logg *logger.Logger, event *paypalwebhook.Event) {
	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	if err := svc.HandleEvent(ctx, event); err != nil {
		if logg != nil {
			logg.Fatal(logg.WithEventID(ctx, event.ID), "paypal event processing failed", err)
		}
		if alerts != nil {
			alerts.Admin(ctx,
				fmt.Sprintf("PayPal webhook %s failed", event.EventType),
				fmt.Sprintf("Processing event %s failed after acknowledgment: %v", event.ID, err))
		}
		_ = guard.Delete(ctx, event.ID)
		return
	}
	if logg != nil {
		logg.Info(logg.WithEventID(ctx, event.ID), fmt.Sprintf("paypal event %s processed", event.EventType))
	}
}
