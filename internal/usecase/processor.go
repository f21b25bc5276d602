package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "gitlab.com/inkstory/api/credit-webhook-processor/internal/apperrors"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/model"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/observer"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/logger"
)

// ProcessWebhook decodes a raw webhook payload and dispatches it. This is the
// single entry point shared by the inline receiver path and the retry worker;
// both paths see identical semantics for the same bytes.
//
// Unknown webhook types and unhandled event variants are skipped, not failed:
// they represent deliveries this service was never going to act on, and
// retrying them would burn queue budget for nothing.
func (s *EventService) ProcessWebhook(ctx context.Context, webhookType string, payload []byte) (model.DispatchOutcome, error) {
	log := logger.FromContext(ctx)

	if model.WebhookType(webhookType) != model.WebhookTypeStripe {
		log.Warn("Skipping webhook of unknown type", zap.String("webhook_type", webhookType))
		return model.OutcomeSkipped, nil
	}

	event, err := model.DecodeStripePayload(payload)
	if err != nil {
		log.Error("Failed to decode stored webhook payload", zap.Error(err))
		// Malformed payloads never become well formed on retry.
		return model.OutcomeSkipped, apperrors.NewFatal(err, "webhook payload decode failed")
	}

	return s.Dispatch(ctx, event)
}

// Dispatch routes a decoded event to its handler and records the outcome.
func (s *EventService) Dispatch(ctx context.Context, event *model.WebhookEvent) (outcome model.DispatchOutcome, err error) {
	log := logger.FromContext(ctx).With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	)
	ctx = logger.WithLogger(ctx, log)

	startTime := time.Now()
	defer func() {
		observer.ObserveEventProcessingDuration(string(event.Type), time.Since(startTime))
		errorType := "none"
		if err != nil {
			errorType = observer.SanitizeErrorType(err.Error())
		}
		observer.IncEventProcessingAction(string(event.Type), actionForOutcome(outcome, err), errorType)
	}()

	switch {
	case event.Checkout != nil:
		outcome, err = s.HandleCheckoutCompleted(ctx, event.ID, *event.Checkout)
	case event.Cancellation != nil:
		outcome, err = s.HandleSubscriptionCancelled(ctx, event.ID, *event.Cancellation)
	case event.Refund != nil:
		outcome, err = s.HandleChargeRefunded(ctx, event.ID, *event.Refund)
	default:
		log.Info("Skipping unhandled event type")
		outcome = model.OutcomeSkipped
	}
	return outcome, err
}

func actionForOutcome(outcome model.DispatchOutcome, err error) string {
	if err != nil {
		return "error"
	}
	if outcome == model.OutcomeSkipped {
		return "skipped"
	}
	return "applied"
}
