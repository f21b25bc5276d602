package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	apperrors "gitlab.com/inkstory/api/credit-webhook-processor/internal/apperrors"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/model"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/validator"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/logger"
)

// HandleSubscriptionCancelled drops the subscription owner to the free tier.
// Subscription objects carry no email, so the customer is resolved through
// the provider first. Setting a fixed tier is idempotent; replays are safe.
func (s *EventService) HandleSubscriptionCancelled(ctx context.Context, eventID string, payload model.SubscriptionCancelledPayload) (model.DispatchOutcome, error) {
	log := logger.FromContext(ctx)

	if err := validator.Validate(payload); err != nil {
		log.Error("Cancellation payload validation failed",
			zap.String("subscription_id", payload.SubscriptionID),
			zap.Error(err),
		)
		return model.OutcomeSkipped, apperrors.NewFatal(
			fmt.Errorf("%w: %v", apperrors.ErrValidation, err),
			"cancellation payload validation failed")
	}

	email, err := s.provider.CustomerEmail(ctx, payload.CustomerID)
	if err != nil {
		log.Warn("Failed to resolve customer email",
			zap.String("customer_id", payload.CustomerID),
			zap.Error(err))
		return model.OutcomeSkipped, apperrors.NewRetryable(err, "resolving customer email failed")
	}
	if email == "" {
		// Deleted or anonymized customers have no email; there is no account
		// to downgrade and never will be.
		log.Warn("Customer has no email, skipping tier reset",
			zap.String("customer_id", payload.CustomerID))
		return model.OutcomeSkipped, nil
	}

	return s.resetTier(ctx, email, "subscription_id", payload.SubscriptionID)
}

// HandleChargeRefunded drops the refunded customer to the free tier. Credits
// already granted stay on the ledger; a refund revokes the plan, not spent
// history.
func (s *EventService) HandleChargeRefunded(ctx context.Context, eventID string, payload model.ChargeRefundedPayload) (model.DispatchOutcome, error) {
	log := logger.FromContext(ctx)

	if err := validator.Validate(payload); err != nil {
		log.Error("Refund payload validation failed",
			zap.String("charge_id", payload.ChargeID),
			zap.Error(err),
		)
		return model.OutcomeSkipped, apperrors.NewFatal(
			fmt.Errorf("%w: %v", apperrors.ErrValidation, err),
			"refund payload validation failed")
	}

	email := payload.CustomerEmail
	if email == "" && payload.CustomerID != "" {
		resolved, err := s.provider.CustomerEmail(ctx, payload.CustomerID)
		if err != nil {
			log.Warn("Failed to resolve customer email",
				zap.String("customer_id", payload.CustomerID),
				zap.Error(err))
			return model.OutcomeSkipped, apperrors.NewRetryable(err, "resolving customer email failed")
		}
		email = resolved
	}
	if email == "" {
		log.Warn("Refunded charge has no customer email, skipping tier reset",
			zap.String("charge_id", payload.ChargeID))
		return model.OutcomeSkipped, nil
	}

	return s.resetTier(ctx, email, "charge_id", payload.ChargeID)
}

// resetTier resolves an account by email and sets it to the free tier.
func (s *EventService) resetTier(ctx context.Context, email, refKey, refID string) (model.DispatchOutcome, error) {
	log := logger.FromContext(ctx)

	account, err := s.accountRepo.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Error("No account for customer email", zap.String(refKey, refID))
			return model.OutcomeSkipped, apperrors.NewFatal(err, "no account for customer email")
		}
		return model.OutcomeSkipped, classifyRepoError(err, "account lookup failed")
	}

	if err := s.accountRepo.SetSubscriptionTier(ctx, account.ID, model.TierFree); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return model.OutcomeSkipped, apperrors.NewFatal(err, "account vanished before tier reset")
		}
		return model.OutcomeSkipped, classifyRepoError(err, "resetting subscription tier failed")
	}

	log.Info("Reset account to free tier",
		zap.String("user_id", account.ID),
		zap.String(refKey, refID))
	return model.OutcomeApplied, nil
}
