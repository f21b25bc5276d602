package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/inkstory/api/credit-webhook-processor/internal/apperrors"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/model"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/observer"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/logger"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/utils"
)

// --- User Account Repository Methods ---

// FindAccountByEmail resolves a payment-provider customer email to an
// internal account. Misses are permanent; accounts are provisioned before
// checkout, so an unknown email will not appear by retrying.
func (r *PostgresRepo) FindAccountByEmail(ctx context.Context, email string) (*model.UserAccount, error) {
	if email == "" {
		return nil, backoff.Permanent(fmt.Errorf("%w: email cannot be empty", apperrors.ErrBadRequest))
	}

	var account model.UserAccount
	operation := func() error {
		result := r.db.WithContext(ctx).Where("email = ?", email).First(&account)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return backoff.Permanent(fmt.Errorf("%w: account email %s: %w", apperrors.ErrNotFound, email, result.Error))
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil // Success
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindAccountByEmail", operation)
	observer.ObserveDbOperationDuration("find_by_email", "account", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find account by email after retries",
			zap.String("email", email),
			zap.Error(findErr))
		return nil, findErr
	}
	return &account, nil
}

// SetSubscriptionTier sets the account's plan to a fixed value. The operation
// writes the same state no matter how often it runs, so replays are safe.
func (r *PostgresRepo) SetSubscriptionTier(ctx context.Context, userID string, tier model.SubscriptionTier) error {
	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.UserAccount{}).
			Where("id = ?", userID).
			Updates(map[string]interface{}{
				"subscription_tier": tier,
				"updated_at":        utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: account %s", apperrors.ErrNotFound, userID))
		}
		return nil // Success
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SetSubscriptionTier", operation)
	observer.ObserveDbOperationDuration("set_subscription_tier", "account", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to set subscription tier after retries",
			zap.String("user_id", userID),
			zap.String("tier", string(tier)),
			zap.Error(commitErr))
		return commitErr
	}

	logger.FromContext(ctx).Info("Subscription tier updated",
		zap.String("user_id", userID),
		zap.String("tier", string(tier)))
	return nil
}
