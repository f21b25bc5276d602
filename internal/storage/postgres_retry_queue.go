package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/inkstory/api/credit-webhook-processor/internal/apperrors"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/model"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/observer"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/logger"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/utils"
)

// --- Retry Queue Repository Methods ---

// Enqueue stages a webhook for later reprocessing. The scheduled time is
// derived from the retry count so re-enqueued items back off exponentially.
// Duplicate webhook IDs are allowed here; the ledger's source event gate is
// what guarantees at-most-one mutation per provider event.
func (r *PostgresRepo) Enqueue(ctx context.Context, webhookType, webhookID string, payload []byte, retryCount int) (string, error) {
	if retryCount < 0 {
		retryCount = 0
	}
	maxRetries := r.queuePolicy.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	item := model.RetryQueueItem{
		WebhookType: webhookType,
		WebhookID:   webhookID,
		Payload:     payload,
		RetryCount:  retryCount,
		MaxRetries:  maxRetries,
		ScheduledAt: utils.Now().Add(r.queuePolicy.Delay(retryCount)),
	}

	operation := func() error {
		if err := r.db.WithContext(ctx).Create(&item).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil // Success
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "Enqueue", operation)
	observer.ObserveDbOperationDuration("enqueue", "retry_queue", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to enqueue webhook after retries",
			zap.String("webhook_type", webhookType),
			zap.String("webhook_id", webhookID),
			zap.Error(commitErr))
		return "", commitErr
	}

	logger.FromContext(ctx).Info("Webhook staged for retry",
		zap.String("item_id", item.ID),
		zap.String("webhook_type", webhookType),
		zap.String("webhook_id", webhookID),
		zap.Int("retry_count", retryCount),
		zap.Time("scheduled_at", item.ScheduledAt))
	return item.ID, nil
}

// GetPending returns due, unprocessed items ordered oldest first.
func (r *PostgresRepo) GetPending(ctx context.Context, limit int) ([]model.RetryQueueItem, error) {
	if limit <= 0 {
		limit = 50
	}

	var items []model.RetryQueueItem
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("processed = ? AND scheduled_at <= ?", false, utils.Now()).
			Order("scheduled_at ASC").
			Limit(limit).
			Find(&items)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil // Success, even if no records found
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "GetPending", operation)
	observer.ObserveDbOperationDuration("get_pending", "retry_queue", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to fetch pending retry items after retries",
			zap.Int("limit", limit),
			zap.Error(findErr))
		return nil, findErr
	}
	if items == nil { // Ensure empty slice is returned, not nil
		return []model.RetryQueueItem{}, nil
	}
	return items, nil
}

// MarkProcessed marks an item terminal-success and clears its error message.
// Calling it again on an already processed item is a no-op.
func (r *PostgresRepo) MarkProcessed(ctx context.Context, id string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.RetryQueueItem{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"processed":     true,
				"processed_at":  utils.Now(),
				"error_message": nil,
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: retry item %s", apperrors.ErrNotFound, id))
		}
		return nil // Success
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkProcessed", operation)
	observer.ObserveDbOperationDuration("mark_processed", "retry_queue", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to mark retry item processed after retries",
			zap.String("item_id", id),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// MarkFailed records a failed attempt. While retry budget remains the item is
// rescheduled with a longer delay; once the budget is spent the item goes
// terminal with an explanatory message. The row is locked for the decision so
// concurrent workers cannot double-increment the retry count.
func (r *PostgresRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if r := recover(); r != nil {
				tx.Rollback()
				panic(r)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		var item model.RetryQueueItem
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&item)
		if findErr := result.Error; findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: retry item %s: %w", apperrors.ErrNotFound, id, findErr)
				return backoff.Permanent(txErr)
			}
			txErr = fmt.Errorf("%w: failed to lock retry item row: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		if item.Processed {
			// Terminal rows are immutable; a concurrent worker already settled this item.
			if commitErr := tx.Commit().Error; commitErr != nil {
				txErr = fmt.Errorf("%w: failed to commit mark-failed transaction: %w", apperrors.ErrDatabase, commitErr)
				return txErr
			}
			return nil
		}

		updates := map[string]interface{}{}
		if item.RetryCount >= item.MaxRetries {
			now := utils.Now()
			updates["processed"] = true
			updates["processed_at"] = now
			updates["error_message"] = fmt.Sprintf("max retries (%d) reached: %s", item.MaxRetries, errMsg)
		} else {
			newCount := item.RetryCount + 1
			updates["retry_count"] = newCount
			updates["scheduled_at"] = utils.Now().Add(r.queuePolicy.Delay(newCount))
			updates["error_message"] = errMsg
		}

		if updateErr := tx.Model(&item).Updates(updates).Error; updateErr != nil {
			txErr = checkConstraintViolation(updateErr)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit mark-failed transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil // Success
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkFailed Commit", operation)
	observer.ObserveDbOperationDuration("mark_failed", "retry_queue", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to mark retry item failed after retries",
			zap.String("item_id", id),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// MarkExhausted moves an item straight to terminal failure without consuming
// retry budget. Used for permanent errors that no amount of retrying can fix.
func (r *PostgresRepo) MarkExhausted(ctx context.Context, id string, errMsg string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.RetryQueueItem{}).
			Where("id = ? AND processed = ?", id, false).
			Updates(map[string]interface{}{
				"processed":     true,
				"processed_at":  utils.Now(),
				"error_message": fmt.Sprintf("permanent failure: %s", errMsg),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		// Zero rows means the item is already terminal or missing; both are
		// settled states, not errors.
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkExhausted", operation)
	observer.ObserveDbOperationDuration("mark_exhausted", "retry_queue", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to mark retry item exhausted after retries",
			zap.String("item_id", id),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// Cleanup deletes processed rows settled before the retention cutoff. Pending
// rows are never touched.
func (r *PostgresRepo) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, backoff.Permanent(fmt.Errorf("%w: olderThanDays must be positive", apperrors.ErrBadRequest))
	}
	cutoff := utils.Now().AddDate(0, 0, -olderThanDays)

	var deleted int64
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("processed = ? AND processed_at < ?", true, cutoff).
			Delete(&model.RetryQueueItem{})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		deleted = result.RowsAffected
		return nil // Success
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "Cleanup", operation)
	observer.ObserveDbOperationDuration("cleanup", "retry_queue", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to clean up processed retry items after retries",
			zap.Int("older_than_days", olderThanDays),
			zap.Error(commitErr))
		return 0, commitErr
	}

	if deleted > 0 {
		logger.FromContext(ctx).Info("Purged processed retry items",
			zap.Int64("rows_deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// CountPending returns the current unprocessed queue depth.
func (r *PostgresRepo) CountPending(ctx context.Context) (int64, error) {
	var count int64
	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.RetryQueueItem{}).
			Where("processed = ?", false).
			Count(&count)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "CountPending", operation)
	observer.ObserveDbOperationDuration("count_pending", "retry_queue", time.Since(startTime), findErr)
	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to count pending retry items after retries", zap.Error(findErr))
		return 0, findErr
	}
	return count, nil
}
