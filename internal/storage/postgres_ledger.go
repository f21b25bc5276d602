package storage

import (
	"context"
	"encoding/json"
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

// --- Credit Ledger Repository Methods ---

// ApplyCredit mutates a user's balance and appends the matching transaction
// row in one database transaction. The balance row is upserted with SQL
// increment expressions so concurrent mutations serialize inside Postgres;
// there is no read-modify-write anywhere in the path. The post-update balance
// comes back via RETURNING and is recorded on the transaction row.
func (r *PostgresRepo) ApplyCredit(ctx context.Context, req ApplyCreditRequest) (*model.CreditTransaction, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user ID is required", apperrors.ErrBadRequest)
	}
	if req.Amount == 0 {
		return nil, fmt.Errorf("%w: amount must be non-zero", apperrors.ErrBadRequest)
	}

	metadataJSON, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling transaction metadata: %w", apperrors.ErrBadRequest, err)
	}

	var earned, spent int64
	if req.Amount > 0 {
		earned = req.Amount
	} else {
		spent = -req.Amount
	}

	var txRecord model.CreditTransaction
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

		credits := model.UserCredits{
			UserID:      req.UserID,
			Balance:     req.Amount,
			TotalEarned: earned,
			TotalSpent:  spent,
		}
		upsertErr := tx.Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"balance":      gorm.Expr("user_credits.balance + ?", req.Amount),
					"total_earned": gorm.Expr("user_credits.total_earned + ?", earned),
					"total_spent":  gorm.Expr("user_credits.total_spent + ?", spent),
					"updated_at":   utils.Now(),
				}),
			},
			clause.Returning{},
		).Create(&credits).Error
		if upsertErr != nil {
			txErr = checkConstraintViolation(upsertErr)
			// Balance check violations are permanent; spending credits a user
			// does not have will never succeed on retry.
			if errors.Is(txErr, apperrors.ErrBadRequest) {
				return backoff.Permanent(txErr)
			}
			return txErr
		}

		txRecord = model.CreditTransaction{
			UserID:          req.UserID,
			Amount:          req.Amount,
			TransactionType: req.Type,
			Description:     req.Description,
			Metadata:        metadataJSON,
			BalanceAfter:    credits.Balance,
		}
		if createErr := tx.Create(&txRecord).Error; createErr != nil {
			txErr = checkConstraintViolation(createErr)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit credit transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil // Success
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "ApplyCredit Commit", operation)
	observer.ObserveDbOperationDuration("apply_credit", "ledger", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to apply credit after retries",
			zap.String("user_id", req.UserID),
			zap.Int64("amount", req.Amount),
			zap.String("transaction_type", string(req.Type)),
			zap.Error(commitErr))
		return nil, commitErr
	}

	observer.AddCreditsApplied(string(req.Type), req.Amount)
	logger.FromContext(ctx).Info("Credit applied",
		zap.String("user_id", req.UserID),
		zap.Int64("amount", req.Amount),
		zap.String("transaction_type", string(req.Type)),
		zap.Int64("balance_after", txRecord.BalanceAfter),
		zap.String("source_event_id", req.Metadata.SourceEventID))
	return &txRecord, nil
}

// SourceEventApplied reports whether any ledger entry carries the given
// source event ID. This is the idempotency gate for replayed webhooks.
func (r *PostgresRepo) SourceEventApplied(ctx context.Context, sourceEventID string) (bool, error) {
	if sourceEventID == "" {
		return false, fmt.Errorf("%w: source event ID is required", apperrors.ErrBadRequest)
	}

	var count int64
	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.CreditTransaction{}).
			Where("metadata->>'source_event_id' = ?", sourceEventID).
			Count(&count)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "SourceEventApplied", operation)
	observer.ObserveDbOperationDuration("source_event_applied", "ledger", time.Since(startTime), findErr)
	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to check source event after retries",
			zap.String("source_event_id", sourceEventID),
			zap.Error(findErr))
		return false, findErr
	}
	return count > 0, nil
}

// GetUserCredits returns the balance row for a user.
func (r *PostgresRepo) GetUserCredits(ctx context.Context, userID string) (*model.UserCredits, error) {
	var credits model.UserCredits
	operation := func() error {
		result := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&credits)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return backoff.Permanent(fmt.Errorf("%w: user_credits %s: %w", apperrors.ErrNotFound, userID, result.Error))
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil // Success
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "GetUserCredits", operation)
	observer.ObserveDbOperationDuration("get_user_credits", "ledger", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to get user credits after retries",
			zap.String("user_id", userID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &credits, nil
}

// ListTransactions returns a user's most recent ledger entries, newest first.
func (r *PostgresRepo) ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	var transactions []model.CreditTransaction
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Limit(limit).
			Find(&transactions)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil // Success, even if no records found
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "ListTransactions", operation)
	observer.ObserveDbOperationDuration("list_transactions", "ledger", time.Since(startTime), findErr)
	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to list transactions after retries",
			zap.String("user_id", userID),
			zap.Int("limit", limit),
			zap.Error(findErr))
		return nil, findErr
	}
	if transactions == nil { // Ensure empty slice is returned, not nil
		return []model.CreditTransaction{}, nil
	}
	return transactions, nil
}
