package storage

import (
	"context"

	"gitlab.com/inkstory/api/credit-webhook-processor/internal/model"
)

// RetryQueueRepo defines retry queue storage operations
type RetryQueueRepo interface {
	Enqueue(ctx context.Context, webhookType, webhookID string, payload []byte, retryCount int) (string, error)
	GetPending(ctx context.Context, limit int) ([]model.RetryQueueItem, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	MarkExhausted(ctx context.Context, id string, errMsg string) error
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
	CountPending(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// ApplyCreditRequest describes one ledger mutation. Positive amounts grant
// credits, negative amounts spend them.
type ApplyCreditRequest struct {
	UserID      string
	Amount      int64
	Type        model.TransactionType
	Description string
	Metadata    model.TransactionMetadata
}

// LedgerRepo defines credit ledger storage operations
type LedgerRepo interface {
	ApplyCredit(ctx context.Context, req ApplyCreditRequest) (*model.CreditTransaction, error)
	SourceEventApplied(ctx context.Context, sourceEventID string) (bool, error)
	GetUserCredits(ctx context.Context, userID string) (*model.UserCredits, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error)
	Close(ctx context.Context) error
}

// AccountRepo defines user account storage operations
type AccountRepo interface {
	FindAccountByEmail(ctx context.Context, email string) (*model.UserAccount, error)
	SetSubscriptionTier(ctx context.Context, userID string, tier model.SubscriptionTier) error
	Close(ctx context.Context) error
}
