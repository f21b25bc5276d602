package storage

import (
	"context"

	"gitlab.com/inkstory/api/credit-webhook-processor/internal/model"
)

// RetryQueueRepoAdapter adapts the PostgresRepo to the RetryQueueRepo interface
type RetryQueueRepoAdapter struct {
	postgres *PostgresRepo
}

// NewRetryQueueRepoAdapter creates a new retry queue repository adapter
func NewRetryQueueRepoAdapter(postgres *PostgresRepo) RetryQueueRepo {
	return &RetryQueueRepoAdapter{postgres: postgres}
}

// Enqueue stages a webhook for retry
func (a *RetryQueueRepoAdapter) Enqueue(ctx context.Context, webhookType, webhookID string, payload []byte, retryCount int) (string, error) {
	return a.postgres.Enqueue(ctx, webhookType, webhookID, payload, retryCount)
}

// GetPending returns due unprocessed items
func (a *RetryQueueRepoAdapter) GetPending(ctx context.Context, limit int) ([]model.RetryQueueItem, error) {
	return a.postgres.GetPending(ctx, limit)
}

// MarkProcessed marks an item terminal-success
func (a *RetryQueueRepoAdapter) MarkProcessed(ctx context.Context, id string) error {
	return a.postgres.MarkProcessed(ctx, id)
}

// MarkFailed records a failed attempt
func (a *RetryQueueRepoAdapter) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return a.postgres.MarkFailed(ctx, id, errMsg)
}

// MarkExhausted moves an item straight to terminal failure
func (a *RetryQueueRepoAdapter) MarkExhausted(ctx context.Context, id string, errMsg string) error {
	return a.postgres.MarkExhausted(ctx, id, errMsg)
}

// Cleanup purges old processed rows
func (a *RetryQueueRepoAdapter) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	return a.postgres.Cleanup(ctx, olderThanDays)
}

// CountPending returns the pending queue depth
func (a *RetryQueueRepoAdapter) CountPending(ctx context.Context) (int64, error) {
	return a.postgres.CountPending(ctx)
}

func (a *RetryQueueRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// LedgerRepoAdapter adapts the PostgresRepo to the LedgerRepo interface
type LedgerRepoAdapter struct {
	postgres *PostgresRepo
}

// NewLedgerRepoAdapter creates a new ledger repository adapter
func NewLedgerRepoAdapter(postgres *PostgresRepo) LedgerRepo {
	return &LedgerRepoAdapter{postgres: postgres}
}

// ApplyCredit performs one atomic ledger mutation
func (a *LedgerRepoAdapter) ApplyCredit(ctx context.Context, req ApplyCreditRequest) (*model.CreditTransaction, error) {
	return a.postgres.ApplyCredit(ctx, req)
}

// SourceEventApplied checks the idempotency gate
func (a *LedgerRepoAdapter) SourceEventApplied(ctx context.Context, sourceEventID string) (bool, error) {
	return a.postgres.SourceEventApplied(ctx, sourceEventID)
}

// GetUserCredits returns a user's balance row
func (a *LedgerRepoAdapter) GetUserCredits(ctx context.Context, userID string) (*model.UserCredits, error) {
	return a.postgres.GetUserCredits(ctx, userID)
}

// ListTransactions returns recent ledger entries
func (a *LedgerRepoAdapter) ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	return a.postgres.ListTransactions(ctx, userID, limit)
}

func (a *LedgerRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// AccountRepoAdapter adapts the PostgresRepo to the AccountRepo interface
type AccountRepoAdapter struct {
	postgres *PostgresRepo
}

// NewAccountRepoAdapter creates a new account repository adapter
func NewAccountRepoAdapter(postgres *PostgresRepo) AccountRepo {
	return &AccountRepoAdapter{postgres: postgres}
}

// FindAccountByEmail resolves a customer email to an account
func (a *AccountRepoAdapter) FindAccountByEmail(ctx context.Context, email string) (*model.UserAccount, error) {
	return a.postgres.FindAccountByEmail(ctx, email)
}

// SetSubscriptionTier sets an account's plan
func (a *AccountRepoAdapter) SetSubscriptionTier(ctx context.Context, userID string, tier model.SubscriptionTier) error {
	return a.postgres.SetSubscriptionTier(ctx, userID, tier)
}

func (a *AccountRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// Ensure adapters implement the interfaces
var _ RetryQueueRepo = (*RetryQueueRepoAdapter)(nil)
var _ LedgerRepo = (*LedgerRepoAdapter)(nil)
var _ AccountRepo = (*AccountRepoAdapter)(nil)
