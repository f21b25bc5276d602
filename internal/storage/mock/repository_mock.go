package mock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/model"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/storage"
)

// --- RetryQueueRepo Mock ---

// RetryQueueRepoMock mocks the RetryQueueRepo interface
type RetryQueueRepoMock struct {
	mock.Mock
}

// Enqueue mocks the Enqueue method
func (m *RetryQueueRepoMock) Enqueue(ctx context.Context, webhookType, webhookID string, payload []byte, retryCount int) (string, error) {
	args := m.Called(ctx, webhookType, webhookID, payload, retryCount)
	return args.String(0), args.Error(1)
}

// GetPending mocks the GetPending method
func (m *RetryQueueRepoMock) GetPending(ctx context.Context, limit int) ([]model.RetryQueueItem, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RetryQueueItem), args.Error(1)
}

// MarkProcessed mocks the MarkProcessed method
func (m *RetryQueueRepoMock) MarkProcessed(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MarkFailed mocks the MarkFailed method
func (m *RetryQueueRepoMock) MarkFailed(ctx context.Context, id string, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

// MarkExhausted mocks the MarkExhausted method
func (m *RetryQueueRepoMock) MarkExhausted(ctx context.Context, id string, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

// Cleanup mocks the Cleanup method
func (m *RetryQueueRepoMock) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	args := m.Called(ctx, olderThanDays)
	return args.Get(0).(int64), args.Error(1)
}

// CountPending mocks the CountPending method
func (m *RetryQueueRepoMock) CountPending(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// Close mocks the Close method
func (m *RetryQueueRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- LedgerRepo Mock ---

// LedgerRepoMock mocks the LedgerRepo interface
type LedgerRepoMock struct {
	mock.Mock
}

// ApplyCredit mocks the ApplyCredit method
func (m *LedgerRepoMock) ApplyCredit(ctx context.Context, req storage.ApplyCreditRequest) (*model.CreditTransaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditTransaction), args.Error(1)
}

// SourceEventApplied mocks the SourceEventApplied method
func (m *LedgerRepoMock) SourceEventApplied(ctx context.Context, sourceEventID string) (bool, error) {
	args := m.Called(ctx, sourceEventID)
	return args.Bool(0), args.Error(1)
}

// GetUserCredits mocks the GetUserCredits method
func (m *LedgerRepoMock) GetUserCredits(ctx context.Context, userID string) (*model.UserCredits, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserCredits), args.Error(1)
}

// ListTransactions mocks the ListTransactions method
func (m *LedgerRepoMock) ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CreditTransaction), args.Error(1)
}

// Close mocks the Close method
func (m *LedgerRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- AccountRepo Mock ---

// AccountRepoMock mocks the AccountRepo interface
type AccountRepoMock struct {
	mock.Mock
}

// FindAccountByEmail mocks the FindAccountByEmail method
func (m *AccountRepoMock) FindAccountByEmail(ctx context.Context, email string) (*model.UserAccount, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserAccount), args.Error(1)
}

// SetSubscriptionTier mocks the SetSubscriptionTier method
func (m *AccountRepoMock) SetSubscriptionTier(ctx context.Context, userID string, tier model.SubscriptionTier) error {
	args := m.Called(ctx, userID, tier)
	return args.Error(0)
}

// Close mocks the Close method
func (m *AccountRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Ensure mocks implement the interfaces
var _ storage.RetryQueueRepo = (*RetryQueueRepoMock)(nil)
var _ storage.LedgerRepo = (*LedgerRepoMock)(nil)
var _ storage.AccountRepo = (*AccountRepoMock)(nil)
