package usecase

import (
	"context"
	"errors"

	apperrors "gitlab.com/inkstory/api/credit-webhook-processor/internal/apperrors"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/catalog"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/storage"
)

// LineItem is one purchased line of a checkout session, reduced to the
// fields the credit grant needs.
type LineItem struct {
	PriceID     string
	ProductName string
	Quantity    int64
	AmountTotal int64
}

// ProviderClient is the payment-provider surface the processor depends on.
// Checkout sessions carry an email but subscription objects do not, so
// cancellation handling has to resolve the customer through the provider.
type ProviderClient interface {
	SessionLineItems(ctx context.Context, sessionID string) ([]LineItem, error)
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

// EventService implements webhook event processing against the credit
// ledger and account directory.
type EventService struct {
	ledgerRepo  storage.LedgerRepo
	accountRepo storage.AccountRepo
	catalog     catalog.Catalog
	provider    ProviderClient
}

// NewEventService creates a new event service
func NewEventService(
	ledgerRepo storage.LedgerRepo,
	accountRepo storage.AccountRepo,
	cat catalog.Catalog,
	provider ProviderClient,
) *EventService {
	return &EventService{
		ledgerRepo:  ledgerRepo,
		accountRepo: accountRepo,
		catalog:     cat,
		provider:    provider,
	}
}

// classifyRepoError decides whether a repository failure is worth retrying.
// The storage layer (via checkConstraintViolation) already returns standard
// apperrors; general DB errors and timeouts are transient, everything else
// indicates a problem with the request or state that retrying won't fix.
func classifyRepoError(err error, msg string) error {
	if errors.Is(err, apperrors.ErrDatabase) || errors.Is(err, apperrors.ErrTimeout) {
		return apperrors.NewRetryable(err, msg)
	}
	return apperrors.NewFatal(err, msg)
}
