package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	apperrors "gitlab.com/inkstory/api/credit-webhook-processor/internal/apperrors"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/model"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/storage"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/validator"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/logger"
)

// HandleCheckoutCompleted grants the credits purchased in a completed
// checkout session. The ledger's source event gate makes the whole handler
// idempotent: a replayed event either short-circuits at the gate or loses the
// insert race and reads back as already applied.
func (s *EventService) HandleCheckoutCompleted(ctx context.Context, eventID string, payload model.CheckoutCompletedPayload) (model.DispatchOutcome, error) {
	log := logger.FromContext(ctx)

	// Validate input payload
	if err := validator.Validate(payload); err != nil {
		log.Error("Checkout payload validation failed",
			zap.String("session_id", payload.SessionID),
			zap.Error(err),
		)
		// Validation errors are fatal for this operation
		return model.OutcomeSkipped, apperrors.NewFatal(
			fmt.Errorf("%w: %v", apperrors.ErrValidation, err),
			"checkout payload validation failed")
	}

	// Idempotency gate. Checked before any provider round trips so replays
	// stay cheap.
	applied, err := s.ledgerRepo.SourceEventApplied(ctx, eventID)
	if err != nil {
		return model.OutcomeSkipped, classifyRepoError(err, "source event lookup failed")
	}
	if applied {
		log.Info("Event already applied to ledger, treating as success",
			zap.String("session_id", payload.SessionID))
		return model.OutcomeApplied, nil
	}

	// Resolve the paying customer to an internal account. Accounts exist
	// before checkout, so a miss is a data problem that retrying cannot fix.
	account, err := s.accountRepo.FindAccountByEmail(ctx, payload.CustomerEmail)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Error("No account for checkout customer email",
				zap.String("session_id", payload.SessionID))
			return model.OutcomeSkipped, apperrors.NewFatal(err, "no account for checkout customer email")
		}
		return model.OutcomeSkipped, classifyRepoError(err, "account lookup failed")
	}

	items, err := s.provider.SessionLineItems(ctx, payload.SessionID)
	if err != nil {
		log.Warn("Failed to fetch checkout line items",
			zap.String("session_id", payload.SessionID),
			zap.Error(err))
		// Provider API failures are transient until proven otherwise.
		return model.OutcomeSkipped, apperrors.NewRetryable(err, "fetching checkout line items failed")
	}

	totalCredits, grant := s.resolveGrant(ctx, items)
	if totalCredits <= 0 {
		log.Warn("Checkout session carries no catalog-priced items, skipping",
			zap.String("session_id", payload.SessionID),
			zap.Int("line_items", len(items)))
		return model.OutcomeSkipped, nil
	}

	txRecord, err := s.ledgerRepo.ApplyCredit(ctx, storage.ApplyCreditRequest{
		UserID:      account.ID,
		Amount:      int64(totalCredits),
		Type:        model.TransactionPurchase,
		Description: fmt.Sprintf("Purchased %d credits", totalCredits),
		Metadata: model.TransactionMetadata{
			SourceEventID: eventID,
			PaymentIntent: payload.PaymentIntent,
			Customer:      payload.CustomerID,
			ProductName:   grant.ProductName,
			AmountPaid:    payload.AmountTotal,
			PriceID:       grant.PriceID,
			Quantity:      grant.Quantity,
		},
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			// Lost the insert race against a concurrent replay of the same
			// event; the grant is on the books.
			log.Info("Concurrent replay already applied this event",
				zap.String("session_id", payload.SessionID))
			return model.OutcomeApplied, nil
		}
		return model.OutcomeSkipped, classifyRepoError(err, "applying credit grant failed")
	}

	log.Info("Granted checkout credits",
		zap.String("user_id", account.ID),
		zap.Int("credits", totalCredits),
		zap.Int64("balance_after", txRecord.BalanceAfter))
	return model.OutcomeApplied, nil
}

// resolveGrant sums the credit grant across line items and returns the first
// catalog-priced item for transaction metadata. Line items whose price is not
// in the catalog are logged and skipped; a partial grant is preferred over
// failing the whole purchase.
func (s *EventService) resolveGrant(ctx context.Context, items []LineItem) (int, LineItem) {
	log := logger.FromContext(ctx)

	total := 0
	var first LineItem
	for _, item := range items {
		credits, ok := s.catalog.Credits(item.PriceID)
		if !ok {
			log.Warn("Line item price not in credit catalog, skipping item",
				zap.String("price_id", item.PriceID),
				zap.String("product_name", item.ProductName))
			continue
		}
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		if total == 0 {
			first = item
		}
		total += credits * int(quantity)
	}
	return total, first
}
