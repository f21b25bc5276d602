package provider

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v83"
	"go.uber.org/zap"

	"gitlab.com/inkstory/api/credit-webhook-processor/internal/usecase"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/logger"
)

// StripeClient exposes the subset of the Stripe API the processor needs.
// It satisfies usecase.ProviderClient.
type StripeClient struct {
	client *stripe.Client
}

// NewStripeClient creates a Stripe-backed provider client.
func NewStripeClient(apiKey string) (*StripeClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("stripe API key is required")
	}
	return &StripeClient{client: stripe.NewClient(apiKey)}, nil
}

// SessionLineItems lists the line items of a checkout session, reduced to
// the fields the credit grant needs.
func (c *StripeClient) SessionLineItems(ctx context.Context, sessionID string) ([]usecase.LineItem, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	var items []usecase.LineItem
	for li, err := range c.client.V1CheckoutSessions.ListLineItems(ctx, params) {
		if err != nil {
			return nil, fmt.Errorf("listing line items for session %s: %w", sessionID, err)
		}
		item := usecase.LineItem{
			ProductName: li.Description,
			Quantity:    li.Quantity,
			AmountTotal: li.AmountTotal,
		}
		if li.Price != nil {
			item.PriceID = li.Price.ID
		}
		items = append(items, item)
	}

	logger.FromContext(ctx).Debug("Fetched checkout session line items",
		zap.String("session_id", sessionID),
		zap.Int("count", len(items)))
	return items, nil
}

// CustomerEmail resolves a customer ID to the email on file. Deleted
// customers resolve to an empty email rather than an error; the caller
// decides what an unmatchable customer means.
func (c *StripeClient) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("customer ID is required")
	}

	cust, err := c.client.V1Customers.Retrieve(ctx, customerID, nil)
	if err != nil {
		return "", fmt.Errorf("retrieving customer %s: %w", customerID, err)
	}
	if cust.Deleted {
		return "", nil
	}
	return cust.Email, nil
}

var _ usecase.ProviderClient = (*StripeClient)(nil)
