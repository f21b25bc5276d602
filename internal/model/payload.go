package model

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v83"
)

// WebhookEvent is the decoded internal form of a provider event. Exactly one
// variant pointer is set for handled event types; none for unhandled ones,
// which callers detect via IsHandled.
type WebhookEvent struct {
	ID           string
	Type         EventType
	Checkout     *CheckoutCompletedPayload
	Cancellation *SubscriptionCancelledPayload
	Refund       *ChargeRefundedPayload
}

// IsHandled reports whether the event carries a variant this service acts on.
func (e *WebhookEvent) IsHandled() bool {
	return e.Checkout != nil || e.Cancellation != nil || e.Refund != nil
}

// CheckoutCompletedPayload carries the fields of a completed checkout session
// needed to grant credits.
type CheckoutCompletedPayload struct {
	SessionID     string `json:"session_id" validate:"required"`
	CustomerEmail string `json:"customer_email" validate:"required,email"`
	CustomerID    string `json:"customer_id,omitempty" validate:"omitempty"`
	PaymentIntent string `json:"payment_intent,omitempty" validate:"omitempty"`
	AmountTotal   int64  `json:"amount_total,omitempty" validate:"omitempty,gte=0"`
}

// SubscriptionCancelledPayload carries the subscription whose owner drops to
// the free tier. The customer email is resolved through the provider client
// since subscription objects do not embed one.
type SubscriptionCancelledPayload struct {
	SubscriptionID string `json:"subscription_id" validate:"required"`
	CustomerID     string `json:"customer_id" validate:"required"`
}

// ChargeRefundedPayload carries a refunded charge; the owning account drops
// to the free tier.
type ChargeRefundedPayload struct {
	ChargeID      string `json:"charge_id" validate:"required"`
	CustomerEmail string `json:"customer_email,omitempty" validate:"omitempty,email"`
	CustomerID    string `json:"customer_id,omitempty" validate:"omitempty"`
}

// DecodeStripeEvent converts a verified provider event into the internal
// tagged form. Unknown event types decode successfully with no variant set.
// A malformed inner object for a known type is a decode error; retrying will
// never fix it, so callers treat it as permanent.
func DecodeStripeEvent(event *stripe.Event) (*WebhookEvent, error) {
	out := &WebhookEvent{
		ID:   event.ID,
		Type: EventType(event.Type),
	}

	switch out.Type {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("decoding checkout session from event %s: %w", event.ID, err)
		}
		payload := &CheckoutCompletedPayload{
			SessionID:   session.ID,
			AmountTotal: session.AmountTotal,
		}
		if session.CustomerDetails != nil {
			payload.CustomerEmail = session.CustomerDetails.Email
		}
		if session.Customer != nil {
			payload.CustomerID = session.Customer.ID
		}
		if session.PaymentIntent != nil {
			payload.PaymentIntent = session.PaymentIntent.ID
		}
		out.Checkout = payload

	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decoding subscription from event %s: %w", event.ID, err)
		}
		payload := &SubscriptionCancelledPayload{
			SubscriptionID: sub.ID,
		}
		if sub.Customer != nil {
			payload.CustomerID = sub.Customer.ID
		}
		out.Cancellation = payload

	case EventChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("decoding charge from event %s: %w", event.ID, err)
		}
		payload := &ChargeRefundedPayload{
			ChargeID:      charge.ID,
			CustomerEmail: charge.ReceiptEmail,
		}
		if charge.BillingDetails != nil && charge.BillingDetails.Email != "" {
			payload.CustomerEmail = charge.BillingDetails.Email
		}
		if charge.Customer != nil {
			payload.CustomerID = charge.Customer.ID
		}
		out.Refund = payload
	}

	return out, nil
}

// DecodeStripePayload decodes a queued raw payload back into the internal
// event form. Queue items store the provider event verbatim, so replays see
// the same bytes the receiver saw.
func DecodeStripePayload(payload []byte) (*WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decoding stored webhook payload: %w", err)
	}
	return DecodeStripeEvent(&event)
}
