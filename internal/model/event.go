package model

// WebhookType identifies the inbound webhook source stored on queue items.
type WebhookType string

const (
	WebhookTypeStripe WebhookType = "stripe"
)

// EventType represents the provider event types this service reacts to.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.session.completed"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventChargeRefunded      EventType = "charge.refunded"
)

// KnownEventType reports whether the given type belongs to the handled set.
// Anything else is decoded as an unhandled event and acknowledged without
// side effects.
func KnownEventType(t EventType) bool {
	switch t {
	case EventCheckoutCompleted, EventSubscriptionDeleted, EventChargeRefunded:
		return true
	default:
		return false
	}
}

// DispatchOutcome describes what processing an event actually did.
type DispatchOutcome int

const (
	// OutcomeApplied means the event produced (or had already produced) its
	// ledger or account mutation.
	OutcomeApplied DispatchOutcome = iota
	// OutcomeSkipped means the event carried no work for this service.
	OutcomeSkipped
)

// BatchSummary is the result of one scheduler batch run.
type BatchSummary struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
