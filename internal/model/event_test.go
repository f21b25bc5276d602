package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownEventType(t *testing.T) {
	tests := []struct {
		name     string
		input    EventType
		expected bool
	}{
		{"checkout completed", EventCheckoutCompleted, true},
		{"subscription deleted", EventSubscriptionDeleted, true},
		{"charge refunded", EventChargeRefunded, true},
		{"unhandled stripe event", "invoice.paid", false},
		{"empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KnownEventType(tt.input))
		})
	}
}

func TestWebhookEvent_IsHandled(t *testing.T) {
	assert.False(t, (&WebhookEvent{ID: "evt_1", Type: "invoice.paid"}).IsHandled())

	assert.True(t, (&WebhookEvent{
		ID:       "evt_2",
		Type:     EventCheckoutCompleted,
		Checkout: &CheckoutCompletedPayload{SessionID: "cs_1"},
	}).IsHandled())

	assert.True(t, (&WebhookEvent{
		ID:           "evt_3",
		Type:         EventSubscriptionDeleted,
		Cancellation: &SubscriptionCancelledPayload{SubscriptionID: "sub_1", CustomerID: "cus_1"},
	}).IsHandled())

	assert.True(t, (&WebhookEvent{
		ID:     "evt_4",
		Type:   EventChargeRefunded,
		Refund: &ChargeRefundedPayload{ChargeID: "ch_1"},
	}).IsHandled())
}

func TestRetryQueueItem_BeforeCreate(t *testing.T) {
	t.Run("assigns id when missing", func(t *testing.T) {
		item := &RetryQueueItem{}
		require.NoError(t, item.BeforeCreate(nil))
		assert.NotEmpty(t, item.ID)
	})

	t.Run("keeps supplied id", func(t *testing.T) {
		item := &RetryQueueItem{ID: "fixed-id"}
		require.NoError(t, item.BeforeCreate(nil))
		assert.Equal(t, "fixed-id", item.ID)
	})
}

// Table names are part of the schema contract: the hand-written index DDL
// and the queue/ledger SQL all target these exact names, so they must not
// drift through a naming strategy (e.g. pluralization).
func TestTableNames(t *testing.T) {
	assert.Equal(t, "webhook_retry_queue", RetryQueueItem{}.TableName())
	assert.Equal(t, "user_credits", UserCredits{}.TableName())
	assert.Equal(t, "credit_transactions", CreditTransaction{}.TableName())
	assert.Equal(t, "user_accounts", UserAccount{}.TableName())
}

func TestRetryQueueItem_IsTerminal(t *testing.T) {
	assert.False(t, (&RetryQueueItem{}).IsTerminal())
	assert.True(t, (&RetryQueueItem{Processed: true}).IsTerminal())
}
