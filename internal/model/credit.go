package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionSpend      TransactionType = "spend"
	TransactionRefund     TransactionType = "refund"
	TransactionAdjustment TransactionType = "adjustment"
)

// UserCredits is the per-user balance row. It is created lazily on the
// first credit and never deleted. balance = total_earned - total_spent
// holds on every committed state; all mutations go through atomic
// increment expressions, never read-modify-write.
type UserCredits struct {
	UserID      string    `json:"user_id" gorm:"primaryKey;type:text"`
	Balance     int64     `json:"balance" gorm:"not null;default:0;check:balance >= 0"`
	TotalEarned int64     `json:"total_earned" gorm:"not null;default:0"`
	TotalSpent  int64     `json:"total_spent" gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the UserCredits model.
func (UserCredits) TableName() string {
	return "user_credits"
}

// CreditTransaction is one append-only ledger entry. Replaying a user's
// entries in order reconstructs their balance; BalanceAfter records the
// balance the mutation committed with. The metadata carries the source
// event ID used for idempotency, at most one entry per source event.
type CreditTransaction struct {
	ID              string          `json:"id" gorm:"primaryKey;type:uuid"`
	UserID          string          `json:"user_id" gorm:"type:text;not null;index"`
	Amount          int64           `json:"amount" gorm:"not null"`
	TransactionType TransactionType `json:"transaction_type" gorm:"type:text;not null"`
	Description     string          `json:"description" gorm:"type:text"`
	Metadata        datatypes.JSON  `json:"metadata" gorm:"type:jsonb"`
	BalanceAfter    int64           `json:"balance_after_transaction" gorm:"column:balance_after_transaction;not null"`
	CreatedAt       time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for the CreditTransaction model.
func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// BeforeCreate assigns a UUID primary key when one was not supplied.
func (t *CreditTransaction) BeforeCreate(_ *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// TransactionMetadata is the structured form of CreditTransaction.Metadata.
// SourceEventID is omitted when empty so entries without one (manual
// adjustments) fall outside the unique source-event index.
type TransactionMetadata struct {
	SourceEventID string `json:"source_event_id,omitempty"`
	PaymentIntent string `json:"payment_intent,omitempty"`
	Customer      string `json:"customer,omitempty"`
	ProductName   string `json:"product_name,omitempty"`
	AmountPaid    int64  `json:"amount_paid,omitempty"`
	PriceID       string `json:"price_id,omitempty"`
	Quantity      int64  `json:"quantity,omitempty"`
}
