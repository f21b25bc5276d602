package model

import "time"

// SubscriptionTier is the account's current plan.
type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "free"
	TierBasic   SubscriptionTier = "basic"
	TierPremium SubscriptionTier = "premium"
)

// UserAccount maps a payment-provider customer email to an internal user.
// Accounts are provisioned elsewhere; this service only resolves and
// downgrades them.
type UserAccount struct {
	ID               string           `json:"id" gorm:"primaryKey;type:text"`
	Email            string           `json:"email" gorm:"type:text;uniqueIndex;not null" validate:"required,email"`
	SubscriptionTier SubscriptionTier `json:"subscription_tier" gorm:"type:text;not null;default:free"`
	CreatedAt        time.Time        `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time        `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the UserAccount model.
func (UserAccount) TableName() string {
	return "user_accounts"
}
