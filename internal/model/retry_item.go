package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RetryQueueItem represents a webhook delivery staged for reprocessing.
// The payload is stored verbatim so a retry replays exactly what the
// provider sent. Terminal rows (processed = true) are immutable and are
// only ever removed by Cleanup.
type RetryQueueItem struct {
	ID           string         `json:"id" gorm:"primaryKey;type:uuid"`
	WebhookType  string         `json:"webhook_type" gorm:"type:text;not null;index" validate:"required"`
	WebhookID    string         `json:"webhook_id" gorm:"type:text;not null;index" validate:"required"`
	Payload      datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	RetryCount   int            `json:"retry_count" gorm:"not null;default:0"`
	MaxRetries   int            `json:"max_retries" gorm:"not null"`
	ScheduledAt  time.Time      `json:"scheduled_at" gorm:"not null"`
	Processed    bool           `json:"processed" gorm:"not null;default:false"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the RetryQueueItem model. The name
// is fixed so it stays aligned with the hand-written index DDL regardless of
// the naming strategy.
func (RetryQueueItem) TableName() string {
	return "webhook_retry_queue"
}

// BeforeCreate assigns a UUID primary key when one was not supplied.
func (i *RetryQueueItem) BeforeCreate(_ *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// IsTerminal reports whether the item has left the pending set, either by
// succeeding or by exhausting its retry budget.
func (i *RetryQueueItem) IsTerminal() bool {
	return i.Processed
}
