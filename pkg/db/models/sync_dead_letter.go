package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/catalog-sync/pkg/enums"
)

// SyncDeadLetter captures lifecycle messages that exhausted their delivery budget.
type SyncDeadLetter struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	MessageID     string                 `gorm:"column:message_id;not null;uniqueIndex" json:"messageId"`
	EventType     string                 `gorm:"column:event_type;not null" json:"eventType"`
	ProductID     *string                `gorm:"column:product_id;index" json:"productId,omitempty"`
	CorrelationID string                 `gorm:"column:correlation_id" json:"correlationId"`
	Payload       string                 `gorm:"column:payload_json;type:jsonb" json:"payload"`
	Reason        enums.DeadLetterReason `gorm:"column:reason;not null" json:"reason"`
	ErrorMessage  *string                `gorm:"column:error_message" json:"errorMessage,omitempty"`
	DeliveryCount int                    `gorm:"column:delivery_count;not null" json:"deliveryCount"`
	FailedAt      time.Time              `gorm:"column:failed_at;not null" json:"failedAt"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (SyncDeadLetter) TableName() string {
	return "sync_dead_letters"
}
