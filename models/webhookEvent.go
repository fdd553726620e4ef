package models

import "time"

// WebhookEvent records provider notifications for deduplication and operator visibility.
// Unique constraint: (provider, event_id).
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"size:32;not null;index:uniq_webhook_event,unique,priority:1" json:"provider"`
	EventID         string     `gorm:"size:191;not null;index:uniq_webhook_event,unique,priority:2" json:"eventId"`
	EventType       string     `gorm:"size:100;not null;index" json:"eventType"`
	PaymentID       string     `gorm:"size:64;index" json:"paymentId"`
	SignatureValid  bool       `gorm:"not null;default:false" json:"signatureValid"`
	ProcessedAt     *time.Time `json:"processedAt,omitempty"`
	ProcessingError *string    `gorm:"type:text" json:"processingError,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
