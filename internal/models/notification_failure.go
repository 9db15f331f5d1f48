package models

import "time"

// Notification failure statuses.
const (
	FailurePending   = "pending"
	FailureDelivered = "delivered"
	FailureAbandoned = "abandoned"
)

// NotificationFailure is a dead-letter entry for an outbound WhatsApp
// notification that could not be delivered. The retry job redrives pending
// rows once NextAttemptAt has passed.
type NotificationFailure struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Event         string    `gorm:"size:64;not null;index"`
	Recipient     string    `gorm:"size:32;not null"`
	SessionName   string    `gorm:"size:100"`
	Body          string    `gorm:"type:text;not null"`
	Kind          string    `gorm:"size:32;not null"` // not_connected, no_session, invalid_recipient, send_failed
	Error         string    `gorm:"type:text"`
	Attempts      int       `gorm:"not null;default:1"`
	Status        string    `gorm:"size:16;not null;default:pending;index"`
	NextAttemptAt time.Time `gorm:"index"`
	DeliveredAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
