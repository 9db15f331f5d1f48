package models

import "time"

// WhatsAppSession is the durable registry record for one logical WhatsApp
// connection. SessionID is the key the runtime adapter uses for its handle
// and credential store; the registry decides which session should be used,
// the runtime decides whether it is currently reachable.
type WhatsAppSession struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	Name            string `gorm:"size:100;not null;uniqueIndex"`
	SessionID       string `gorm:"size:64;not null;uniqueIndex"`
	PhoneNumber     string `gorm:"size:32"`
	Description     string `gorm:"type:text"`
	IsActive        bool   `gorm:"not null;index"`
	IsDefault       bool   `gorm:"not null;index"`
	IsConnected     bool   `gorm:"not null"` // best-effort mirror of runtime state
	LastConnectedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TableName pins the table name used by both MySQL and SQLite deployments.
func (WhatsAppSession) TableName() string {
	return "whatsapp_sessions"
}
