package models

import "time"

// WebhookLog stores inbound provider webhook payload hashes for idempotent
// processing. A hash is processed at most once; re-delivery is a no-op.
type WebhookLog struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	PayloadHash string     `gorm:"type:char(64);not null;uniqueIndex" json:"payload_hash"`
	SessionID   string     `gorm:"type:char(36);default:'';index" json:"session_id"`
	Source      string     `gorm:"type:varchar(50);not null;default:'provider'" json:"source"`
	Processed   bool       `gorm:"default:false;index" json:"processed"`
	ProcessedAt *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
