package models

import (
	"time"

	"gorm.io/gorm"
)

// Verification session lifecycle states.
const (
	SessionStatusPending    = "pending"
	SessionStatusProcessing = "processing"
	SessionStatusCompleted  = "completed"
	SessionStatusExpired    = "expired"
)

// Verification results for completed sessions.
const (
	SessionResultApproved = "approved"
	SessionResultRejected = "rejected"
)

// Provider document taxonomy persisted to object storage.
const (
	DocumentTypeFront     = "front"
	DocumentTypeBack      = "back"
	DocumentTypeFace      = "face"
	DocumentTypeBestFrame = "best_frame"
)

// VerificationSession is one billable unit of verification work. Mutated only
// by inbound provider webhook processing and the expiry sweep; rows are never
// hard-deleted.
type VerificationSession struct {
	ID                 string         `gorm:"type:char(36);primaryKey" json:"id"`
	ClientID           uint           `gorm:"not null;index" json:"client_id"`
	ProductID          string         `gorm:"type:varchar(64);not null;default:'identity_verification'" json:"product_id"`
	ReferenceID        string         `gorm:"type:varchar(32);not null;uniqueIndex" json:"reference_id"`
	Status             string         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Result             *string        `gorm:"type:varchar(20);default:null" json:"result"`
	RejectReason       string         `gorm:"type:varchar(500);default:''" json:"reject_reason,omitempty"`
	DocFrontRef        string         `gorm:"type:varchar(255);default:''" json:"doc_front_ref,omitempty"`
	DocBackRef         string         `gorm:"type:varchar(255);default:''" json:"doc_back_ref,omitempty"`
	FaceRef            string         `gorm:"type:varchar(255);default:''" json:"face_ref,omitempty"`
	BestFrameRef       string         `gorm:"type:varchar(255);default:''" json:"best_frame_ref,omitempty"`
	RawProviderPayload string         `gorm:"type:longtext" json:"-"`
	Billed             bool           `gorm:"default:false;index" json:"billed"`
	BilledCredits      int64          `gorm:"default:0" json:"billed_credits"`
	BilledAt           *time.Time     `gorm:"type:timestamp;default:null" json:"billed_at,omitempty"`
	WebhookDelivered   bool           `gorm:"default:false" json:"webhook_delivered"`
	WebhookDeliveredAt *time.Time     `gorm:"type:timestamp;default:null" json:"webhook_delivered_at,omitempty"`
	WebhookAttempts    int            `gorm:"default:0" json:"webhook_attempts"`
	WebhookLastError   string         `gorm:"type:text" json:"webhook_last_error,omitempty"`
	SuccessURL         string         `gorm:"type:varchar(500);default:''" json:"success_url,omitempty"`
	FailURL            string         `gorm:"type:varchar(500);default:''" json:"fail_url,omitempty"`
	Metadata           string         `gorm:"type:text" json:"metadata,omitempty"`
	ExpiresAt          time.Time      `gorm:"not null;index" json:"expires_at"`
	CreatedAt          time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsTerminal reports whether the session has reached a final state.
func (s *VerificationSession) IsTerminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusExpired
}
