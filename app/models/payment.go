package models

import "time"

// Payment records money received against an invoice. Receipt numbers are
// unique platform-wide; ClientID is denormalized for listing without joins.
type Payment struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	InvoiceID      uint      `gorm:"not null;index" json:"invoice_id"`
	ClientID       uint      `gorm:"not null;index" json:"client_id"`
	ReceiptNumber  string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"receipt_number"`
	AmountCredits  int64     `gorm:"not null" json:"amount_credits"`
	AmountCurrency float64   `gorm:"not null" json:"amount_currency"`
	PaymentDate    time.Time `gorm:"type:date;not null" json:"payment_date"`
	Method         string    `gorm:"type:varchar(50);default:''" json:"method"`
	ExternalRef    string    `gorm:"type:varchar(128);default:''" json:"external_ref"`
	RecordedBy     string    `gorm:"type:varchar(150);default:''" json:"recorded_by"`
	ReceiptDocRef  string    `gorm:"type:varchar(255);default:''" json:"receipt_doc_ref,omitempty"`
	Notes          string    `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
