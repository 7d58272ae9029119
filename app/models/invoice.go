package models

import "time"

// Invoice statuses.
const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusGenerated = "generated"
	InvoiceStatusVoid      = "void"
)

// Invoice captures one contiguous billing period for a client: aggregated
// tiered usage, carried-over unpaid balance, tax and running paid totals.
// Consecutive non-void invoices for a client tile the timeline with no gaps.
type Invoice struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	ClientID           uint       `gorm:"not null;index" json:"client_id"`
	InvoiceNumber      string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"invoice_number"`
	PeriodStart        time.Time  `gorm:"type:date;not null" json:"period_start"`
	PeriodEnd          time.Time  `gorm:"type:date;not null;index" json:"period_end"`
	TotalUsageCredits  int64      `gorm:"not null;default:0" json:"total_usage_credits"`
	PrevBalanceCredits int64      `gorm:"not null;default:0" json:"prev_balance_credits"`
	AmountDueCredits   int64      `gorm:"not null;default:0" json:"amount_due_credits"`
	AmountDueCurrency  float64    `gorm:"not null;default:0" json:"amount_due_currency"`
	TaxRate            float64    `gorm:"not null;default:0" json:"tax_rate"`
	TaxAmount          float64    `gorm:"not null;default:0" json:"tax_amount"`
	TotalWithTax       float64    `gorm:"not null;default:0" json:"total_with_tax"`
	AmountPaidCredits  int64      `gorm:"not null;default:0" json:"amount_paid_credits"`
	AmountPaidCurrency float64    `gorm:"not null;default:0" json:"amount_paid_currency"`
	Status             string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	SupersededByID     *uint      `gorm:"default:null" json:"superseded_by_id,omitempty"`
	DocumentRef        string     `gorm:"type:varchar(255);default:''" json:"document_ref,omitempty"`
	GeneratedAt        *time.Time `gorm:"type:timestamp;default:null" json:"generated_at,omitempty"`
	GeneratedBy        string     `gorm:"type:varchar(150);default:''" json:"generated_by"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Lines []InvoiceLine `gorm:"foreignKey:InvoiceID" json:"lines,omitempty"`
}

// InvoiceLine is the per-tier usage breakdown behind an invoice's total.
type InvoiceLine struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	InvoiceID      uint   `gorm:"not null;index" json:"invoice_id"`
	TierName       string `gorm:"type:varchar(100);not null" json:"tier_name"`
	Units          int    `gorm:"not null" json:"units"`
	CreditsPerUnit int64  `gorm:"not null" json:"credits_per_unit"`
	Credits        int64  `gorm:"not null" json:"credits"`
}

// OutstandingCredits returns the unpaid remainder of the invoice.
func (i *Invoice) OutstandingCredits() int64 {
	rest := i.AmountDueCredits - i.AmountPaidCredits
	if rest < 0 {
		return 0
	}
	return rest
}

// IsFullyPaid reports whether recorded payments cover the amount due.
func (i *Invoice) IsFullyPaid() bool {
	return i.AmountPaidCredits >= i.AmountDueCredits
}
