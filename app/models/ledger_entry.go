package models

import "time"

// Ledger entry types. Negative amounts are debits, positive are credits.
const (
	LedgerEntryTopup      = "topup"
	LedgerEntryUsage      = "usage"
	LedgerEntryAdjustment = "adjustment"
	LedgerEntryRefund     = "refund"
	LedgerEntryIncluded   = "included"
)

// LedgerEntry is one immutable balance-affecting record for a
// (client, product) pair. BalanceAfter snapshots the running sum at insertion
// time; entries are never updated or deleted.
type LedgerEntry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ClientID     uint      `gorm:"not null;index:idx_ledger_entries_client_product,priority:1" json:"client_id"`
	ProductID    string    `gorm:"type:varchar(64);not null;index:idx_ledger_entries_client_product,priority:2" json:"product_id"`
	Amount       int64     `gorm:"not null" json:"amount"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`
	EntryType    string    `gorm:"type:varchar(20);not null;index" json:"entry_type"`
	ReferenceID  string    `gorm:"type:varchar(64);default:'';index" json:"reference_id"`
	Description  string    `gorm:"type:varchar(500);default:''" json:"description"`
	Actor        string    `gorm:"type:varchar(150);default:''" json:"actor"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// IsDebit reports whether the entry reduces the balance.
func (e *LedgerEntry) IsDebit() bool {
	return e.Amount < 0
}
