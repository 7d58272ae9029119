package invoicing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/verigate/verigate/app/models"
)

// Repository provides DB operations used by the invoicing service.
type Repository interface {
	ClientByID(ctx context.Context, id uint) (*models.Client, error)
	ActiveClients(ctx context.Context) ([]models.Client, error)
	LatestInvoice(ctx context.Context, clientID uint) (*models.Invoice, error)
	UnpaidInvoices(ctx context.Context, clientID uint, before time.Time) ([]models.Invoice, error)
	BilledSessionsInPeriod(ctx context.Context, clientID uint, start, endExclusive time.Time) ([]models.VerificationSession, error)
	MonthBilledCountInRange(ctx context.Context, clientID uint, from, until time.Time) (int, error)
	TiersFor(ctx context.Context, clientID uint, productID string) ([]models.PricingTier, error)
	LedgerBalance(ctx context.Context, clientID uint) (int64, error)
	CountInvoices(ctx context.Context, clientID uint) (int64, error)
	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	InvoiceByID(ctx context.Context, id uint) (*models.Invoice, error)
	SetInvoiceDocument(ctx context.Context, id uint, documentRef string) error
	VoidInvoice(ctx context.Context, invoiceID uint) error
	SupersedeInvoice(ctx context.Context, oldID, newID uint) error
	ListInvoices(ctx context.Context, clientID uint, limit int) ([]models.Invoice, error)
	StaleInvoices(ctx context.Context) ([]models.Invoice, error)
	DeleteInvoices(ctx context.Context, ids []uint) (int64, error)
	RecordPayment(ctx context.Context, payment *models.Payment) error
	CountPayments(ctx context.Context, clientID uint) (int64, error)
	PaymentByID(ctx context.Context, id uint) (*models.Payment, error)
	SetPaymentReceipt(ctx context.Context, id uint, receiptRef string) error
	ListPayments(ctx context.Context, clientID uint, limit int) ([]models.Payment, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an invoicing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) ClientByID(ctx context.Context, id uint) (*models.Client, error) {
	var client models.Client
	if err := r.db.WithContext(ctx).First(&client, id).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *gormRepository) ActiveClients(ctx context.Context) ([]models.Client, error) {
	var clients []models.Client
	err := r.db.WithContext(ctx).Where("status = ?", models.STATUS_ACTIVE).Find(&clients).Error
	return clients, err
}

// LatestInvoice returns the client's most recent non-void invoice by period
// end, or nil when none exists.
func (r *gormRepository) LatestInvoice(ctx context.Context, clientID uint) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND status <> ?", clientID, models.InvoiceStatusVoid).
		Order("period_end DESC").
		First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *gormRepository) UnpaidInvoices(ctx context.Context, clientID uint, before time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND status <> ? AND amount_paid_credits < amount_due_credits AND period_end < ?",
			clientID, models.InvoiceStatusVoid, before).
		Order("period_end ASC").
		Find(&invoices).Error
	return invoices, err
}

func (r *gormRepository) BilledSessionsInPeriod(ctx context.Context, clientID uint, start, endExclusive time.Time) ([]models.VerificationSession, error) {
	var sessions []models.VerificationSession
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND billed = ? AND status = ? AND billed_at >= ? AND billed_at < ?",
			clientID, true, models.SessionStatusCompleted, start, endExclusive).
		Order("billed_at ASC, id ASC").
		Find(&sessions).Error
	return sessions, err
}

func (r *gormRepository) MonthBilledCountInRange(ctx context.Context, clientID uint, from, until time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.VerificationSession{}).
		Where("client_id = ? AND billed = ? AND billed_at >= ? AND billed_at < ?", clientID, true, from, until).
		Count(&count).Error
	return int(count), err
}

func (r *gormRepository) TiersFor(ctx context.Context, clientID uint, productID string) ([]models.PricingTier, error) {
	var tiers []models.PricingTier
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND product_id = ?", clientID, productID).
		Order("min_volume ASC").
		Find(&tiers).Error
	return tiers, err
}

// LedgerBalance sums all ledger entries for the client across products,
// holding the client row lock so a concurrent billing transaction cannot
// interleave between read and invoice write.
func (r *gormRepository) LedgerBalance(ctx context.Context, clientID uint) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var client models.Client
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&client, clientID).Error; err != nil {
			return err
		}
		return tx.Model(&models.LedgerEntry{}).
			Where("client_id = ?", clientID).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&balance).Error
	})
	return balance, err
}

func (r *gormRepository) CountInvoices(ctx context.Context, clientID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("client_id = ?", clientID).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *gormRepository) InvoiceByID(ctx context.Context, id uint) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).Preload("Lines").First(&invoice, id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *gormRepository) SetInvoiceDocument(ctx context.Context, id uint, documentRef string) error {
	return r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", id).
		Update("document_ref", documentRef).Error
}

// VoidInvoice marks the invoice void and restores any invoice it superseded
// in the same transaction.
func (r *gormRepository) VoidInvoice(ctx context.Context, invoiceID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Invoice{}).
			Where("id = ?", invoiceID).
			Update("status", models.InvoiceStatusVoid).Error; err != nil {
			return err
		}
		return tx.Model(&models.Invoice{}).
			Where("superseded_by_id = ?", invoiceID).
			Updates(map[string]interface{}{
				"status":           models.InvoiceStatusGenerated,
				"superseded_by_id": nil,
			}).Error
	})
}

// SupersedeInvoice voids the old invoice and records which invoice replaced
// it, so a later void of the replacement can restore it.
func (r *gormRepository) SupersedeInvoice(ctx context.Context, oldID, newID uint) error {
	return r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", oldID).
		Updates(map[string]interface{}{
			"status":           models.InvoiceStatusVoid,
			"superseded_by_id": newID,
		}).Error
}

func (r *gormRepository) ListInvoices(ctx context.Context, clientID uint, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	q := r.db.WithContext(ctx).Order("period_end DESC, id DESC")
	if clientID != 0 {
		q = q.Where("client_id = ?", clientID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&invoices).Error
	return invoices, err
}

// StaleInvoices finds invoices that never reached a client-visible, payable
// state: stuck pending, or generated without a rendered document.
func (r *gormRepository) StaleInvoices(ctx context.Context) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND document_ref = '')",
			models.InvoiceStatusPending, models.InvoiceStatusGenerated).
		Find(&invoices).Error
	return invoices, err
}

func (r *gormRepository) DeleteInvoices(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("invoice_id IN ?", ids).Delete(&models.InvoiceLine{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&models.Invoice{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}

// RecordPayment creates the payment and bumps the invoice's paid totals
// under a row lock on the invoice, rejecting overpayment.
func (r *gormRepository) RecordPayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invoice models.Invoice
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&invoice, payment.InvoiceID).Error; err != nil {
			return err
		}
		if invoice.AmountPaidCredits+payment.AmountCredits > invoice.AmountDueCredits {
			return ErrPaymentExceedsDue
		}
		if err := tx.Model(&invoice).Updates(map[string]interface{}{
			"amount_paid_credits":  gorm.Expr("amount_paid_credits + ?", payment.AmountCredits),
			"amount_paid_currency": gorm.Expr("amount_paid_currency + ?", payment.AmountCurrency),
		}).Error; err != nil {
			return err
		}
		payment.ClientID = invoice.ClientID
		return tx.Create(payment).Error
	})
}

func (r *gormRepository) CountPayments(ctx context.Context, clientID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("client_id = ?", clientID).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) PaymentByID(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *gormRepository) SetPaymentReceipt(ctx context.Context, id uint, receiptRef string) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ?", id).
		Update("receipt_doc_ref", receiptRef).Error
}

func (r *gormRepository) ListPayments(ctx context.Context, clientID uint, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	q := r.db.WithContext(ctx).Order("payment_date DESC, id DESC")
	if clientID != 0 {
		q = q.Where("client_id = ?", clientID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&payments).Error
	return payments, err
}
