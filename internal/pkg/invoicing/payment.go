package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/verigate/verigate/app/models"
	"github.com/verigate/verigate/internal/pkg/docrender"
)

// PaymentInput is a manual payment entry recorded by an operator.
type PaymentInput struct {
	InvoiceID     uint      `json:"invoice_id" validate:"required"`
	AmountCredits int64     `json:"amount_credits" validate:"required"`
	PaymentDate   time.Time `json:"payment_date"`
	Method        string    `json:"method" validate:"max=50"`
	ExternalRef   string    `json:"external_ref" validate:"max=128"`
	RecordedBy    string    `json:"recorded_by" validate:"max=150"`
	Notes         string    `json:"notes"`
}

func (in *PaymentInput) Validate() error {
	v := validator.New()

	return v.Struct(in)
}

// RecordPayment records money received against an invoice, updating the
// invoice's paid totals under a row lock and issuing a unique receipt number.
// Receipt rendering is best-effort.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (*models.Payment, error) {
	if in.AmountCredits <= 0 {
		return nil, ErrInvalidAmount
	}

	invoice, err := s.repo.InvoiceByID(ctx, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == models.InvoiceStatusVoid {
		return nil, ErrInvoiceVoid
	}

	seq, err := s.repo.CountPayments(ctx, invoice.ClientID)
	if err != nil {
		return nil, err
	}

	paymentDate := dateOnly(in.PaymentDate)
	if in.PaymentDate.IsZero() {
		paymentDate = dateOnly(Now())
	}

	payment := &models.Payment{
		InvoiceID:      invoice.ID,
		ClientID:       invoice.ClientID,
		ReceiptNumber:  fmt.Sprintf("RCT-%d-%05d", invoice.ClientID, seq+1),
		AmountCredits:  in.AmountCredits,
		AmountCurrency: float64(in.AmountCredits) / s.CreditsPerUnit,
		PaymentDate:    paymentDate,
		Method:         in.Method,
		ExternalRef:    in.ExternalRef,
		RecordedBy:     in.RecordedBy,
		Notes:          in.Notes,
	}
	if err := s.repo.RecordPayment(ctx, payment); err != nil {
		return nil, err
	}

	if ref, err := s.renderer.Render(ctx, docrender.KindReceipt, payment); err != nil {
		log.Warnf("receipt %s: document render failed: %v", payment.ReceiptNumber, err)
	} else if err := s.repo.SetPaymentReceipt(ctx, payment.ID, ref); err != nil {
		log.Warnf("receipt %s: saving document reference failed: %v", payment.ReceiptNumber, err)
	} else {
		payment.ReceiptDocRef = ref
	}

	log.Infof("recorded payment %s of %d credits against invoice %s",
		payment.ReceiptNumber, payment.AmountCredits, invoice.InvoiceNumber)
	return payment, nil
}

// PaymentEventPayload is the body of an invoice.paid webhook delivery.
type PaymentEventPayload struct {
	InvoiceNumber  string    `json:"invoice_number"`
	ReceiptNumber  string    `json:"receipt_number"`
	AmountCredits  int64     `json:"amount_credits"`
	AmountCurrency float64   `json:"amount_currency"`
	PaymentDate    time.Time `json:"payment_date"`
	FullyPaid      bool      `json:"fully_paid"`
}

// PaidNotification assembles everything the synchronous mark-as-paid webhook
// needs: the client to deliver to and the event payload.
func (s *Service) PaidNotification(ctx context.Context, paymentID uint) (*models.Client, *PaymentEventPayload, error) {
	payment, err := s.repo.PaymentByID(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	invoice, err := s.repo.InvoiceByID(ctx, payment.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	client, err := s.repo.ClientByID(ctx, payment.ClientID)
	if err != nil {
		return nil, nil, err
	}
	return client, &PaymentEventPayload{
		InvoiceNumber:  invoice.InvoiceNumber,
		ReceiptNumber:  payment.ReceiptNumber,
		AmountCredits:  payment.AmountCredits,
		AmountCurrency: payment.AmountCurrency,
		PaymentDate:    payment.PaymentDate,
		FullyPaid:      invoice.IsFullyPaid(),
	}, nil
}

// ListPayments returns payments, newest first. clientID 0 lists all.
func (s *Service) ListPayments(ctx context.Context, clientID uint, limit int) ([]models.Payment, error) {
	return s.repo.ListPayments(ctx, clientID, limit)
}
