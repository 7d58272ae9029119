package invoicing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verigate/verigate/app/models"
	"github.com/verigate/verigate/internal/pkg/invoicing"
)

func setupInvoiceForPayment(t *testing.T, repo *fakeRepo, svc *invoicing.Service) *models.Invoice {
	t.Helper()
	repo.addClient(models.Client{ID: 1, Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.January, 1)})
	for day := 5; day < 10; day++ {
		repo.addBilledSession(1, models.DefaultProductID, 40, date(2026, time.January, day))
	}
	invoice, err := svc.Generate(context.Background(), 1, date(2026, time.January, 31), "admin")
	require.NoError(t, err)
	require.Equal(t, int64(200), invoice.AmountDueCredits)
	return invoice
}

func TestRecordPaymentUpdatesInvoiceTotals(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeRenderer{})
	invoice := setupInvoiceForPayment(t, repo, svc)

	payment, err := svc.RecordPayment(context.Background(), invoicing.PaymentInput{
		InvoiceID:     invoice.ID,
		AmountCredits: 150,
		Method:        "bank_transfer",
		RecordedBy:    "admin",
	})
	require.NoError(t, err)

	assert.Equal(t, "RCT-1-00001", payment.ReceiptNumber)
	assert.Equal(t, int64(150), payment.AmountCredits)
	assert.InDelta(t, 15.0, payment.AmountCurrency, 1e-9)
	assert.Equal(t, uint(1), payment.ClientID)
	assert.Equal(t, date(2026, time.February, 10), payment.PaymentDate)
	assert.NotEmpty(t, payment.ReceiptDocRef)

	updated, err := svc.InvoiceByID(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), updated.AmountPaidCredits)
	assert.False(t, updated.IsFullyPaid())
	assert.Equal(t, int64(50), updated.OutstandingCredits())

	second, err := svc.RecordPayment(context.Background(), invoicing.PaymentInput{
		InvoiceID:     invoice.ID,
		AmountCredits: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, "RCT-1-00002", second.ReceiptNumber)

	updated, err = svc.InvoiceByID(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsFullyPaid())
}

func TestRecordPaymentRejectsInvalidAmounts(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeRenderer{})
	invoice := setupInvoiceForPayment(t, repo, svc)

	for _, amount := range []int64{0, -50} {
		_, err := svc.RecordPayment(context.Background(), invoicing.PaymentInput{
			InvoiceID:     invoice.ID,
			AmountCredits: amount,
		})
		assert.ErrorIs(t, err, invoicing.ErrInvalidAmount)
	}
}

func TestRecordPaymentRejectsOverpayment(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeRenderer{})
	invoice := setupInvoiceForPayment(t, repo, svc)

	_, err := svc.RecordPayment(context.Background(), invoicing.PaymentInput{
		InvoiceID:     invoice.ID,
		AmountCredits: 250,
	})
	assert.ErrorIs(t, err, invoicing.ErrPaymentExceedsDue)

	updated, err := svc.InvoiceByID(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated.AmountPaidCredits)
}

func TestRecordPaymentRejectsVoidInvoice(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeRenderer{})
	invoice := setupInvoiceForPayment(t, repo, svc)

	require.NoError(t, svc.Void(context.Background(), invoice.ID, "admin"))

	_, err := svc.RecordPayment(context.Background(), invoicing.PaymentInput{
		InvoiceID:     invoice.ID,
		AmountCredits: 100,
	})
	assert.ErrorIs(t, err, invoicing.ErrInvoiceVoid)
}

func TestRecordPaymentToleratesReceiptRenderFailure(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	renderer := &fakeRenderer{}
	svc := newTestService(repo, renderer)
	invoice := setupInvoiceForPayment(t, repo, svc)

	renderer.fail = true
	payment, err := svc.RecordPayment(context.Background(), invoicing.PaymentInput{
		InvoiceID:     invoice.ID,
		AmountCredits: 100,
	})
	require.NoError(t, err)
	assert.Empty(t, payment.ReceiptDocRef)
}

func TestPaidNotificationPayload(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeRenderer{})
	invoice := setupInvoiceForPayment(t, repo, svc)

	payment, err := svc.RecordPayment(context.Background(), invoicing.PaymentInput{
		InvoiceID:     invoice.ID,
		AmountCredits: 200,
	})
	require.NoError(t, err)

	client, payload, err := svc.PaidNotification(context.Background(), payment.ID)
	require.NoError(t, err)

	assert.Equal(t, uint(1), client.ID)
	assert.Equal(t, invoice.InvoiceNumber, payload.InvoiceNumber)
	assert.Equal(t, payment.ReceiptNumber, payload.ReceiptNumber)
	assert.Equal(t, int64(200), payload.AmountCredits)
	assert.True(t, payload.FullyPaid)
}

func TestListPaymentsFiltersByClient(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeRenderer{})
	invoice := setupInvoiceForPayment(t, repo, svc)

	_, err := svc.RecordPayment(context.Background(), invoicing.PaymentInput{
		InvoiceID:     invoice.ID,
		AmountCredits: 50,
	})
	require.NoError(t, err)

	payments, err := svc.ListPayments(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	none, err := svc.ListPayments(context.Background(), 99, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
