package invoicing_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verigate/verigate/app/models"
	"github.com/verigate/verigate/internal/pkg/invoicing"
)

// fakeRepo is an in-memory invoicing.Repository.
type fakeRepo struct {
	mu            sync.Mutex
	clients       map[uint]models.Client
	invoices      map[uint]*models.Invoice
	payments      map[uint]*models.Payment
	sessions      []models.VerificationSession
	tiers         map[string][]models.PricingTier
	balances      map[uint]int64
	nextInvoiceID uint
	nextPaymentID uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		clients:  make(map[uint]models.Client),
		invoices: make(map[uint]*models.Invoice),
		payments: make(map[uint]*models.Payment),
		tiers:    make(map[string][]models.PricingTier),
		balances: make(map[uint]int64),
	}
}

func (f *fakeRepo) addClient(c models.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[c.ID] = c
}

func (f *fakeRepo) addBilledSession(clientID uint, productID string, credits int64, billedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at := billedAt
	f.sessions = append(f.sessions, models.VerificationSession{
		ClientID:      clientID,
		ProductID:     productID,
		Status:        models.SessionStatusCompleted,
		Billed:        true,
		BilledCredits: credits,
		BilledAt:      &at,
	})
	f.balances[clientID] -= credits
}

func (f *fakeRepo) ClientByID(_ context.Context, id uint) (*models.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return nil, errors.New("client not found")
	}
	return &c, nil
}

func (f *fakeRepo) ActiveClients(_ context.Context) ([]models.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Client
	for _, c := range f.clients {
		if c.Status == models.STATUS_ACTIVE {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) LatestInvoice(_ context.Context, clientID uint) (*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.Invoice
	for _, inv := range f.invoices {
		if inv.ClientID != clientID || inv.Status == models.InvoiceStatusVoid {
			continue
		}
		if latest == nil || inv.PeriodEnd.After(latest.PeriodEnd) {
			latest = inv
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeRepo) UnpaidInvoices(_ context.Context, clientID uint, before time.Time) ([]models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Invoice
	for _, inv := range f.invoices {
		if inv.ClientID != clientID || inv.Status == models.InvoiceStatusVoid {
			continue
		}
		if inv.AmountPaidCredits < inv.AmountDueCredits && inv.PeriodEnd.Before(before) {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodEnd.Before(out[j].PeriodEnd) })
	return out, nil
}

func (f *fakeRepo) BilledSessionsInPeriod(_ context.Context, clientID uint, start, endExclusive time.Time) ([]models.VerificationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.VerificationSession
	for _, s := range f.sessions {
		if s.ClientID != clientID || !s.Billed || s.BilledAt == nil {
			continue
		}
		if s.BilledAt.Before(start) || !s.BilledAt.Before(endExclusive) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BilledAt.Before(*out[j].BilledAt) })
	return out, nil
}

func (f *fakeRepo) MonthBilledCountInRange(_ context.Context, clientID uint, from, until time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, s := range f.sessions {
		if s.ClientID != clientID || !s.Billed || s.BilledAt == nil {
			continue
		}
		if !s.BilledAt.Before(from) && s.BilledAt.Before(until) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) TiersFor(_ context.Context, clientID uint, productID string) ([]models.PricingTier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tiers[fmt.Sprintf("%d/%s", clientID, productID)], nil
}

func (f *fakeRepo) LedgerBalance(_ context.Context, clientID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[clientID], nil
}

func (f *fakeRepo) CountInvoices(_ context.Context, clientID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, inv := range f.invoices {
		if inv.ClientID == clientID {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) CreateInvoice(_ context.Context, invoice *models.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextInvoiceID++
	invoice.ID = f.nextInvoiceID
	cp := *invoice
	f.invoices[invoice.ID] = &cp
	return nil
}

func (f *fakeRepo) InvoiceByID(_ context.Context, id uint) (*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok {
		return nil, errors.New("invoice not found")
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeRepo) SetInvoiceDocument(_ context.Context, id uint, documentRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inv, ok := f.invoices[id]; ok {
		inv.DocumentRef = documentRef
	}
	return nil
}

func (f *fakeRepo) VoidInvoice(_ context.Context, invoiceID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return errors.New("invoice not found")
	}
	inv.Status = models.InvoiceStatusVoid
	for _, other := range f.invoices {
		if other.SupersededByID != nil && *other.SupersededByID == invoiceID {
			other.Status = models.InvoiceStatusGenerated
			other.SupersededByID = nil
		}
	}
	return nil
}

func (f *fakeRepo) SupersedeInvoice(_ context.Context, oldID, newID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[oldID]
	if !ok {
		return errors.New("invoice not found")
	}
	inv.Status = models.InvoiceStatusVoid
	inv.SupersededByID = &newID
	return nil
}

func (f *fakeRepo) ListInvoices(_ context.Context, clientID uint, limit int) ([]models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Invoice
	for _, inv := range f.invoices {
		if clientID != 0 && inv.ClientID != clientID {
			continue
		}
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) StaleInvoices(_ context.Context) ([]models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Invoice
	for _, inv := range f.invoices {
		if inv.Status == models.InvoiceStatusPending ||
			(inv.Status == models.InvoiceStatusGenerated && inv.DocumentRef == "") {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeleteInvoices(_ context.Context, ids []uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		if _, ok := f.invoices[id]; ok {
			delete(f.invoices, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeRepo) RecordPayment(_ context.Context, payment *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[payment.InvoiceID]
	if !ok {
		return errors.New("invoice not found")
	}
	if inv.AmountPaidCredits+payment.AmountCredits > inv.AmountDueCredits {
		return invoicing.ErrPaymentExceedsDue
	}
	inv.AmountPaidCredits += payment.AmountCredits
	inv.AmountPaidCurrency += payment.AmountCurrency
	f.nextPaymentID++
	payment.ID = f.nextPaymentID
	payment.ClientID = inv.ClientID
	cp := *payment
	f.payments[payment.ID] = &cp
	return nil
}

func (f *fakeRepo) CountPayments(_ context.Context, clientID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, p := range f.payments {
		if p.ClientID == clientID {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) PaymentByID(_ context.Context, id uint) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, errors.New("payment not found")
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) SetPaymentReceipt(_ context.Context, id uint, receiptRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[id]; ok {
		p.ReceiptDocRef = receiptRef
	}
	return nil
}

func (f *fakeRepo) ListPayments(_ context.Context, clientID uint, limit int) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for _, p := range f.payments {
		if clientID != 0 && p.ClientID != clientID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeRenderer returns deterministic references, or fails when told to.
type fakeRenderer struct {
	fail  bool
	calls int
}

func (r *fakeRenderer) Render(_ context.Context, kind string, _ any) (string, error) {
	r.calls++
	if r.fail {
		return "", errors.New("renderer offline")
	}
	return fmt.Sprintf("docs/%s-%d.pdf", kind, r.calls), nil
}

func withFixedClock(t *testing.T, at time.Time) {
	t.Helper()
	invoicing.Now = func() time.Time { return at }
	t.Cleanup(func() { invoicing.Now = time.Now })
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(repo *fakeRepo, renderer *fakeRenderer) *invoicing.Service {
	return invoicing.NewService(repo, renderer, 0.08, 10)
}

func TestGenerateFirstInvoiceFlatRate(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	repo.addClient(models.Client{ID: 1, Name: "acme", Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.January, 1)})

	for day := 5; day < 10; day++ {
		repo.addBilledSession(1, models.DefaultProductID, 40, date(2026, time.January, day))
	}

	svc := newTestService(repo, &fakeRenderer{})
	invoice, err := svc.Generate(context.Background(), 1, date(2026, time.January, 31), "admin")
	require.NoError(t, err)

	assert.Equal(t, "INV-1-00001", invoice.InvoiceNumber)
	assert.Equal(t, date(2026, time.January, 1), invoice.PeriodStart)
	assert.Equal(t, date(2026, time.January, 31), invoice.PeriodEnd)
	assert.Equal(t, int64(200), invoice.TotalUsageCredits)
	assert.Equal(t, int64(200), invoice.AmountDueCredits)
	assert.InDelta(t, 20.0, invoice.AmountDueCurrency, 1e-9)
	assert.InDelta(t, 1.6, invoice.TaxAmount, 1e-9)
	assert.InDelta(t, 21.6, invoice.TotalWithTax, 1e-9)
	assert.Equal(t, models.InvoiceStatusGenerated, invoice.Status)
	assert.NotEmpty(t, invoice.DocumentRef)

	require.Len(t, invoice.Lines, 1)
	assert.Equal(t, 5, invoice.Lines[0].Units)
	assert.Equal(t, int64(200), invoice.Lines[0].Credits)
}

func TestGenerateContiguousPeriods(t *testing.T) {
	withFixedClock(t, date(2026, time.March, 15))
	repo := newFakeRepo()
	repo.addClient(models.Client{ID: 1, Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.January, 1)})

	svc := newTestService(repo, &fakeRenderer{})
	first, err := svc.Generate(context.Background(), 1, date(2026, time.January, 31), "admin")
	require.NoError(t, err)

	second, err := svc.Generate(context.Background(), 1, date(2026, time.February, 28), "admin")
	require.NoError(t, err)

	assert.Equal(t, first.PeriodEnd.AddDate(0, 0, 1), second.PeriodStart)
	assert.Equal(t, "INV-1-00002", second.InvoiceNumber)

	// A period that ends before the next one starts is not billable.
	_, err = svc.Generate(context.Background(), 1, date(2026, time.February, 1), "admin")
	assert.ErrorIs(t, err, invoicing.ErrNoBillablePeriod)
}

func TestGenerateDefaultsEndToYesterday(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	repo.addClient(models.Client{ID: 1, Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.January, 1)})

	svc := newTestService(repo, &fakeRenderer{})
	invoice, err := svc.Generate(context.Background(), 1, time.Time{}, "admin")
	require.NoError(t, err)
	assert.Equal(t, date(2026, time.February, 9), invoice.PeriodEnd)
}

func TestGenerateAmountDueFollowsLiveBalance(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	repo.addClient(models.Client{ID: 1, Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.January, 1)})

	for day := 5; day < 10; day++ {
		repo.addBilledSession(1, models.DefaultProductID, 40, date(2026, time.January, day))
	}
	// A top-up after the period closed still reduces what the invoice asks for.
	repo.mu.Lock()
	repo.balances[1] += 500
	repo.mu.Unlock()

	svc := newTestService(repo, &fakeRenderer{})
	invoice, err := svc.Generate(context.Background(), 1, date(2026, time.January, 31), "admin")
	require.NoError(t, err)

	assert.Equal(t, int64(200), invoice.TotalUsageCredits)
	assert.Equal(t, int64(0), invoice.AmountDueCredits)
	assert.InDelta(t, 0.0, invoice.TotalWithTax, 1e-9)
}

func TestGenerateTierBucketedLines(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	repo.addClient(models.Client{ID: 1, Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.January, 1)})

	two := 2
	repo.tiers[fmt.Sprintf("%d/%s", 1, models.DefaultProductID)] = []models.PricingTier{
		{ClientID: 1, ProductID: models.DefaultProductID, Name: "Intro", MinVolume: 1, MaxVolume: &two, CreditsPerUnit: 40},
		{ClientID: 1, ProductID: models.DefaultProductID, Name: "Volume", MinVolume: 3, CreditsPerUnit: 25},
	}
	repo.addBilledSession(1, models.DefaultProductID, 40, date(2026, time.January, 5))
	repo.addBilledSession(1, models.DefaultProductID, 40, date(2026, time.January, 6))
	repo.addBilledSession(1, models.DefaultProductID, 25, date(2026, time.January, 7))
	repo.addBilledSession(1, models.DefaultProductID, 25, date(2026, time.January, 8))

	svc := newTestService(repo, &fakeRenderer{})
	invoice, err := svc.Generate(context.Background(), 1, date(2026, time.January, 31), "admin")
	require.NoError(t, err)

	require.Len(t, invoice.Lines, 2)
	byName := map[string]models.InvoiceLine{}
	for _, l := range invoice.Lines {
		byName[l.TierName] = l
	}
	assert.Equal(t, 2, byName["Intro"].Units)
	assert.Equal(t, int64(80), byName["Intro"].Credits)
	assert.Equal(t, int64(40), byName["Intro"].CreditsPerUnit)
	assert.Equal(t, 2, byName["Volume"].Units)
	assert.Equal(t, int64(50), byName["Volume"].Credits)
	assert.Equal(t, int64(130), invoice.TotalUsageCredits)
}

func TestGenerateCarriesOverUnpaidInvoices(t *testing.T) {
	withFixedClock(t, date(2026, time.March, 10))
	repo := newFakeRepo()
	repo.addClient(models.Client{ID: 1, Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.January, 1)})

	for day := 5; day < 10; day++ {
		repo.addBilledSession(1, models.DefaultProductID, 40, date(2026, time.January, day))
	}

	svc := newTestService(repo, &fakeRenderer{})
	first, err := svc.Generate(context.Background(), 1, date(2026, time.January, 31), "admin")
	require.NoError(t, err)
	require.Equal(t, int64(200), first.AmountDueCredits)

	second, err := svc.Generate(context.Background(), 1, date(2026, time.February, 28), "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(200), second.PrevBalanceCredits)
	// Live balance already reflects the unpaid usage.
	assert.Equal(t, int64(200), second.AmountDueCredits)
}

func TestPreviewDoesNotPersist(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	repo.addClient(models.Client{ID: 1, Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.January, 1)})
	repo.addBilledSession(1, models.DefaultProductID, 40, date(2026, time.January, 5))

	svc := newTestService(repo, &fakeRenderer{})
	draft, err := svc.Preview(context.Background(), 1, date(2026, time.January, 31))
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPending, draft.Status)
	assert.Empty(t, draft.InvoiceNumber)

	invoices, err := svc.ListInvoices(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestGenerateToleratesRenderFailure(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	repo.addClient(models.Client{ID: 1, Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.January, 1)})

	svc := newTestService(repo, &fakeRenderer{fail: true})
	invoice, err := svc.Generate(context.Background(), 1, date(2026, time.January, 31), "admin")
	require.NoError(t, err)
	assert.Empty(t, invoice.DocumentRef)
	assert.Equal(t, models.InvoiceStatusGenerated, invoice.Status)
}

func TestVoidRules(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	repo.addClient(models.Client{ID: 1, Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.January, 1)})
	repo.addBilledSession(1, models.DefaultProductID, 40, date(2026, time.January, 5))

	svc := newTestService(repo, &fakeRenderer{})
	invoice, err := svc.Generate(context.Background(), 1, date(2026, time.January, 31), "admin")
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), invoicing.PaymentInput{
		InvoiceID:     invoice.ID,
		AmountCredits: 40,
	})
	require.NoError(t, err)

	// An invoice with payments recorded cannot be voided.
	err = svc.Void(context.Background(), invoice.ID, "admin")
	assert.ErrorIs(t, err, invoicing.ErrInvoicePaid)
}

func TestVoidRestoresSupersededInvoice(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	repo.addClient(models.Client{ID: 1, Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.January, 1)})
	repo.addBilledSession(1, models.DefaultProductID, 40, date(2026, time.January, 5))

	svc := newTestService(repo, &fakeRenderer{})
	original, err := svc.Generate(context.Background(), 1, date(2026, time.January, 31), "admin")
	require.NoError(t, err)

	replacement, err := svc.Regenerate(context.Background(), original.ID, "admin")
	require.NoError(t, err)
	assert.NotEqual(t, original.ID, replacement.ID)
	assert.Equal(t, original.PeriodStart, replacement.PeriodStart)
	assert.Equal(t, original.PeriodEnd, replacement.PeriodEnd)

	voided, err := svc.InvoiceByID(context.Background(), original.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusVoid, voided.Status)
	require.NotNil(t, voided.SupersededByID)
	assert.Equal(t, replacement.ID, *voided.SupersededByID)

	// Voiding the replacement brings the original back.
	require.NoError(t, svc.Void(context.Background(), replacement.ID, "admin"))

	restored, err := svc.InvoiceByID(context.Background(), original.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusGenerated, restored.Status)
	assert.Nil(t, restored.SupersededByID)

	// Already void.
	err = svc.Void(context.Background(), replacement.ID, "admin")
	assert.ErrorIs(t, err, invoicing.ErrInvoiceVoid)
}

func TestCleanupStaleInvoices(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	repo.addClient(models.Client{ID: 1, Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.January, 1)})

	// Generated without a document (renderer down) is stale.
	svc := newTestService(repo, &fakeRenderer{fail: true})
	stale, err := svc.Generate(context.Background(), 1, date(2026, time.January, 31), "admin")
	require.NoError(t, err)

	deleted, err := svc.CleanupStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = svc.InvoiceByID(context.Background(), stale.ID)
	assert.Error(t, err)
}

func TestGenerateAllReportsPerClientOutcome(t *testing.T) {
	withFixedClock(t, date(2026, time.February, 10))
	repo := newFakeRepo()
	repo.addClient(models.Client{ID: 1, Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.January, 1)})
	// Created today: no billable day yet, skipped.
	repo.addClient(models.Client{ID: 2, Status: models.STATUS_ACTIVE, CreatedAt: date(2026, time.February, 10)})
	// Inactive clients are not considered at all.
	repo.addClient(models.Client{ID: 3, Status: models.STATUS_INACTIVE, CreatedAt: date(2026, time.January, 1)})

	svc := newTestService(repo, &fakeRenderer{})
	report, err := svc.GenerateAll(context.Background(), "scheduler")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Nil(t, report.Errors)
}
