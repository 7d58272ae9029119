package invoicing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/verigate/verigate/app/models"
	"github.com/verigate/verigate/internal/pkg/docrender"
	"github.com/verigate/verigate/internal/pkg/env"
	"github.com/verigate/verigate/internal/pkg/pricing"
)

var (
	ErrNoBillablePeriod  = errors.New("no billable period for client")
	ErrInvoicePaid       = errors.New("invoice has recorded payments")
	ErrInvoiceVoid       = errors.New("invoice is void")
	ErrInvalidAmount     = errors.New("payment amount must be positive")
	ErrPaymentExceedsDue = errors.New("payment exceeds invoice amount due")
)

// Now is swapped out in tests to pin period defaults.
var Now = time.Now

const defaultTierName = "Standard"

// Service generates invoices from billed usage and records payments against
// them. Amount due always comes from the live ledger balance, so credit
// top-ups made after the period closed still reduce what an invoice asks for.
type Service struct {
	repo     Repository
	renderer docrender.Renderer

	// TaxRate is applied to the currency amount due. CreditsPerUnit is the
	// credits-to-currency conversion divisor.
	TaxRate        float64
	CreditsPerUnit float64
}

// NewService creates an invoicing service from injected collaborators.
func NewService(repo Repository, renderer docrender.Renderer, taxRate, creditsPerUnit float64) *Service {
	if creditsPerUnit <= 0 {
		creditsPerUnit = 1
	}
	return &Service{
		repo:           repo,
		renderer:       renderer,
		TaxRate:        taxRate,
		CreditsPerUnit: creditsPerUnit,
	}
}

// NewServiceFromDB wires the GORM repository and reads billing rates from the
// environment (BILLING_TAX_RATE, BILLING_CREDITS_PER_UNIT).
func NewServiceFromDB(db *gorm.DB, renderer docrender.Renderer) *Service {
	taxRate, err := strconv.ParseFloat(env.GetEnv("BILLING_TAX_RATE", "0.08"), 64)
	if err != nil || taxRate < 0 {
		taxRate = 0.08
	}
	creditsPerUnit, err := strconv.ParseFloat(env.GetEnv("BILLING_CREDITS_PER_UNIT", "10"), 64)
	if err != nil || creditsPerUnit <= 0 {
		creditsPerUnit = 10
	}
	return NewService(NewRepository(db), renderer, taxRate, creditsPerUnit)
}

// Preview computes the invoice a Generate call would produce, without
// persisting anything.
func (s *Service) Preview(ctx context.Context, clientID uint, endDate time.Time) (*models.Invoice, error) {
	client, err := s.repo.ClientByID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	start, end, err := s.periodFor(ctx, client, endDate)
	if err != nil {
		return nil, err
	}
	return s.compute(ctx, client, start, end)
}

// Generate computes and persists the client's next invoice. The period starts
// the day after the last non-void invoice ended (or on the client's creation
// date) and runs through endDate, defaulting to yesterday. Document rendering
// is best-effort; a render failure leaves the reference empty.
func (s *Service) Generate(ctx context.Context, clientID uint, endDate time.Time, actor string) (*models.Invoice, error) {
	client, err := s.repo.ClientByID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	start, end, err := s.periodFor(ctx, client, endDate)
	if err != nil {
		return nil, err
	}
	return s.generate(ctx, client, start, end, actor)
}

// Regenerate replaces a wrong invoice with a freshly computed one over the
// same period. The old invoice is voided and linked to its replacement, so
// voiding the replacement later restores it.
func (s *Service) Regenerate(ctx context.Context, invoiceID uint, actor string) (*models.Invoice, error) {
	old, err := s.repo.InvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if old.Status == models.InvoiceStatusVoid {
		return nil, ErrInvoiceVoid
	}
	if old.AmountPaidCredits > 0 {
		return nil, ErrInvoicePaid
	}
	client, err := s.repo.ClientByID(ctx, old.ClientID)
	if err != nil {
		return nil, err
	}

	replacement, err := s.generate(ctx, client, dateOnly(old.PeriodStart), dateOnly(old.PeriodEnd), actor)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SupersedeInvoice(ctx, old.ID, replacement.ID); err != nil {
		return nil, err
	}
	log.Infof("invoice %s superseded by %s (client %d, actor %s)",
		old.InvoiceNumber, replacement.InvoiceNumber, client.ID, actor)
	return replacement, nil
}

func (s *Service) generate(ctx context.Context, client *models.Client, start, end time.Time, actor string) (*models.Invoice, error) {
	invoice, err := s.compute(ctx, client, start, end)
	if err != nil {
		return nil, err
	}

	seq, err := s.repo.CountInvoices(ctx, client.ID)
	if err != nil {
		return nil, err
	}
	now := Now()
	invoice.InvoiceNumber = fmt.Sprintf("INV-%d-%05d", client.ID, seq+1)
	invoice.Status = models.InvoiceStatusGenerated
	invoice.GeneratedAt = &now
	invoice.GeneratedBy = actor

	if err := s.repo.CreateInvoice(ctx, invoice); err != nil {
		return nil, err
	}

	if ref, err := s.renderer.Render(ctx, docrender.KindInvoice, invoice); err != nil {
		log.Warnf("invoice %s: document render failed: %v", invoice.InvoiceNumber, err)
	} else if err := s.repo.SetInvoiceDocument(ctx, invoice.ID, ref); err != nil {
		log.Warnf("invoice %s: saving document reference failed: %v", invoice.InvoiceNumber, err)
	} else {
		invoice.DocumentRef = ref
	}

	log.Infof("generated invoice %s for client %d: period %s..%s, due %d credits",
		invoice.InvoiceNumber, client.ID,
		invoice.PeriodStart.Format("2006-01-02"), invoice.PeriodEnd.Format("2006-01-02"),
		invoice.AmountDueCredits)
	return invoice, nil
}

// periodFor resolves the next contiguous billing period. Consecutive non-void
// invoices tile the client's timeline with no gaps or overlaps.
func (s *Service) periodFor(ctx context.Context, client *models.Client, endDate time.Time) (time.Time, time.Time, error) {
	last, err := s.repo.LatestInvoice(ctx, client.ID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	start := dateOnly(client.CreatedAt)
	if last != nil {
		start = dateOnly(last.PeriodEnd).AddDate(0, 0, 1)
	}

	end := dateOnly(endDate)
	if endDate.IsZero() {
		end = dateOnly(Now()).AddDate(0, 0, -1)
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, ErrNoBillablePeriod
	}
	return start, end, nil
}

func (s *Service) compute(ctx context.Context, client *models.Client, start, end time.Time) (*models.Invoice, error) {
	endExclusive := end.AddDate(0, 0, 1)
	sessions, err := s.repo.BilledSessionsInPeriod(ctx, client.ID, start, endExclusive)
	if err != nil {
		return nil, err
	}

	lines, totalUsage, err := s.buildLines(ctx, client.ID, sessions, start)
	if err != nil {
		return nil, err
	}

	prevBalance, err := s.carriedOver(ctx, client.ID, start)
	if err != nil {
		return nil, err
	}

	balance, err := s.repo.LedgerBalance(ctx, client.ID)
	if err != nil {
		return nil, err
	}
	dueCredits := int64(0)
	if balance < 0 {
		dueCredits = -balance
	}

	dueCurrency := float64(dueCredits) / s.CreditsPerUnit
	taxAmount := dueCurrency * s.TaxRate

	return &models.Invoice{
		ClientID:           client.ID,
		PeriodStart:        start,
		PeriodEnd:          end,
		TotalUsageCredits:  totalUsage,
		PrevBalanceCredits: prevBalance,
		AmountDueCredits:   dueCredits,
		AmountDueCurrency:  dueCurrency,
		TaxRate:            s.TaxRate,
		TaxAmount:          taxAmount,
		TotalWithTax:       dueCurrency + taxAmount,
		Status:             models.InvoiceStatusPending,
		Lines:              lines,
	}, nil
}

// buildLines buckets the period's billed sessions by the pricing tier each
// unit fell into, replaying the monthly volume position that applied when it
// was billed. Line credit totals come from the amounts actually debited.
func (s *Service) buildLines(ctx context.Context, clientID uint, sessions []models.VerificationSession, periodStart time.Time) ([]models.InvoiceLine, int64, error) {
	type bucket struct {
		name    string
		units   int
		perUnit int64
		credits int64
	}
	buckets := make(map[string]*bucket)
	var order []string

	tiersByProduct := make(map[string][]models.PricingTier)
	monthOffsets := make(map[time.Time]int)
	monthSeen := make(map[time.Time]int)
	var totalUsage int64

	for i := range sessions {
		sess := &sessions[i]
		if sess.BilledAt == nil {
			continue
		}
		totalUsage += sess.BilledCredits

		tiers, ok := tiersByProduct[sess.ProductID]
		if !ok {
			var err error
			tiers, err = s.repo.TiersFor(ctx, clientID, sess.ProductID)
			if err != nil {
				return nil, 0, err
			}
			tiersByProduct[sess.ProductID] = tiers
		}

		monthStart := time.Date(sess.BilledAt.Year(), sess.BilledAt.Month(), 1, 0, 0, 0, 0, time.UTC)
		if _, ok := monthOffsets[monthStart]; !ok {
			offset := 0
			if monthStart.Before(periodStart) {
				var err error
				offset, err = s.repo.MonthBilledCountInRange(ctx, clientID, monthStart, periodStart)
				if err != nil {
					return nil, 0, err
				}
			}
			monthOffsets[monthStart] = offset
		}
		monthSeen[monthStart]++
		position := monthOffsets[monthStart] + monthSeen[monthStart]

		name := defaultTierName
		perUnit := pricing.DefaultUnitCost
		if tier := pricing.TierForPosition(tiers, position); tier != nil {
			name = tier.Name
			perUnit = tier.CreditsPerUnit
		}

		key := fmt.Sprintf("%s@%d", name, perUnit)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{name: name, perUnit: perUnit}
			buckets[key] = b
			order = append(order, key)
		}
		b.units++
		b.credits += sess.BilledCredits
	}

	sort.Strings(order)
	lines := make([]models.InvoiceLine, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		lines = append(lines, models.InvoiceLine{
			TierName:       b.name,
			Units:          b.units,
			CreditsPerUnit: b.perUnit,
			Credits:        b.credits,
		})
	}
	return lines, totalUsage, nil
}

func (s *Service) carriedOver(ctx context.Context, clientID uint, periodStart time.Time) (int64, error) {
	unpaid, err := s.repo.UnpaidInvoices(ctx, clientID, periodStart)
	if err != nil {
		return 0, err
	}
	var carried int64
	for i := range unpaid {
		carried += unpaid[i].OutstandingCredits()
	}
	return carried, nil
}

// Void marks an invoice void. Invoices with any payment recorded cannot be
// voided. If the invoice superseded an older one, that invoice is restored.
func (s *Service) Void(ctx context.Context, invoiceID uint, actor string) error {
	invoice, err := s.repo.InvoiceByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if invoice.Status == models.InvoiceStatusVoid {
		return ErrInvoiceVoid
	}
	if invoice.AmountPaidCredits > 0 {
		return ErrInvoicePaid
	}
	if err := s.repo.VoidInvoice(ctx, invoice.ID); err != nil {
		return err
	}
	log.Infof("invoice %s voided by %s", invoice.InvoiceNumber, actor)
	return nil
}

// CleanupStale bulk-deletes invoices that never became payable: stuck in
// pending, or generated without a rendered document. Returns how many were
// removed.
func (s *Service) CleanupStale(ctx context.Context) (int64, error) {
	stale, err := s.repo.StaleInvoices(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]uint, 0, len(stale))
	for i := range stale {
		if stale[i].AmountPaidCredits > 0 {
			continue
		}
		ids = append(ids, stale[i].ID)
	}
	deleted, err := s.repo.DeleteInvoices(ctx, ids)
	if err != nil {
		return deleted, err
	}
	if deleted > 0 {
		log.Infof("cleaned up %d stale invoices", deleted)
	}
	return deleted, nil
}

// RunReport summarizes a bulk generation pass.
type RunReport struct {
	Generated int             `json:"generated"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Errors    map[uint]string `json:"errors,omitempty"`
}

// GenerateAll runs invoice generation for every active client. Clients with
// no billable period are skipped, per-client failures are collected without
// aborting the pass.
func (s *Service) GenerateAll(ctx context.Context, actor string) (*RunReport, error) {
	clients, err := s.repo.ActiveClients(ctx)
	if err != nil {
		return nil, err
	}

	report := &RunReport{Errors: make(map[uint]string)}
	for i := range clients {
		_, err := s.Generate(ctx, clients[i].ID, time.Time{}, actor)
		switch {
		case errors.Is(err, ErrNoBillablePeriod):
			report.Skipped++
		case err != nil:
			report.Failed++
			report.Errors[clients[i].ID] = err.Error()
			log.Errorf("invoice generation for client %d failed: %v", clients[i].ID, err)
		default:
			report.Generated++
		}
	}
	if len(report.Errors) == 0 {
		report.Errors = nil
	}
	log.Infof("bulk invoice run by %s: %d generated, %d skipped, %d failed",
		actor, report.Generated, report.Skipped, report.Failed)
	return report, nil
}

// ListInvoices returns invoices, newest period first. clientID 0 lists all.
func (s *Service) ListInvoices(ctx context.Context, clientID uint, limit int) ([]models.Invoice, error) {
	return s.repo.ListInvoices(ctx, clientID, limit)
}

// InvoiceByID loads one invoice with its lines.
func (s *Service) InvoiceByID(ctx context.Context, id uint) (*models.Invoice, error) {
	return s.repo.InvoiceByID(ctx, id)
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
