package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/verigate/verigate/app/models"
)

var (
	ErrZeroAmount       = errors.New("ledger entry amount must be non-zero")
	ErrUnknownEntryType = errors.New("unknown ledger entry type")
)

// InsufficientCreditError reports a balance too low to cover a required
// amount. It carries enough context for API callers to react
// programmatically.
type InsufficientCreditError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit: balance %d, required %d", e.Balance, e.Required)
}

// IsInsufficientCredit reports whether err is an insufficient-credit failure.
func IsInsufficientCredit(err error) bool {
	var icErr *InsufficientCreditError
	return errors.As(err, &icErr)
}

var validEntryTypes = map[string]struct{}{
	models.LedgerEntryTopup:      {},
	models.LedgerEntryUsage:      {},
	models.LedgerEntryAdjustment: {},
	models.LedgerEntryRefund:     {},
	models.LedgerEntryIncluded:   {},
}

// AppendInput describes one balance-affecting entry to record.
type AppendInput struct {
	ClientID    uint
	ProductID   string
	Amount      int64
	EntryType   string
	ReferenceID string
	Description string
	Actor       string
}

// Service maintains append-only credit ledgers per (client, product).
type Service struct {
	repo Repository
}

// NewService creates a ledger service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Balance returns the current credit balance for a (client, product).
func (s *Service) Balance(ctx context.Context, clientID uint, productID string) (int64, error) {
	return s.repo.Balance(ctx, clientID, productID)
}

// Append records a new immutable ledger entry and returns it with its
// balance-after snapshot populated.
func (s *Service) Append(ctx context.Context, in AppendInput) (*models.LedgerEntry, error) {
	if in.Amount == 0 {
		return nil, ErrZeroAmount
	}
	entryType := strings.TrimSpace(in.EntryType)
	if _, ok := validEntryTypes[entryType]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntryType, entryType)
	}
	productID := in.ProductID
	if productID == "" {
		productID = models.DefaultProductID
	}

	entry := &models.LedgerEntry{
		ClientID:    in.ClientID,
		ProductID:   productID,
		Amount:      in.Amount,
		EntryType:   entryType,
		ReferenceID: in.ReferenceID,
		Description: in.Description,
		Actor:       in.Actor,
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// CheckCredit is the read-only session-creation check: it fails when the
// balance cannot cover unitCost and overdraft is disallowed. No entry is
// written; the actual debit only ever happens on session completion.
func (s *Service) CheckCredit(ctx context.Context, clientID uint, productID string, unitCost int64, allowOverdraft bool) error {
	if allowOverdraft {
		return nil
	}
	balance, err := s.repo.Balance(ctx, clientID, productID)
	if err != nil {
		return err
	}
	if balance < unitCost {
		return &InsufficientCreditError{Balance: balance, Required: unitCost}
	}
	return nil
}

// Entries lists the most recent entries for a (client, product).
func (s *Service) Entries(ctx context.Context, clientID uint, productID string, limit int) ([]models.LedgerEntry, error) {
	return s.repo.Entries(ctx, clientID, productID, limit)
}
