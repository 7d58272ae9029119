package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/verigate/verigate/app/models"
)

// DefaultUnitCost applies when no tier is configured for a (client, product).
const DefaultUnitCost int64 = 1

var ErrInvalidTierDefinition = errors.New("invalid tier definition")

// TierInput is one tier of a replacement batch.
type TierInput struct {
	Name           string `json:"name" validate:"required,max=100"`
	MinVolume      int    `json:"min_volume" validate:"gte=1"`
	MaxVolume      *int   `json:"max_volume"`
	CreditsPerUnit int64  `json:"credits_per_unit" validate:"gte=1"`
}

func (in *TierInput) Validate() error {
	v := validator.New()

	return v.Struct(in)
}

// Service resolves per-unit credit costs from ordered volume tiers.
type Service struct {
	repo Repository
}

// NewService creates a pricing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a pricing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// TierForPosition picks the tier whose volume range contains the 1-indexed
// position, preferring the greatest qualifying minimum volume. Returns nil
// when no tier matches.
func TierForPosition(tiers []models.PricingTier, position int) *models.PricingTier {
	var best *models.PricingTier
	for i := range tiers {
		t := &tiers[i]
		if !t.Contains(position) {
			continue
		}
		if best == nil || t.MinVolume > best.MinVolume {
			best = t
		}
	}
	return best
}

// ResolveUnitCost returns the credit cost of the next unit to be billed given
// the cumulative usage count so far this month. Total: exactly one cost for
// any count, DefaultUnitCost when nothing is configured.
func (s *Service) ResolveUnitCost(ctx context.Context, clientID uint, productID string, currentMonthUsage int) (int64, error) {
	tiers, err := s.repo.TiersFor(ctx, clientID, productID)
	if err != nil {
		return 0, err
	}
	return unitCostFromTiers(tiers, currentMonthUsage), nil
}

// ResolveUnitCostIn is the transaction-scoped variant used by billing paths
// that already hold the client row lock.
func ResolveUnitCostIn(tx *gorm.DB, clientID uint, productID string, currentMonthUsage int) (int64, error) {
	tiers, err := TiersIn(tx, clientID, productID)
	if err != nil {
		return 0, err
	}
	return unitCostFromTiers(tiers, currentMonthUsage), nil
}

func unitCostFromTiers(tiers []models.PricingTier, currentMonthUsage int) int64 {
	if tier := TierForPosition(tiers, currentMonthUsage+1); tier != nil {
		return tier.CreditsPerUnit
	}
	return DefaultUnitCost
}

// ReplaceTiers validates a replacement batch and swaps it in atomically.
func (s *Service) ReplaceTiers(ctx context.Context, clientID uint, productID string, inputs []TierInput) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		productID = models.DefaultProductID
	}

	tiers := make([]models.PricingTier, 0, len(inputs))
	for i, in := range inputs {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("%w: tier %d: %v", ErrInvalidTierDefinition, i, err)
		}
		if in.MinVolume < 1 {
			return fmt.Errorf("%w: tier %d min_volume must be >= 1", ErrInvalidTierDefinition, i)
		}
		if in.CreditsPerUnit < 1 {
			return fmt.Errorf("%w: tier %d credits_per_unit must be a positive integer", ErrInvalidTierDefinition, i)
		}
		if in.MaxVolume != nil && *in.MaxVolume < in.MinVolume {
			return fmt.Errorf("%w: tier %d max_volume below min_volume", ErrInvalidTierDefinition, i)
		}
		tiers = append(tiers, models.PricingTier{
			ClientID:       clientID,
			ProductID:      productID,
			Name:           strings.TrimSpace(in.Name),
			MinVolume:      in.MinVolume,
			MaxVolume:      in.MaxVolume,
			CreditsPerUnit: in.CreditsPerUnit,
		})
	}
	if err := checkContiguous(tiers); err != nil {
		return err
	}
	return s.repo.ReplaceTiers(ctx, clientID, productID, tiers)
}

// checkContiguous rejects tier sets with overlapping or gapped volume ranges.
// Sorted by min_volume, the set must start at 1 and each tier must begin
// right after its predecessor ends; only the last tier may be open-ended.
// Gaps would silently fall to DefaultUnitCost, which is reserved for clients
// with no tiers configured at all.
func checkContiguous(tiers []models.PricingTier) error {
	if len(tiers) == 0 {
		return nil
	}
	sorted := make([]models.PricingTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinVolume < sorted[j].MinVolume })

	if sorted[0].MinVolume != 1 {
		return fmt.Errorf("%w: tier set must start at volume 1", ErrInvalidTierDefinition)
	}
	for i := 0; i < len(sorted)-1; i++ {
		if sorted[i].MaxVolume == nil {
			return fmt.Errorf("%w: only the highest tier may be open-ended", ErrInvalidTierDefinition)
		}
		if next := sorted[i+1].MinVolume; next != *sorted[i].MaxVolume+1 {
			return fmt.Errorf("%w: tier starting at volume %d must start at %d", ErrInvalidTierDefinition, next, *sorted[i].MaxVolume+1)
		}
	}
	return nil
}

// Tiers lists the configured tier set for a (client, product).
func (s *Service) Tiers(ctx context.Context, clientID uint, productID string) ([]models.PricingTier, error) {
	return s.repo.TiersFor(ctx, clientID, productID)
}
