package pricing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verigate/verigate/app/models"
)

type fakeRepository struct {
	tiers map[string][]models.PricingTier
}

func tierKey(clientID uint, productID string) string {
	return fmt.Sprintf("%d/%s", clientID, productID)
}

func (f *fakeRepository) TiersFor(_ context.Context, clientID uint, productID string) ([]models.PricingTier, error) {
	return f.tiers[tierKey(clientID, productID)], nil
}

func (f *fakeRepository) ReplaceTiers(_ context.Context, clientID uint, productID string, tiers []models.PricingTier) error {
	if f.tiers == nil {
		f.tiers = map[string][]models.PricingTier{}
	}
	f.tiers[tierKey(clientID, productID)] = tiers
	return nil
}

func intPtr(v int) *int { return &v }

func TestResolveUnitCostTierSelection(t *testing.T) {
	repo := &fakeRepository{tiers: map[string][]models.PricingTier{
		tierKey(1, "idv"): {
			{Name: "standard", MinVolume: 1, MaxVolume: intPtr(100), CreditsPerUnit: 40},
			{Name: "volume", MinVolume: 101, MaxVolume: intPtr(500), CreditsPerUnit: 30},
			{Name: "enterprise", MinVolume: 501, MaxVolume: nil, CreditsPerUnit: 20},
		},
	}}
	svc := NewService(repo)
	ctx := context.Background()

	tests := []struct {
		usage int
		want  int64
	}{
		{usage: 0, want: 40},   // next unit is position 1
		{usage: 99, want: 40},  // position 100, still first tier
		{usage: 100, want: 30}, // position 101 crosses into volume tier
		{usage: 499, want: 30},
		{usage: 500, want: 20}, // unbounded top tier
		{usage: 99999, want: 20},
	}
	for _, tt := range tests {
		got, err := svc.ResolveUnitCost(ctx, 1, "idv", tt.usage)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "usage %d", tt.usage)
	}
}

func TestResolveUnitCostDefaultsWithoutTiers(t *testing.T) {
	svc := NewService(&fakeRepository{})
	got, err := svc.ResolveUnitCost(context.Background(), 7, "idv", 12)
	require.NoError(t, err)
	assert.Equal(t, DefaultUnitCost, got)
}

func TestTierForPositionPrefersGreatestMinVolume(t *testing.T) {
	// Overlap cannot happen through ReplaceTiers, but selection must still be
	// deterministic if it ever does.
	tiers := []models.PricingTier{
		{Name: "wide", MinVolume: 1, MaxVolume: nil, CreditsPerUnit: 40},
		{Name: "narrow", MinVolume: 50, MaxVolume: intPtr(60), CreditsPerUnit: 25},
	}
	got := TierForPosition(tiers, 55)
	require.NotNil(t, got)
	assert.Equal(t, "narrow", got.Name)
}

func TestReplaceTiersValidation(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)
	ctx := context.Background()

	err := svc.ReplaceTiers(ctx, 1, "idv", []TierInput{{Name: "bad", MinVolume: 0, CreditsPerUnit: 10}})
	assert.ErrorIs(t, err, ErrInvalidTierDefinition)

	err = svc.ReplaceTiers(ctx, 1, "idv", []TierInput{{Name: "bad", MinVolume: 1, CreditsPerUnit: 0}})
	assert.ErrorIs(t, err, ErrInvalidTierDefinition)

	err = svc.ReplaceTiers(ctx, 1, "idv", []TierInput{{Name: "bad", MinVolume: 10, MaxVolume: intPtr(5), CreditsPerUnit: 1}})
	assert.ErrorIs(t, err, ErrInvalidTierDefinition)

	err = svc.ReplaceTiers(ctx, 1, "idv", []TierInput{{Name: "", MinVolume: 1, CreditsPerUnit: 10}})
	assert.ErrorIs(t, err, ErrInvalidTierDefinition)

	err = svc.ReplaceTiers(ctx, 1, "idv", []TierInput{
		{Name: "standard", MinVolume: 1, MaxVolume: intPtr(100), CreditsPerUnit: 40},
		{Name: "volume", MinVolume: 101, CreditsPerUnit: 30},
	})
	require.NoError(t, err)

	stored, err := svc.Tiers(ctx, 1, "idv")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "standard", stored[0].Name)
	assert.Equal(t, int64(30), stored[1].CreditsPerUnit)
}

func TestReplaceTiersRequiresContiguousRanges(t *testing.T) {
	svc := NewService(&fakeRepository{})
	ctx := context.Background()

	// Does not start at volume 1.
	err := svc.ReplaceTiers(ctx, 1, "idv", []TierInput{
		{Name: "late", MinVolume: 10, CreditsPerUnit: 40},
	})
	assert.ErrorIs(t, err, ErrInvalidTierDefinition)

	// Gap between 100 and 200.
	err = svc.ReplaceTiers(ctx, 1, "idv", []TierInput{
		{Name: "standard", MinVolume: 1, MaxVolume: intPtr(100), CreditsPerUnit: 40},
		{Name: "volume", MinVolume: 200, CreditsPerUnit: 30},
	})
	assert.ErrorIs(t, err, ErrInvalidTierDefinition)

	// Overlap at 100.
	err = svc.ReplaceTiers(ctx, 1, "idv", []TierInput{
		{Name: "standard", MinVolume: 1, MaxVolume: intPtr(100), CreditsPerUnit: 40},
		{Name: "volume", MinVolume: 100, CreditsPerUnit: 30},
	})
	assert.ErrorIs(t, err, ErrInvalidTierDefinition)

	// Open-ended tier below the top.
	err = svc.ReplaceTiers(ctx, 1, "idv", []TierInput{
		{Name: "standard", MinVolume: 1, CreditsPerUnit: 40},
		{Name: "volume", MinVolume: 101, CreditsPerUnit: 30},
	})
	assert.ErrorIs(t, err, ErrInvalidTierDefinition)

	// Unordered input is accepted as long as the sorted set is contiguous.
	err = svc.ReplaceTiers(ctx, 1, "idv", []TierInput{
		{Name: "volume", MinVolume: 101, CreditsPerUnit: 30},
		{Name: "standard", MinVolume: 1, MaxVolume: intPtr(100), CreditsPerUnit: 40},
	})
	require.NoError(t, err)
}

func TestReplaceTiersEmptySetClears(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.ReplaceTiers(ctx, 1, "idv", []TierInput{
		{Name: "flat", MinVolume: 1, CreditsPerUnit: 40},
	}))
	require.NoError(t, svc.ReplaceTiers(ctx, 1, "idv", nil))

	cost, err := svc.ResolveUnitCost(ctx, 1, "idv", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultUnitCost, cost)
}
