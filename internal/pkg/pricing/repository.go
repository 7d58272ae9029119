package pricing

import (
	"context"

	"gorm.io/gorm"

	"github.com/verigate/verigate/app/models"
)

// Repository provides DB operations used by the pricing service.
type Repository interface {
	TiersFor(ctx context.Context, clientID uint, productID string) ([]models.PricingTier, error)
	ReplaceTiers(ctx context.Context, clientID uint, productID string, tiers []models.PricingTier) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a pricing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// TiersIn loads the tier set for a (client, product) inside the given
// transaction, ordered by ascending minimum volume.
func TiersIn(tx *gorm.DB, clientID uint, productID string) ([]models.PricingTier, error) {
	var tiers []models.PricingTier
	err := tx.Where("client_id = ? AND product_id = ?", clientID, productID).
		Order("min_volume ASC").
		Find(&tiers).Error
	return tiers, err
}

func (r *gormRepository) TiersFor(ctx context.Context, clientID uint, productID string) ([]models.PricingTier, error) {
	return TiersIn(r.db.WithContext(ctx), clientID, productID)
}

// ReplaceTiers swaps the full tier set atomically: delete existing set,
// insert the new one, all in a single transaction.
func (r *gormRepository) ReplaceTiers(ctx context.Context, clientID uint, productID string, tiers []models.PricingTier) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("client_id = ? AND product_id = ?", clientID, productID).
			Delete(&models.PricingTier{}).Error; err != nil {
			return err
		}
		if len(tiers) == 0 {
			return nil
		}
		return tx.Create(&tiers).Error
	})
}
