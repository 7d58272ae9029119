package models

import "time"

// PricingTier maps a 1-indexed monthly volume range to a per-unit credit
// cost for one (client, product). Tiers are only ever replaced as a full set,
// so non-overlap is guaranteed by construction.
type PricingTier struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ClientID       uint      `gorm:"not null;index:idx_pricing_tiers_client_product,priority:1" json:"client_id"`
	ProductID      string    `gorm:"type:varchar(64);not null;index:idx_pricing_tiers_client_product,priority:2" json:"product_id"`
	Name           string    `gorm:"type:varchar(100);not null" json:"name"`
	MinVolume      int       `gorm:"not null" json:"min_volume"`
	MaxVolume      *int      `gorm:"default:null" json:"max_volume"`
	CreditsPerUnit int64     `gorm:"not null" json:"credits_per_unit"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Contains reports whether the 1-indexed volume position falls inside this
// tier's range.
func (t *PricingTier) Contains(position int) bool {
	if position < t.MinVolume {
		return false
	}
	return t.MaxVolume == nil || position <= *t.MaxVolume
}
