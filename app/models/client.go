package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// DefaultProductID is the product key used when a client calls the
// verification API without an explicit product.
const DefaultProductID = "identity_verification"

// Client is an API consumer of the verification platform. Credits, tiers,
// sessions and invoices all hang off this record; the row also serves as the
// lock anchor for ledger serialization.
type Client struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Name             string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email            string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Status           string         `gorm:"type:varchar(50);default:'active';index" json:"status" validate:"oneof=active inactive disabled"`
	WebhookURL       string         `gorm:"type:varchar(500);default:''" json:"webhook_url" validate:"omitempty,url,max=500"`
	WebhookSecret    string         `gorm:"type:varchar(128);default:''" json:"-"`
	AllowOverdraft   bool           `gorm:"default:false" json:"allow_overdraft"`
	APIKeyHash       string         `gorm:"type:char(64);default:'';index" json:"-"`
	APIKeyPrefix     string         `gorm:"type:varchar(20);default:''" json:"api_key_prefix"`
	APIKeyCreatedAt  *time.Time     `json:"api_key_created_at"`
	APIKeyLastUsedAt *time.Time     `json:"api_key_last_used_at"`
	APIKeyRevokedAt  *time.Time     `json:"api_key_revoked_at"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

func (c *Client) Validate() error {
	v := validator.New()

	return v.Struct(c)
}

var apiKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const apiKeyPrefix = "vgk_"

// HasActiveAPIKey reports whether the client has an active API key configured
func (c *Client) HasActiveAPIKey() bool {
	return c != nil && c.APIKeyHash != "" && c.APIKeyRevokedAt == nil
}

// IssueAPIKey generates a new API key, persists metadata on the struct, and returns the raw secret.
// Callers must persist the struct via the database after invoking this method.
func (c *Client) IssueAPIKey() (string, error) {
	rawKey, prefix, hash, err := generateAPIKeyMaterial()
	if err != nil {
		return "", err
	}
	now := time.Now()
	c.APIKeyHash = hash
	c.APIKeyPrefix = prefix
	c.APIKeyCreatedAt = &now
	c.APIKeyRevokedAt = nil
	c.APIKeyLastUsedAt = nil
	return rawKey, nil
}

// RevokeAPIKey clears the stored API key metadata without deleting the record.
func (c *Client) RevokeAPIKey() {
	c.APIKeyHash = ""
	c.APIKeyPrefix = ""
	now := time.Now()
	c.APIKeyRevokedAt = &now
	c.APIKeyLastUsedAt = nil
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

func generateAPIKeyMaterial() (string, string, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", err
	}
	encoded := strings.ToLower(apiKeyEncoding.EncodeToString(b))
	rawKey := apiKeyPrefix + encoded
	if len(rawKey) < 12 {
		return "", "", "", fmt.Errorf("api key generation failed: key too short")
	}
	prefix := rawKey[:min(len(rawKey), 16)]
	hash := HashAPIKey(rawKey)
	return rawKey, prefix, hash, nil
}

// GenerateWebhookSecret creates a fresh shared secret for signing outbound
// webhooks to this client.
func (c *Client) GenerateWebhookSecret() error {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	c.WebhookSecret = hex.EncodeToString(b)
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
