package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Admin is a human operator who generates invoices, records payments and
// manages pricing. Admin API requests authenticate with the token whose
// SHA-256 hash is stored here; the password exists for interactive tooling.
type Admin struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email        string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email"`
	Password     string         `gorm:"type:text" json:"-" validate:"required,min=6"`
	APITokenHash string         `gorm:"type:char(64);default:'';index" json:"-"`
	LastSeenAt   *time.Time     `gorm:"type:timestamp;default:null" json:"last_seen_at"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *Admin) Validate() error {
	v := validator.New()

	return v.Struct(a)
}

// CreateAdmin builds a validated admin with a hashed password and a fresh API
// token. The raw token is returned once and never stored.
func CreateAdmin(name, email, password string) (*Admin, string, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, "", err
	}
	rawToken := "vga_" + hex.EncodeToString(b)

	a := &Admin{
		Name:         name,
		Email:        email,
		Password:     pw,
		APITokenHash: HashAPIKey(rawToken),
	}
	if err := a.Validate(); err != nil {
		return nil, "", err
	}
	return a, rawToken, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}
