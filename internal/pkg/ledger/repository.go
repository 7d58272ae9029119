package ledger

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/verigate/verigate/app/models"
)

// Repository provides DB operations used by the ledger service.
type Repository interface {
	Balance(ctx context.Context, clientID uint, productID string) (int64, error)
	Append(ctx context.Context, entry *models.LedgerEntry) error
	Entries(ctx context.Context, clientID uint, productID string, limit int) ([]models.LedgerEntry, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// BalanceIn sums all entry amounts for a (client, product) inside the given
// transaction. Callers that go on to mutate the ledger must hold the client
// row lock (see LockClientRow) before calling this.
func BalanceIn(tx *gorm.DB, clientID uint, productID string) (int64, error) {
	var balance int64
	err := tx.Model(&models.LedgerEntry{}).
		Where("client_id = ? AND product_id = ?", clientID, productID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&balance).Error
	return balance, err
}

// LockClientRow takes a row-level lock on the client record, serializing all
// credit mutations for that client within the surrounding transaction.
func LockClientRow(tx *gorm.DB, clientID uint) error {
	var client models.Client
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		First(&client, clientID).Error
}

// AppendIn inserts a ledger entry inside the given transaction: lock the
// client row, read the current balance, snapshot balance-after, insert. The
// lock ordering is what keeps balance-after a faithful prefix sum under
// concurrent appenders.
func AppendIn(tx *gorm.DB, entry *models.LedgerEntry) error {
	if err := LockClientRow(tx, entry.ClientID); err != nil {
		return err
	}
	balance, err := BalanceIn(tx, entry.ClientID, entry.ProductID)
	if err != nil {
		return err
	}
	entry.BalanceAfter = balance + entry.Amount
	return tx.Create(entry).Error
}

func (r *gormRepository) Balance(ctx context.Context, clientID uint, productID string) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := LockClientRow(tx, clientID); err != nil {
			return err
		}
		var err error
		balance, err = BalanceIn(tx, clientID, productID)
		return err
	})
	return balance, err
}

func (r *gormRepository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return AppendIn(tx, entry)
	})
}

func (r *gormRepository) Entries(ctx context.Context, clientID uint, productID string, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	q := r.db.WithContext(ctx).
		Where("client_id = ? AND product_id = ?", clientID, productID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&entries).Error
	return entries, err
}
