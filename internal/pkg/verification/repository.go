package verification

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/verigate/verigate/app/models"
	"github.com/verigate/verigate/internal/pkg/ledger"
	"github.com/verigate/verigate/internal/pkg/pricing"
)

// Repository provides DB operations used by the verification service.
type Repository interface {
	CreateSession(ctx context.Context, session *models.VerificationSession) error
	SessionByID(ctx context.Context, id string) (*models.VerificationSession, error)
	SessionByReference(ctx context.Context, referenceID string) (*models.VerificationSession, error)
	ClientByID(ctx context.Context, id uint) (*models.Client, error)
	MonthBilledCount(ctx context.Context, clientID uint, at time.Time) (int, error)
	RecordWebhook(ctx context.Context, entry *models.WebhookLog) (bool, *models.WebhookLog, error)
	MarkWebhookProcessed(ctx context.Context, id uint, sessionID, processingError string) error
	FinalizeCompletion(ctx context.Context, session *models.VerificationSession, result, rejectReason, rawPayload string) error
	MarkExpired(ctx context.Context, session *models.VerificationSession) error
	ListOverdue(ctx context.Context, now time.Time) ([]models.VerificationSession, error)
	UpdateDocumentRef(ctx context.Context, sessionID, documentType, ref string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a verification repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateSession(ctx context.Context, session *models.VerificationSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *gormRepository) SessionByID(ctx context.Context, id string) (*models.VerificationSession, error) {
	var session models.VerificationSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *gormRepository) SessionByReference(ctx context.Context, referenceID string) (*models.VerificationSession, error) {
	var session models.VerificationSession
	if err := r.db.WithContext(ctx).Where("reference_id = ?", referenceID).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *gormRepository) ClientByID(ctx context.Context, id uint) (*models.Client, error) {
	var client models.Client
	if err := r.db.WithContext(ctx).First(&client, id).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func monthBounds(at time.Time) (time.Time, time.Time) {
	start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, at.Location())
	return start, start.AddDate(0, 1, 0)
}

func monthBilledCountIn(tx *gorm.DB, clientID uint, at time.Time) (int, error) {
	start, end := monthBounds(at)
	var count int64
	err := tx.Model(&models.VerificationSession{}).
		Where("client_id = ? AND billed = ? AND billed_at >= ? AND billed_at < ?", clientID, true, start, end).
		Count(&count).Error
	return int(count), err
}

func (r *gormRepository) MonthBilledCount(ctx context.Context, clientID uint, at time.Time) (int, error) {
	return monthBilledCountIn(r.db.WithContext(ctx), clientID, at)
}

// RecordWebhook inserts the payload-hash log entry, ignoring duplicates; the
// insert-or-no-op closes the race between two concurrent deliveries of the
// same webhook.
func (r *gormRepository) RecordWebhook(ctx context.Context, entry *models.WebhookLog) (bool, *models.WebhookLog, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payload_hash"}},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookLog
	if err := r.db.WithContext(ctx).Where("payload_hash = ?", entry.PayloadHash).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, sessionID, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"session_id": sessionID,
		"last_error": processingError,
	}
	if processingError == "" {
		updates["processed"] = true
		updates["processed_at"] = &now
	}
	return r.db.WithContext(ctx).Model(&models.WebhookLog{}).Where("id = ?", id).Updates(updates).Error
}

// FinalizeCompletion commits the billable terminal transition in one
// transaction: lock the client row, count this month's billed sessions,
// resolve the unit cost, flip the session to completed/billed and append the
// usage debit. The session flip is guarded on billed = false so two
// deliveries racing past the snapshot check cannot both debit; the loser
// rolls back with ErrAlreadyBilled. Document uploads and outbound dispatch
// happen after this commits.
func (r *gormRepository) FinalizeCompletion(ctx context.Context, session *models.VerificationSession, result, rejectReason, rawPayload string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ledger.LockClientRow(tx, session.ClientID); err != nil {
			return err
		}

		now := time.Now()
		monthCount, err := monthBilledCountIn(tx, session.ClientID, now)
		if err != nil {
			return err
		}
		unitCost, err := pricing.ResolveUnitCostIn(tx, session.ClientID, session.ProductID, monthCount)
		if err != nil {
			return err
		}

		res := tx.Model(&models.VerificationSession{}).
			Where("id = ? AND billed = ?", session.ID, false).
			Updates(map[string]interface{}{
				"status":               models.SessionStatusCompleted,
				"result":               result,
				"reject_reason":        rejectReason,
				"raw_provider_payload": rawPayload,
				"billed":               true,
				"billed_credits":       unitCost,
				"billed_at":            &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyBilled
		}

		entry := &models.LedgerEntry{
			ClientID:    session.ClientID,
			ProductID:   session.ProductID,
			Amount:      -unitCost,
			EntryType:   models.LedgerEntryUsage,
			ReferenceID: session.ID,
			Description: "verification session " + session.ReferenceID,
			Actor:       "system",
		}
		// The client row lock is already held; this only computes the
		// balance snapshot and inserts.
		balance, err := ledger.BalanceIn(tx, session.ClientID, session.ProductID)
		if err != nil {
			return err
		}
		entry.BalanceAfter = balance + entry.Amount
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		session.Status = models.SessionStatusCompleted
		session.Result = &result
		session.RejectReason = rejectReason
		session.RawProviderPayload = rawPayload
		session.Billed = true
		session.BilledCredits = unitCost
		session.BilledAt = &now
		return nil
	})
}

// MarkExpired closes a non-terminal session. The update is guarded on the
// current status: a session that completed between the sweep's read and this
// write stays completed and the caller gets ErrAlreadyTerminal.
func (r *gormRepository) MarkExpired(ctx context.Context, session *models.VerificationSession) error {
	rejected := models.SessionResultRejected
	res := r.db.WithContext(ctx).Model(&models.VerificationSession{}).
		Where("id = ? AND status IN ?", session.ID, []string{models.SessionStatusPending, models.SessionStatusProcessing}).
		Updates(map[string]interface{}{
			"status": models.SessionStatusExpired,
			"result": rejected,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyTerminal
	}
	session.Status = models.SessionStatusExpired
	session.Result = &rejected
	return nil
}

func (r *gormRepository) ListOverdue(ctx context.Context, now time.Time) ([]models.VerificationSession, error) {
	var sessions []models.VerificationSession
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", []string{models.SessionStatusPending, models.SessionStatusProcessing}, now).
		Find(&sessions).Error
	return sessions, err
}

func (r *gormRepository) UpdateDocumentRef(ctx context.Context, sessionID, documentType, ref string) error {
	column := ""
	switch documentType {
	case models.DocumentTypeFront:
		column = "doc_front_ref"
	case models.DocumentTypeBack:
		column = "doc_back_ref"
	case models.DocumentTypeFace:
		column = "face_ref"
	case models.DocumentTypeBestFrame:
		column = "best_frame_ref"
	default:
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.VerificationSession{}).
		Where("id = ?", sessionID).
		Update(column, ref).Error
}
