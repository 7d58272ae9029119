package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verigate/verigate/app/models"
	"github.com/verigate/verigate/internal/pkg/docstore"
	"github.com/verigate/verigate/internal/pkg/ledger"
	"github.com/verigate/verigate/internal/pkg/pricing"
	"github.com/verigate/verigate/internal/pkg/provider"
)

// DefaultSessionTTL is how long a session may stay non-terminal before the
// expiry sweep closes it.
const DefaultSessionTTL = 30 * time.Minute

// MaxReferenceIDLength bounds the external reference id accepted at creation.
const MaxReferenceIDLength = 32

var (
	ErrSessionNotFound       = errors.New("verification session not found")
	ErrInvalidReferenceID    = errors.New("reference_id is required and must be at most 32 characters")
	ErrClientInactive        = errors.New("client is not active")
	ErrUnknownProviderStatus = errors.New("unknown provider status")

	// ErrAlreadyBilled and ErrAlreadyTerminal signal that a concurrent
	// delivery or sweep settled the session first; callers acknowledge
	// instead of repeating the side effects.
	ErrAlreadyBilled   = errors.New("session already billed")
	ErrAlreadyTerminal = errors.New("session already in a terminal state")
)

// Notifier enqueues outbound webhook deliveries; satisfied by
// dispatch.Dispatcher.
type Notifier interface {
	Notify(sessionID, url, secret, eventType string, payload any) error
}

// SessionEventPayload is the body of outbound session webhooks.
type SessionEventPayload struct {
	SessionID     string  `json:"session_id"`
	ReferenceID   string  `json:"reference_id"`
	Status        string  `json:"status"`
	Result        *string `json:"result"`
	RejectReason  string  `json:"reject_reason,omitempty"`
	BilledCredits int64   `json:"billed_credits,omitempty"`
	Metadata      string  `json:"metadata,omitempty"`
	OccurredAt    string  `json:"occurred_at"`
}

// CreateInput describes a new verification session request.
type CreateInput struct {
	ClientID    uint
	ProductID   string
	ReferenceID string
	SuccessURL  string
	FailURL     string
	Metadata    string
	TTL         time.Duration
}

// Service drives the verification session lifecycle: creation with a
// read-only credit check, webhook-driven transitions, completion billing and
// the expiry sweep.
type Service struct {
	repo     Repository
	ledger   *ledger.Service
	pricing  *pricing.Service
	docs     docstore.Store
	notifier Notifier
}

// NewService creates a verification service. docs and notifier are optional;
// their absence turns uploads and outbound webhooks into logged no-ops.
func NewService(repo Repository, ledgerSvc *ledger.Service, pricingSvc *pricing.Service, docs docstore.Store, notifier Notifier) *Service {
	return &Service{repo: repo, ledger: ledgerSvc, pricing: pricingSvc, docs: docs, notifier: notifier}
}

// NewServiceFromDB wires a verification service onto a GORM handle.
func NewServiceFromDB(db *gorm.DB, docs docstore.Store, notifier Notifier) *Service {
	return NewService(NewRepository(db), ledger.NewServiceFromDB(db), pricing.NewServiceFromDB(db), docs, notifier)
}

// CreateSession validates the request, applies the creation-time credit
// check and persists a pending session. No credit is reserved: the debit only
// happens at completion, because the provider outcome is unknown here.
func (s *Service) CreateSession(ctx context.Context, in CreateInput) (*models.VerificationSession, error) {
	refID := strings.TrimSpace(in.ReferenceID)
	if refID == "" || len(refID) > MaxReferenceIDLength {
		return nil, ErrInvalidReferenceID
	}

	client, err := s.repo.ClientByID(ctx, in.ClientID)
	if err != nil {
		return nil, err
	}
	if client.Status != models.STATUS_ACTIVE {
		return nil, ErrClientInactive
	}

	productID := strings.TrimSpace(in.ProductID)
	if productID == "" {
		productID = models.DefaultProductID
	}

	monthCount, err := s.repo.MonthBilledCount(ctx, client.ID, time.Now())
	if err != nil {
		return nil, err
	}
	unitCost, err := s.pricing.ResolveUnitCost(ctx, client.ID, productID, monthCount)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.CheckCredit(ctx, client.ID, productID, unitCost, client.AllowOverdraft); err != nil {
		return nil, err
	}

	ttl := in.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	session := &models.VerificationSession{
		ID:          uuid.New().String(),
		ClientID:    client.ID,
		ProductID:   productID,
		ReferenceID: refID,
		Status:      models.SessionStatusPending,
		SuccessURL:  in.SuccessURL,
		FailURL:     in.FailURL,
		Metadata:    in.Metadata,
		ExpiresAt:   time.Now().Add(ttl),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Session returns a session by id.
func (s *Service) Session(ctx context.Context, id string) (*models.VerificationSession, error) {
	session, err := s.repo.SessionByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

// ProcessProviderEvent applies one inbound provider webhook event. Replays
// (same payload hash, already processed) return nil without side effects.
func (s *Service) ProcessProviderEvent(ctx context.Context, evt *provider.Event) error {
	created, logEntry, err := s.repo.RecordWebhook(ctx, &models.WebhookLog{
		PayloadHash: evt.Hash(),
		Source:      "provider",
	})
	if err != nil {
		return err
	}
	if !created {
		if logEntry.Processed {
			log.Infof("[Verification] Duplicate webhook for ref %s, replay acknowledged", evt.ReferenceID)
			return nil
		}
		if logEntry.LastError == "" {
			// Same payload, first delivery still in flight. Acknowledge and
			// let that delivery finish; only failed attempts are retried.
			log.Infof("[Verification] Concurrent duplicate webhook for ref %s, acknowledged", evt.ReferenceID)
			return nil
		}
	}

	session, err := s.repo.SessionByReference(ctx, evt.ReferenceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	if err := s.applyTransition(ctx, session, evt); err != nil {
		// Leave the log unprocessed so a redelivery can retry, but keep the
		// failure visible.
		if markErr := s.repo.MarkWebhookProcessed(ctx, logEntry.ID, session.ID, err.Error()); markErr != nil {
			log.Errorf("[Verification] Failed to record webhook error: %v", markErr)
		}
		return err
	}
	return s.repo.MarkWebhookProcessed(ctx, logEntry.ID, session.ID, "")
}

func (s *Service) applyTransition(ctx context.Context, session *models.VerificationSession, evt *provider.Event) error {
	switch evt.Status {
	case provider.EventStatusCompleted, provider.EventStatusSuccess:
		return s.complete(ctx, session, evt)
	case provider.EventStatusExpired, provider.EventStatusFailed:
		return s.expire(ctx, session)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProviderStatus, evt.Status)
	}
}

// complete handles the billable terminal transition. Approvals and
// rejections bill identically: the provider charges per attempt, so every
// completed verification consumes credit.
func (s *Service) complete(ctx context.Context, session *models.VerificationSession, evt *provider.Event) error {
	if session.Status == models.SessionStatusCompleted {
		// billed flips false->true at most once; a second completion event
		// for the same session is acknowledged without a second debit.
		return nil
	}

	result := models.SessionResultRejected
	if evt.Result == models.SessionResultApproved {
		result = models.SessionResultApproved
	}

	if err := s.repo.FinalizeCompletion(ctx, session, result, evt.RejectReason, evt.RawJSON); err != nil {
		if errors.Is(err, ErrAlreadyBilled) {
			// Lost the race to a concurrent delivery, which owns the uploads
			// and the outbound notification.
			return nil
		}
		return err
	}

	s.uploadDocuments(ctx, session, evt)
	s.notify(session, EventTypeForSession(session))
	return nil
}

func (s *Service) expire(ctx context.Context, session *models.VerificationSession) error {
	if session.IsTerminal() {
		return nil
	}
	if err := s.repo.MarkExpired(ctx, session); err != nil {
		if errors.Is(err, ErrAlreadyTerminal) {
			return nil
		}
		return err
	}
	s.notify(session, EventTypeForSession(session))
	return nil
}

// ExpireOverdue closes every non-terminal session past its expiry timestamp.
// Returns the number of sessions expired.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	sessions, err := s.repo.ListOverdue(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range sessions {
		session := &sessions[i]
		if err := s.repo.MarkExpired(ctx, session); err != nil {
			if !errors.Is(err, ErrAlreadyTerminal) {
				log.Errorf("[Verification] Failed to expire session %s: %v", session.ID, err)
			}
			continue
		}
		expired++
		s.notify(session, EventTypeForSession(session))
	}
	return expired, nil
}

// uploadDocuments persists the provider's document images. Each upload is
// independent and best-effort: a failure is logged and the ref stays empty,
// never aborting the already-committed billing.
func (s *Service) uploadDocuments(ctx context.Context, session *models.VerificationSession, evt *provider.Event) {
	if s.docs == nil || len(evt.Documents) == 0 {
		return
	}
	for _, documentType := range []string{
		models.DocumentTypeFront,
		models.DocumentTypeBack,
		models.DocumentTypeFace,
		models.DocumentTypeBestFrame,
	} {
		data, err := evt.DocumentBytes(documentType)
		if err != nil {
			log.Warnf("[Verification] Invalid %s document for session %s: %v", documentType, session.ID, err)
			continue
		}
		if data == nil {
			continue
		}
		key := docstore.ObjectKey(session.ID, documentType)
		ref, err := s.docs.Upload(ctx, key, data)
		if err != nil {
			log.Warnf("[Verification] Failed to upload %s document for session %s: %v", documentType, session.ID, err)
			continue
		}
		if err := s.repo.UpdateDocumentRef(ctx, session.ID, documentType, ref); err != nil {
			log.Warnf("[Verification] Failed to record %s document ref for session %s: %v", documentType, session.ID, err)
		}
	}
}

// EventTypeForSession maps a terminal session to its outbound event type.
func EventTypeForSession(session *models.VerificationSession) string {
	if session.Status == models.SessionStatusExpired {
		return "session.expired"
	}
	return "session.completed"
}

// notify enqueues the outbound webhook for a state change. Fire-and-forget:
// enqueue failures are logged, attempt bookkeeping happens in the dispatcher.
func (s *Service) notify(session *models.VerificationSession, eventType string) {
	if s.notifier == nil {
		return
	}
	client, err := s.repo.ClientByID(context.Background(), session.ClientID)
	if err != nil {
		log.Errorf("[Verification] Cannot notify, client %d lookup failed: %v", session.ClientID, err)
		return
	}
	if client.WebhookURL == "" {
		return
	}
	payload := SessionEventPayload{
		SessionID:     session.ID,
		ReferenceID:   session.ReferenceID,
		Status:        session.Status,
		Result:        session.Result,
		RejectReason:  session.RejectReason,
		BilledCredits: session.BilledCredits,
		Metadata:      session.Metadata,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.notifier.Notify(session.ID, client.WebhookURL, client.WebhookSecret, eventType, payload); err != nil {
		log.Errorf("[Verification] Failed to enqueue webhook for session %s: %v", session.ID, err)
	}
}
