package provider

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Provider lifecycle signals as delivered on the wire. The verification
// service maps these onto session states.
const (
	EventStatusCompleted = "completed"
	EventStatusSuccess   = "success"
	EventStatusExpired   = "expired"
	EventStatusFailed    = "failed"
)

var (
	ErrMalformedPayload = errors.New("malformed provider payload")
	ErrNoDecryptor      = errors.New("encrypted envelope received but no decryptor configured")
)

// Decryptor opens the provider's encrypted envelope. The concrete cipher
// belongs to the provider-integration system; this package only delegates.
type Decryptor interface {
	Open(ciphertext []byte) ([]byte, error)
}

// Verifier checks the provider-specific signature fields carried in the
// payload. Implementations belong to the provider integration.
type Verifier interface {
	VerifySignature(body []byte, signature, requestTime string) error
}

// Event is the normalized inbound provider webhook event.
type Event struct {
	ReferenceID  string            `json:"reference_id"`
	OnboardingID string            `json:"onboarding_id"`
	Status       string            `json:"status"`
	Result       string            `json:"result"`
	RejectReason string            `json:"reject_reason"`
	Signature    string            `json:"signature"`
	RequestTime  string            `json:"request_time"`
	Documents    map[string]string `json:"documents"`

	// RawJSON is the opened (decrypted if enveloped) payload as received.
	RawJSON string `json:"-"`
}

// Hash returns the stable idempotency key for the event: a SHA-256 digest
// over its identifying fields only, so retransmissions with cosmetic
// differences still dedupe.
func (e *Event) Hash() string {
	sum := sha256.Sum256([]byte(e.ReferenceID + "|" + e.OnboardingID + "|" + e.Status + "|" + e.Result))
	return hex.EncodeToString(sum[:])
}

// DocumentBytes decodes the base64 document image for the given type, or nil
// when absent.
func (e *Event) DocumentBytes(documentType string) ([]byte, error) {
	encoded, ok := e.Documents[documentType]
	if !ok || encoded == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(encoded)
}

type envelope struct {
	Data string `json:"data"`
}

// ParseEvent opens a raw webhook body into a normalized event. Bodies are
// either plaintext JSON or an envelope {"data": <base64 ciphertext>} that the
// injected decryptor opens.
func ParseEvent(raw []byte, dec Decryptor) (*Event, error) {
	opened := raw

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Data != "" {
		if dec == nil {
			return nil, ErrNoDecryptor
		}
		ciphertext, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: envelope data is not base64", ErrMalformedPayload)
		}
		opened, err = dec.Open(ciphertext)
		if err != nil {
			return nil, fmt.Errorf("open provider envelope: %w", err)
		}
	}

	var evt Event
	if err := json.Unmarshal(opened, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	evt.ReferenceID = strings.TrimSpace(evt.ReferenceID)
	evt.Status = strings.ToLower(strings.TrimSpace(evt.Status))
	evt.Result = strings.ToLower(strings.TrimSpace(evt.Result))
	if evt.ReferenceID == "" {
		return nil, fmt.Errorf("%w: reference_id is required", ErrMalformedPayload)
	}
	if evt.Status == "" {
		return nil, fmt.Errorf("%w: status is required", ErrMalformedPayload)
	}
	evt.RawJSON = string(opened)
	return &evt, nil
}
