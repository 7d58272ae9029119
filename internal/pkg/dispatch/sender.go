package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/verigate/verigate/internal/pkg/signature"
)

// Header names on outbound webhook POSTs.
const (
	HeaderEventType = "X-Event-Type"
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

const sendTimeout = 10 * time.Second

// Sender performs one signed webhook POST. Timeouts and non-2xx responses are
// failures; retrying is the queue's concern, never the sender's.
type Sender struct {
	HTTPClient *http.Client
}

// NewSender creates a sender with the default delivery timeout.
func NewSender() *Sender {
	return &Sender{
		HTTPClient: &http.Client{
			Timeout: sendTimeout,
		},
	}
}

// Send signs the payload with the client's webhook secret and posts it.
func (s *Sender) Send(ctx context.Context, url, secret, eventType string, payload []byte) error {
	sig, ts := signature.Sign(payload, secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, eventType)
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderTimestamp, ts)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook delivery failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
