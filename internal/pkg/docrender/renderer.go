package docrender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/verigate/verigate/internal/pkg/env"
)

// Renderer turns a named document payload (invoice, receipt) into a stored
// document reference. Rendering is an external capability; callers treat
// failures as best-effort and keep the reference empty.
type Renderer interface {
	Render(ctx context.Context, kind string, payload any) (string, error)
}

// Document kinds accepted by the rendering service.
const (
	KindInvoice = "invoice"
	KindReceipt = "receipt"
)

// HTTPRenderer posts render requests to the external document-rendering
// service and returns the reference it assigns.
type HTTPRenderer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewRendererFromEnv builds the renderer configured under DOCRENDER_URL.
// When no URL is configured a disabled renderer is returned that reports an
// error for every render; callers already tolerate render failure.
func NewRendererFromEnv() Renderer {
	base := strings.TrimRight(env.GetEnv("DOCRENDER_URL", ""), "/")
	if base == "" {
		return disabledRenderer{}
	}
	return &HTTPRenderer{
		BaseURL: base,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type renderResponse struct {
	Reference string `json:"reference"`
}

func (r *HTTPRenderer) Render(ctx context.Context, kind string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s render payload: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/render/"+kind, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("render %s: status %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("render %s: decode response: %w", kind, err)
	}
	if out.Reference == "" {
		return "", fmt.Errorf("render %s: empty reference in response", kind)
	}
	return out.Reference, nil
}

type disabledRenderer struct{}

func (disabledRenderer) Render(_ context.Context, kind string, _ any) (string, error) {
	return "", fmt.Errorf("document rendering is not configured (kind %s)", kind)
}
