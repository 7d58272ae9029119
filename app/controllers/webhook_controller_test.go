package controllers_test

import (
	"encoding/base64"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verigate/verigate/app/controllers"
)

func newWebhookApp() *fiber.App {
	app := fiber.New()
	app.Post("/webhooks/provider", controllers.HandleProviderWebhook)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestProviderWebhookRejectsMalformedPayloads(t *testing.T) {
	app := newWebhookApp()

	for _, body := range []string{
		"not json",
		`{"status":"completed"}`,                  // missing reference_id
		`{"reference_id":"order-1"}`,              // missing status
		`{"reference_id":"  ","status":"failed"}`, // blank reference_id
	} {
		assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/webhooks/provider", body), "body: %s", body)
	}
}

func TestProviderWebhookEnvelopeWithoutDecryptor(t *testing.T) {
	app := newWebhookApp()

	payload := base64.StdEncoding.EncodeToString([]byte("ciphertext"))
	status := postJSON(t, app, "/webhooks/provider", fmt.Sprintf(`{"data":%q}`, payload))
	assert.Equal(t, fiber.StatusInternalServerError, status)
}

func TestClientEndpointsRequireAuthentication(t *testing.T) {
	app := fiber.New()
	app.Post("/api/v1/sessions", controllers.HandleCreateSessionAPI)
	app.Get("/api/v1/sessions/:id", controllers.HandleGetSessionAPI)

	status := postJSON(t, app, "/api/v1/sessions", `{"reference_id":"order-1"}`)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/sessions/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
