package controllers

import (
	"github.com/verigate/verigate/internal/pkg/dispatch"
	"github.com/verigate/verigate/internal/pkg/invoicing"
	"github.com/verigate/verigate/internal/pkg/ledger"
	"github.com/verigate/verigate/internal/pkg/pricing"
	"github.com/verigate/verigate/internal/pkg/provider"
	"github.com/verigate/verigate/internal/pkg/verification"
)

// Services carries the wired service layer shared by all handlers. main
// populates it once during startup.
type Services struct {
	Verification *verification.Service
	Invoicing    *invoicing.Service
	Ledger       *ledger.Service
	Pricing      *pricing.Service
	Dispatcher   *dispatch.Dispatcher

	// Optional provider-integration collaborators for inbound webhooks.
	ProviderDecryptor provider.Decryptor
	ProviderVerifier  provider.Verifier
}

var services Services

// SetupServices installs the shared service layer for the handler functions.
func SetupServices(s Services) {
	services = s
}
