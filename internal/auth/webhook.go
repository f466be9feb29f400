package auth

import (
	"github.com/lorawan-server/ttn-trapnz-bridge/pkg/crypto"
)

// WebhookSecretHeader carries the shared secret on inbound webhooks
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookVerifier checks the shared secret sent by the network server
type WebhookVerifier struct {
	hash string
}

// NewWebhookVerifier creates a verifier for a bcrypt hash.
// An empty hash disables verification.
func NewWebhookVerifier(hash string) *WebhookVerifier {
	return &WebhookVerifier{hash: hash}
}

// Enabled reports whether a secret is required
func (v *WebhookVerifier) Enabled() bool {
	return v.hash != ""
}

// Verify reports whether secret matches. It always succeeds when verification is disabled.
func (v *WebhookVerifier) Verify(secret string) bool {
	if !v.Enabled() {
		return true
	}
	if secret == "" {
		return false
	}
	return crypto.VerifySecret(secret, v.hash)
}
