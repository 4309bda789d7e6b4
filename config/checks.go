package config

import (
	"strings"
	"time"
)

// ChecksConfig configures the HTTP external check adapter. A check with an empty
// URL is left unconfigured and its jobs complete degraded.
type ChecksConfig struct {
	IdentityURL             string        `env:"CHECKS_IDENTITY_URL"`
	ScreeningURL            string        `env:"CHECKS_SCREENING_URL"`
	DocumentOCRURL          string        `env:"CHECKS_DOCUMENT_OCR_URL"`
	DocumentVerificationURL string        `env:"CHECKS_DOCUMENT_VERIFICATION_URL"`
	Timeout                 time.Duration `env:"CHECKS_TIMEOUT" envDefault:"30s"`

	// OAuth2 client credentials. Requests are unauthenticated when TokenURL is empty.
	TokenURL     string   `env:"CHECKS_OAUTH_TOKEN_URL"`
	ClientID     string   `env:"CHECKS_OAUTH_CLIENT_ID"`
	ClientSecret string   `env:"CHECKS_OAUTH_CLIENT_SECRET"`
	Scopes       []string `env:"CHECKS_OAUTH_SCOPES"`
}

// Sanitize trims endpoints and applies a default timeout.
func (c *ChecksConfig) Sanitize() {
	for _, s := range []*string{&c.IdentityURL, &c.ScreeningURL, &c.DocumentOCRURL, &c.DocumentVerificationURL, &c.TokenURL} {
		*s = strings.TrimSpace(*s)
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// OAuthEnabled reports whether client credentials are fully configured.
func (c *ChecksConfig) OAuthEnabled() bool {
	return c.TokenURL != "" && c.ClientID != "" && c.ClientSecret != ""
}
