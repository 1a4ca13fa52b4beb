// Package doctor inspects a forwarder configuration and reports problems
// that would make relays fail or degrade.
package doctor

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/url"
	"strings"

	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateLark(r)
	d.validateWebhook(r)
	d.validateAppStore(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateLark(r *Result) {
	lc := d.cfg.Lark
	if lc.WebhookURL == "" {
		d.addError(r, "lark", "lark.webhook_url",
			fmt.Sprintf("webhook URL is required (set %s)", config.EnvLarkWebhookURL))
	} else if u, err := url.Parse(lc.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
		d.addError(r, "lark", "lark.webhook_url", fmt.Sprintf("webhook URL %q is not an absolute URL", lc.WebhookURL))
	} else if u.Scheme != "https" {
		d.addWarning(r, "lark", "lark.webhook_url", "webhook URL is not https")
	}

	if lc.SigningSecret == "" {
		d.addWarning(r, "lark", "lark.signing_secret", "no signing secret; outbound messages are sent unsigned")
	}
}

func (d *Doctor) validateWebhook(r *Result) {
	if d.cfg.Webhook.Secret == "" {
		d.addWarning(r, "webhook", "webhook.secret",
			fmt.Sprintf("no inbound secret (set %s); every webhook request will be rejected with 403", config.EnvAppStoreSecret))
	}
	if _, err := config.ParseSize(d.cfg.Webhook.MaxBodySize); err != nil {
		d.addError(r, "webhook", "webhook.max_body_size", err.Error())
	}
}

// validateAppStore warns about partial or unusable enrichment credentials.
func (d *Doctor) validateAppStore(r *Result) {
	ac := d.cfg.AppStore
	present := 0
	for _, v := range []string{ac.KeyID, ac.IssuerID, ac.PrivateKey} {
		if v != "" {
			present++
		}
	}

	switch {
	case present == 0:
		d.addWarning(r, "app_store", "app_store",
			"no App Store Connect credentials; app names and icons will not be resolved")
		return
	case present < 3:
		d.addWarning(r, "app_store", "app_store",
			fmt.Sprintf("incomplete App Store Connect credentials (%s, %s, %s all required); enrichment disabled",
				config.EnvKeyID, config.EnvIssuerID, config.EnvPrivateKey))
		return
	}

	pemText := strings.ReplaceAll(ac.PrivateKey, `\n`, "\n")
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		d.addWarning(r, "app_store", "app_store.private_key", "private key is not PEM encoded")
		return
	}
	if _, err := x509.ParsePKCS8PrivateKey(block.Bytes); err != nil {
		if _, ecErr := x509.ParseECPrivateKey(block.Bytes); ecErr != nil {
			d.addWarning(r, "app_store", "app_store.private_key", fmt.Sprintf("private key could not be parsed: %v", err))
		}
	}
}
