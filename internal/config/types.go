package config

import "time"

// Config represents the complete forwarder configuration.
// It is built once at startup and passed explicitly to every component.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Lark     LarkConfig     `yaml:"lark"`
	AppStore AppStoreConfig `yaml:"app_store"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// WebhookConfig defines the inbound App Store Connect listener.
type WebhookConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`

	// Secret is the shared secret App Store Connect signs requests with.
	Secret string `yaml:"secret"`

	// SignatureHeader carries the HMAC signature (default X-Apple-Signature).
	SignatureHeader string `yaml:"signature_header"`

	// MaxBodySize accepts "1MB", "512KB" or a plain byte count.
	MaxBodySize string `yaml:"max_body_size"`
}

// LarkConfig defines the outbound chat webhook.
type LarkConfig struct {
	WebhookURL    string        `yaml:"webhook_url"`
	SigningSecret string        `yaml:"signing_secret"`
	Timeout       time.Duration `yaml:"timeout"`
}

// AppStoreConfig holds App Store Connect API credentials used for enrichment.
type AppStoreConfig struct {
	KeyID      string        `yaml:"key_id"`
	IssuerID   string        `yaml:"issuer_id"`
	PrivateKey string        `yaml:"private_key"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// MetricsConfig toggles the Prometheus endpoint on the webhook listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HasCredentials reports whether all three API credentials are present.
func (a AppStoreConfig) HasCredentials() bool {
	return a.KeyID != "" && a.IssuerID != "" && a.PrivateKey != ""
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "asc-lark",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Webhook: WebhookConfig{
			Listen:          "0.0.0.0:8080",
			Path:            "/webhook",
			SignatureHeader: "X-Apple-Signature",
			MaxBodySize:     "1MB",
		},
		Lark: LarkConfig{
			Timeout: 10 * time.Second,
		},
		AppStore: AppStoreConfig{
			BaseURL: "https://api.appstoreconnect.apple.com",
			Timeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
