package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Environment variables recognised by FromEnv.
const (
	EnvLarkWebhookURL    = "LARK_WEBHOOK_URL"
	EnvLarkSigningSecret = "LARK_SIGNING_SECRET"
	EnvAppStoreSecret    = "APP_STORE_CONNECT_SECRET"
	EnvKeyID             = "KEY_ID"
	EnvIssuerID          = "ISSUER_ID"
	EnvPrivateKey        = "APPSTORE_PRIVATE_KEY"
	EnvListenAddr        = "LISTEN_ADDR"
	EnvLogLevel          = "LOG_LEVEL"
	EnvLogFormat         = "LOG_FORMAT"
)

// Load builds the configuration: defaults, then the optional YAML file at
// configPath, then environment overrides. The result is validated.
func Load(configPath string) (*Config, error) {
	cfg, err := LoadUnvalidated(configPath)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated is Load without the final validation, for tools that report
// problems themselves.
func LoadUnvalidated(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}
		if err := loadConfigFile(absPath, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg, os.LookupEnv)
	return applyConfigDefaults(cfg), nil
}

// FromEnv builds a configuration from defaults and environment only, without validation.
// Used by commands that check their own requirements.
func FromEnv() *Config {
	cfg := Defaults()
	applyEnv(cfg, os.LookupEnv)
	return applyConfigDefaults(cfg)
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", path)
	}

	// Apply environment variable interpolation
	interpolated := interpolateEnv(string(data))

	// Unmarshal over the defaults so omitted keys keep their default values.
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return fmt.Errorf("failed to parse YAML %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides config fields from the environment. Empty values are ignored.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set(EnvLarkWebhookURL, &cfg.Lark.WebhookURL)
	set(EnvLarkSigningSecret, &cfg.Lark.SigningSecret)
	set(EnvAppStoreSecret, &cfg.Webhook.Secret)
	set(EnvKeyID, &cfg.AppStore.KeyID)
	set(EnvIssuerID, &cfg.AppStore.IssuerID)
	set(EnvPrivateKey, &cfg.AppStore.PrivateKey)
	set(EnvListenAddr, &cfg.Webhook.Listen)
	set(EnvLogLevel, &cfg.Service.LogLevel)
	set(EnvLogFormat, &cfg.Service.LogFormat)
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Webhook.Listen == "" {
		cfg.Webhook.Listen = defaults.Webhook.Listen
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = defaults.Webhook.Path
	}
	if cfg.Webhook.SignatureHeader == "" {
		cfg.Webhook.SignatureHeader = defaults.Webhook.SignatureHeader
	}
	if cfg.Webhook.MaxBodySize == "" {
		cfg.Webhook.MaxBodySize = defaults.Webhook.MaxBodySize
	}

	if cfg.Lark.Timeout <= 0 {
		cfg.Lark.Timeout = defaults.Lark.Timeout
	}
	if cfg.AppStore.BaseURL == "" {
		cfg.AppStore.BaseURL = defaults.AppStore.BaseURL
	}
	if cfg.AppStore.Timeout <= 0 {
		cfg.AppStore.Timeout = defaults.AppStore.Timeout
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaults.Metrics.Path
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Lark.WebhookURL == "" {
		return fmt.Errorf("lark.webhook_url is required (set %s)", EnvLarkWebhookURL)
	}
	if err := checkUnresolved("lark.webhook_url", cfg.Lark.WebhookURL); err != nil {
		return err
	}
	if err := checkUnresolved("webhook.secret", cfg.Webhook.Secret); err != nil {
		return err
	}

	if _, _, err := net.SplitHostPort(cfg.Webhook.Listen); err != nil {
		return fmt.Errorf("webhook.listen %q: %w", cfg.Webhook.Listen, err)
	}
	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		return fmt.Errorf("webhook.path must start with '/' (got %q)", cfg.Webhook.Path)
	}
	if _, err := ParseSize(cfg.Webhook.MaxBodySize); err != nil {
		return fmt.Errorf("webhook.max_body_size %q: %w", cfg.Webhook.MaxBodySize, err)
	}

	return nil
}

func checkUnresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// ParseSize parses size strings like "1MB", "512KB", "1048576" to bytes.
func ParseSize(size string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
