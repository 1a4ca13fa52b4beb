package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvLarkWebhookURL, EnvLarkSigningSecret, EnvAppStoreSecret,
		EnvKeyID, EnvIssuerID, EnvPrivateKey,
		EnvListenAddr, EnvLogLevel, EnvLogFormat,
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "file only",
			yaml: `
service:
  log_level: DEBUG
webhook:
  listen: 127.0.0.1:9090
  path: /hooks/asc
  secret: shh
lark:
  webhook_url: https://open.larksuite.com/open-apis/bot/v2/hook/abc
  timeout: 3s
metrics:
  enabled: false
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Service.LogLevel)
				assert.Equal(t, "127.0.0.1:9090", cfg.Webhook.Listen)
				assert.Equal(t, "/hooks/asc", cfg.Webhook.Path)
				assert.Equal(t, "shh", cfg.Webhook.Secret)
				assert.Equal(t, 3*time.Second, cfg.Lark.Timeout)
				assert.False(t, cfg.Metrics.Enabled)
				// defaults survive for omitted keys
				assert.Equal(t, "X-Apple-Signature", cfg.Webhook.SignatureHeader)
				assert.Equal(t, "https://api.appstoreconnect.apple.com", cfg.AppStore.BaseURL)
				assert.Equal(t, "/metrics", cfg.Metrics.Path)
			},
		},
		{
			name: "env var interpolation",
			yaml: `
lark:
  webhook_url: ${TEST_LARK_URL}
`,
			env: map[string]string{"TEST_LARK_URL": "https://example.test/hook"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://example.test/hook", cfg.Lark.WebhookURL)
			},
		},
		{
			name: "unresolved env var",
			yaml: `
lark:
  webhook_url: ${TEST_UNSET_LARK_URL}
`,
			wantErr: true,
		},
		{
			name: "environment overrides file",
			yaml: `
webhook:
  secret: from-file
lark:
  webhook_url: https://file.test/hook
`,
			env: map[string]string{
				EnvAppStoreSecret: "from-env",
				EnvKeyID:          "KEY123",
				EnvIssuerID:       "issuer",
				EnvPrivateKey:     "pem",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "from-env", cfg.Webhook.Secret)
				assert.Equal(t, "https://file.test/hook", cfg.Lark.WebhookURL)
				assert.True(t, cfg.AppStore.HasCredentials())
			},
		},
		{
			name:    "missing webhook url",
			yaml:    "service:\n  log_level: info\n",
			wantErr: true,
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: loud
lark:
  webhook_url: https://example.test/hook
`,
			wantErr: true,
		},
		{
			name: "invalid path",
			yaml: `
webhook:
  path: webhook
lark:
  webhook_url: https://example.test/hook
`,
			wantErr: true,
		},
		{
			name: "invalid max body size",
			yaml: `
webhook:
  max_body_size: lots
lark:
  webhook_url: https://example.test/hook
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadWithoutFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvLarkWebhookURL, "https://example.test/hook")
	t.Setenv(EnvListenAddr, "127.0.0.1:7000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/hook", cfg.Lark.WebhookURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Webhook.Listen)
	assert.Equal(t, 10*time.Second, cfg.Lark.Timeout)
	assert.Empty(t, cfg.Webhook.Secret)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestFromEnvSkipsValidation(t *testing.T) {
	clearEnv(t)
	cfg := FromEnv()
	assert.Empty(t, cfg.Lark.WebhookURL)
	assert.Equal(t, "info", cfg.Service.LogLevel)
}

func TestLoadUnvalidatedKeepsInvalidConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "service:\n  log_level: debug\n")

	_, err := Load(path)
	require.Error(t, err)

	cfg, err := LoadUnvalidated(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Lark.WebhookURL)
	assert.Equal(t, "debug", cfg.Service.LogLevel)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "1MB", want: 1024 * 1024},
		{in: "512kb", want: 512 * 1024},
		{in: "2048", want: 2048},
		{in: " 1GB ", want: 1024 * 1024 * 1024},
		{in: "0", wantErr: true},
		{in: "-5", wantErr: true},
		{in: "MB", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
