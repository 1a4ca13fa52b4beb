package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/config"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

// clearEnv blanks every variable the loader reads; empty values are ignored.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvLarkWebhookURL, config.EnvLarkSigningSecret, config.EnvAppStoreSecret,
		config.EnvKeyID, config.EnvIssuerID, config.EnvPrivateKey,
		config.EnvListenAddr, config.EnvLogLevel, config.EnvLogFormat,
	} {
		t.Setenv(key, "")
	}
	// Keep config discovery away from the host's files.
	t.Setenv(config.EnvConfigFile, "")
	t.Setenv("HOME", t.TempDir())
}

// larkStub records posted cards and answers with reply.
type larkStub struct {
	mu    sync.Mutex
	cards []map[string]any
	reply string
}

func newLarkStub(t *testing.T, reply string) (*larkStub, string) {
	t.Helper()
	stub := &larkStub{reply: reply}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var card map[string]any
		if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
			t.Errorf("decode card: %v", err)
		}
		stub.mu.Lock()
		stub.cards = append(stub.cards, card)
		stub.mu.Unlock()
		io.WriteString(w, stub.reply)
	}))
	t.Cleanup(srv.Close)
	return stub, srv.URL
}

func (s *larkStub) received() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.cards...)
}

func headerTitle(card map[string]any) string {
	c, _ := card["card"].(map[string]any)
	h, _ := c["header"].(map[string]any)
	title, _ := h["title"].(map[string]any)
	s, _ := title["content"].(string)
	return s
}

func TestRunCLI_Usage(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int { return runCLI(nil) })
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stdout, "Usage:") {
		t.Fatalf("usage not printed: %q", stdout)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int { return runCLI([]string{"help"}) })
	if code != 0 || !strings.Contains(stdout, "system start") {
		t.Fatalf("help: code=%d stdout=%q", code, stdout)
	}
}

func TestRunCLI_UnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int { return runCLI([]string{"bogus"}) })
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: bogus") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunCLI_NounHelp(t *testing.T) {
	tests := []struct {
		args     []string
		wantCode int
		wantOut  string
	}{
		{args: []string{"system"}, wantCode: 1},
		{args: []string{"system", "help"}, wantCode: 0, wantOut: "Actions: start"},
		{args: []string{"system", "start", "--help"}, wantCode: 0, wantOut: "system start"},
		{args: []string{"system", "stop"}, wantCode: 1},
		{args: []string{"config"}, wantCode: 1},
		{args: []string{"config", "--help"}, wantCode: 0, wantOut: "Actions: check"},
		{args: []string{"config", "check", "-h"}, wantCode: 0, wantOut: "--strict"},
		{args: []string{"send", "--help"}, wantCode: 0, wantOut: "--title"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			code, stdout, _ := captureOutputWithExitCode(t, func() int { return runCLI(tt.args) })
			if code != tt.wantCode {
				t.Fatalf("exit code = %d, want %d", code, tt.wantCode)
			}
			if tt.wantOut != "" && !strings.Contains(stdout, tt.wantOut) {
				t.Fatalf("stdout %q missing %q", stdout, tt.wantOut)
			}
		})
	}
}

func TestRunVersionJSON(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int { return runCLI([]string{"version", "--json"}) })
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("version output is not JSON: %v (%q)", err, stdout)
	}
	if info.Version != version {
		t.Fatalf("version = %q, want %q", info.Version, version)
	}
}

func TestRunSend(t *testing.T) {
	clearEnv(t)
	stub, url := newLarkStub(t, `{"code":0,"msg":"success"}`)
	t.Setenv(config.EnvLarkWebhookURL, url)
	t.Setenv(config.EnvLarkSigningSecret, "secret")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"send", "--title", "Release", "--content", "**4.2** is live"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%q", code, stderr)
	}
	if !strings.Contains(stdout, "Message sent.") {
		t.Fatalf("stdout = %q", stdout)
	}

	cards := stub.received()
	if len(cards) != 1 {
		t.Fatalf("lark received %d cards, want 1", len(cards))
	}
	if got := headerTitle(cards[0]); got != "Release" {
		t.Fatalf("title = %q", got)
	}
	if cards[0]["sign"] == nil || cards[0]["timestamp"] == nil {
		t.Fatalf("card not signed: %v", cards[0])
	}
}

func TestRunSend_Errors(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		clearEnv(t)
		code, _, stderr := captureOutputWithExitCode(t, func() int {
			return runCLI([]string{"send", "--title", "T", "--content", "C"})
		})
		if code != 1 || !strings.Contains(stderr, config.EnvLarkWebhookURL) {
			t.Fatalf("code=%d stderr=%q", code, stderr)
		}
	})

	t.Run("missing title", func(t *testing.T) {
		clearEnv(t)
		code, _, stderr := captureOutputWithExitCode(t, func() int {
			return runCLI([]string{"send", "--content", "C"})
		})
		if code != 1 || !strings.Contains(stderr, "Usage:") {
			t.Fatalf("code=%d stderr=%q", code, stderr)
		}
	})

	t.Run("rejected by lark", func(t *testing.T) {
		clearEnv(t)
		_, url := newLarkStub(t, `{"code":19021,"msg":"sign match fail"}`)
		t.Setenv(config.EnvLarkWebhookURL, url)

		code, _, stderr := captureOutputWithExitCode(t, func() int {
			return runCLI([]string{"send", "--title", "T", "--content", "C"})
		})
		if code != 1 || !strings.Contains(stderr, "sign match fail") {
			t.Fatalf("code=%d stderr=%q", code, stderr)
		}
	})
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunConfigCheck(t *testing.T) {
	clearEnv(t)
	valid := writeConfig(t, `
webhook:
  secret: inbound
lark:
  webhook_url: https://open.larksuite.com/open-apis/bot/v2/hook/abc
  signing_secret: outbound
`)
	missingURL := writeConfig(t, "webhook:\n  secret: inbound\n")

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{name: "valid with warnings", args: []string{"--config", valid}, wantCode: 0, wantOut: "Configuration valid"},
		{name: "strict with warnings", args: []string{"--config", valid, "--strict"}, wantCode: 2, wantOut: "WARN"},
		{name: "missing url", args: []string{"--config", missingURL}, wantCode: 1, wantOut: "lark.webhook_url"},
		{name: "json", args: []string{"--config", missingURL, "--json"}, wantCode: 1, wantOut: `"valid": false`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := captureOutputWithExitCode(t, func() int {
				return runCLI(append([]string{"config", "check"}, tt.args...))
			})
			if code != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (stdout=%q stderr=%q)", code, tt.wantCode, stdout, stderr)
			}
			if !strings.Contains(stdout, tt.wantOut) {
				t.Fatalf("stdout %q missing %q", stdout, tt.wantOut)
			}
		})
	}
}

func TestRunConfigCheck_MissingFile(t *testing.T) {
	clearEnv(t)
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	})
	if code != 1 || !strings.Contains(stderr, "Config load error") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestRunStart_InvalidConfig(t *testing.T) {
	clearEnv(t)
	code, _, stderr := captureOutputWithExitCode(t, func() int { return runCLI([]string{"system", "start"}) })
	if code != 1 || !strings.Contains(stderr, "Failed to load config") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestBuildServer_RelaysSignedNotification(t *testing.T) {
	clearEnv(t)
	stub, url := newLarkStub(t, `{"StatusCode":0,"StatusMessage":"success"}`)
	t.Setenv(config.EnvLarkWebhookURL, url)
	t.Setenv(config.EnvAppStoreSecret, "inbound")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	srv, err := buildServer(cfg)
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}

	body := `{"data":{"type":"BUILD_STATE_UPDATED","attributes":{"versionString":"4.2","oldState":"PROCESSING","newState":"VALID"},` +
		`"relationships":{"app":{"data":{"id":"123"}}}}}`
	mac := hmac.New(sha256.New, []byte("inbound"))
	mac.Write([]byte(body))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Apple-Signature", "hmacsha256="+hex.EncodeToString(mac.Sum(nil)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}

	cards := stub.received()
	if len(cards) != 1 {
		t.Fatalf("lark received %d cards, want 1", len(cards))
	}
	// No App Store credentials: enrichment is skipped, not attempted.
	if got := headerTitle(cards[0]); got != "🛠️ Unknown App" {
		t.Fatalf("title = %q", got)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `asc_lark_enrichment_total{result="skipped"} 1`) {
		t.Fatalf("metrics missing skipped enrichment:\n%s", rec.Body.String())
	}
}
