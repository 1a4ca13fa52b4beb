package lark

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
)

const maxResponseSize = 64 << 10

var (
	// ErrNoWebhookURL is returned by Send when no destination is configured.
	ErrNoWebhookURL = errors.New("lark webhook URL not configured")

	// ErrRejected wraps a 2xx response whose body reports a failure code.
	ErrRejected = errors.New("lark rejected message")
)

// Sign computes the custom bot signature for timestamp: the HMAC-SHA256 keyed
// by "{timestamp}\n{secret}" over an empty message, base64 encoded.
func Sign(secret string, timestamp int64) string {
	stringToSign := strconv.FormatInt(timestamp, 10) + "\n" + secret
	mac := hmac.New(sha256.New, []byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Config configures a Notifier.
type Config struct {
	WebhookURL    string
	SigningSecret string
	Timeout       time.Duration
}

// Notifier posts cards to one custom bot webhook.
type Notifier struct {
	webhookURL string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewNotifier creates a Notifier. A zero timeout means 10 seconds.
func NewNotifier(cfg Config, logger *slog.Logger) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		webhookURL: cfg.WebhookURL,
		secret:     cfg.SigningSecret,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// Send posts card once. It fails on transport errors, non-2xx statuses, and
// bodies whose StatusCode / code field is not 0.
func (n *Notifier) Send(ctx context.Context, card Card) error {
	if n.webhookURL == "" {
		return ErrNoWebhookURL
	}

	if n.secret != "" {
		ts := n.now().Unix()
		card.Timestamp = strconv.FormatInt(ts, 10)
		card.Sign = Sign(n.secret, ts)
	}

	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("lark webhook returned status %d: %s", resp.StatusCode, truncate(respBody))
	}
	if err := checkResponse(respBody); err != nil {
		return err
	}

	n.logger.Info("card delivered to lark", "title", card.Title())
	return nil
}

// checkResponse accepts either response convention: the legacy
// {"StatusCode":0,"StatusMessage":"success"} and the current {"code":0,"msg":"success"}.
func checkResponse(body []byte) error {
	statusCode, scErr := jsonparser.GetInt(body, "StatusCode")
	code, codeErr := jsonparser.GetInt(body, "code")

	if (scErr == nil && statusCode == 0) || (codeErr == nil && code == 0) {
		return nil
	}

	switch {
	case codeErr == nil:
		msg, _ := jsonparser.GetString(body, "msg")
		return fmt.Errorf("%w: code %d: %s", ErrRejected, code, msg)
	case scErr == nil:
		msg, _ := jsonparser.GetString(body, "StatusMessage")
		return fmt.Errorf("%w: StatusCode %d: %s", ErrRejected, statusCode, msg)
	default:
		return fmt.Errorf("%w: no status code in response: %s", ErrRejected, truncate(body))
	}
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
