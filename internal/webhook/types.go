package webhook

import (
	"context"

	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/appstore"
	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/lark"
)

//go:generate mockgen -destination=mocks/mock_webhook.go -package=mocks github.com/AlexV525/app-store-webhook-lark-forwarder/internal/webhook MetadataResolver,Notifier

// MetadataResolver looks up display metadata for an app. ok is false when the
// lookup was not possible; the handler then falls back to placeholders.
type MetadataResolver interface {
	Resolve(ctx context.Context, id appstore.Identifier) (appstore.AppMetadata, bool)
}

// Notifier delivers a formatted card.
type Notifier interface {
	Send(ctx context.Context, card lark.Card) error
}

// Config holds webhook server configuration.
type Config struct {
	Listen string
	Path   string

	// Secret is the shared HMAC secret. An empty secret rejects every request.
	Secret string

	// SignatureHeader defaults to X-Apple-Signature.
	SignatureHeader string

	// MaxBodySize defaults to 1 MB.
	MaxBodySize int64

	// MetricsPath mounts the Prometheus handler when metrics are enabled.
	MetricsPath string
}

// StatusResponse is the JSON response for accepted requests.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultPath            = "/webhook"
	DefaultSignatureHeader = "X-Apple-Signature"
	DefaultMaxBodySize     = 1048576 // 1 MB

	statusForwarded = "forwarded"
)
