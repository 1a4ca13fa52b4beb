package webhook

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/appstore"
	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/lark"
	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/metrics"
	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/notification"
)

// Server represents the webhook HTTP server.
type Server struct {
	config   Config
	resolver MetadataResolver
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new webhook server instance. resolver and m may be nil.
func New(config Config, resolver MetadataResolver, notifier Notifier, m *metrics.Metrics, logger *slog.Logger) *Server {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.SignatureHeader == "" {
		config.SignatureHeader = DefaultSignatureHeader
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}

	return &Server{
		config:   config,
		resolver: resolver,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// All methods reach handleWebhook so it can answer 405 itself.
	r.HandleFunc(s.config.Path, s.handleWebhook)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil && s.config.MetricsPath != "" {
		r.Handle(s.config.MetricsPath, s.metrics.Handler())
	}

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleWebhook runs one notification through verify, parse, enrich and relay.
// Each gate ends the request on failure; relay failures do not.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.metrics.Request(metrics.ResultBadMethod)
		w.Header().Set("Allow", http.MethodPost)
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.metrics.Request(metrics.ResultTooLarge)
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(s.config.SignatureHeader)
	if !VerifySignature(body, signature, s.config.Secret, s.logger) {
		s.metrics.Request(metrics.ResultForbidden)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	if !isJSONObject(body) {
		s.metrics.Request(metrics.ResultBadJSON)
		s.respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	logger := s.logger.With(
		"delivery_id", uuid.NewString(),
		"request_id", middleware.GetReqID(r.Context()),
		"payload_digest", payloadDigest(body),
	)

	// The relay outlives a caller that hangs up; the notifier timeout bounds it.
	s.relay(context.WithoutCancel(r.Context()), body, logger)

	s.metrics.Request(metrics.ResultForwarded)
	s.respondJSON(w, http.StatusOK, StatusResponse{Status: statusForwarded})
}

// relay enriches, renders and sends one verified payload.
func (s *Server) relay(ctx context.Context, body []byte, logger *slog.Logger) {
	appID, versionID := notification.Identify(body)
	id := appstore.Identifier{AppID: appID, VersionID: versionID}

	var meta appstore.AppMetadata
	switch {
	case id.Empty() || s.resolver == nil:
		s.metrics.Enrichment(metrics.EnrichSkipped)
	default:
		resolved, ok := s.resolver.Resolve(ctx, id)
		if ok {
			meta = resolved
			s.metrics.Enrichment(metrics.EnrichOK)
		} else {
			s.metrics.Enrichment(metrics.EnrichFailed)
		}
	}

	msg := notification.Parse(body, meta.Name)
	if msg.Title == notification.ParseErrorTitle {
		logger.Warn("notification parse failed", "error", msg.Body)
	}

	card := lark.FormatCard(msg.Title, msg.Body, meta.IconURL, msg.Raw)

	start := time.Now()
	err := s.notifier.Send(ctx, card)
	s.metrics.Delivery(err == nil, time.Since(start))
	if err != nil {
		logger.Error("relay to lark failed", "kind", msg.Kind.String(), "error", err)
		return
	}

	logger.Info("notification relayed", "kind", msg.Kind.String(), "title", msg.Title)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// isJSONObject reports whether body is valid JSON with an object at the top level.
func isJSONObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// payloadDigest is a short BLAKE3 fingerprint used to correlate log lines.
func payloadDigest(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:8])
}

// respondJSON writes a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
