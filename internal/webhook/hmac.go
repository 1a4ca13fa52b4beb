package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"strings"
)

// VerifySignature reports whether header carries the HMAC-SHA256 of body
// under secret. header is either bare hex or "<algo>=<hex>"; everything up to
// the first '=' is dropped. It never returns an error: a missing header, an
// empty secret and a mismatch are all just false.
func VerifySignature(body []byte, header, secret string, logger *slog.Logger) bool {
	if secret == "" {
		logger.Warn("signature rejected", "reason", "secret not configured")
		return false
	}
	if header == "" {
		logger.Warn("signature rejected", "reason", "missing signature header")
		return false
	}

	received := stripAlgorithm(header)
	expected := computeExpectedSignature(body, secret)

	// Compared as hex text so a malformed header fails the same way a wrong one does.
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(received))) != 1 {
		logger.Warn("signature rejected", "reason", "mismatch", "received", received)
		logger.Debug("signature mismatch detail", "received", received, "expected", expected)
		return false
	}
	return true
}

func stripAlgorithm(header string) string {
	if i := strings.IndexByte(header, '='); i >= 0 {
		return header[i+1:]
	}
	return header
}

// computeExpectedSignature computes the HMAC-SHA256 signature for a body.
// Returns hex-encoded signature.
func computeExpectedSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
