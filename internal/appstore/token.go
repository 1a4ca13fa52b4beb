package appstore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Audience is the fixed aud claim App Store Connect expects.
	Audience = "appstoreconnect-v1"

	// TokenTTL is how long a minted token stays valid. Apple rejects anything over 20 minutes.
	TokenTTL = 10 * time.Minute
)

// ErrMissingCredentials is returned when any of key id, issuer id or private key is empty.
var ErrMissingCredentials = errors.New("app store connect credentials incomplete")

// Credentials identify an App Store Connect API key.
type Credentials struct {
	KeyID      string
	IssuerID   string
	PrivateKey string // PEM, usually the contents of AuthKey_<KeyID>.p8
}

// Complete reports whether all three fields are set.
func (c Credentials) Complete() bool {
	return c.KeyID != "" && c.IssuerID != "" && c.PrivateKey != ""
}

// TokenSigner mints short-lived ES256 bearer tokens scoped to a single request.
type TokenSigner struct {
	keyID    string
	issuerID string
	key      *ecdsa.PrivateKey
	now      func() time.Time
}

// NewTokenSigner parses the private key once so each token only costs a signature.
func NewTokenSigner(creds Credentials) (*TokenSigner, error) {
	if !creds.Complete() {
		return nil, ErrMissingCredentials
	}

	// Keys pasted into env vars often carry literal "\n" sequences.
	pemText := strings.ReplaceAll(creds.PrivateKey, `\n`, "\n")
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &TokenSigner{
		keyID:    creds.KeyID,
		issuerID: creds.IssuerID,
		key:      key,
		now:      time.Now,
	}, nil
}

// Token returns a signed JWT whose scope claim names exactly one request,
// e.g. "GET /v1/apps/123".
func (s *TokenSigner) Token(scope string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss":   s.issuerID,
		"iat":   now.Unix(),
		"exp":   now.Add(TokenTTL).Unix(),
		"aud":   Audience,
		"scope": []string{scope},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
