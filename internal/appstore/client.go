// Package appstore resolves app display metadata from the App Store Connect API.
//
// Lookups are enrichment only. Resolve never returns an error: any failure is
// logged and reported as "not found" so the caller can fall back to defaults.
package appstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"
)

// DefaultBaseURL is the production App Store Connect API host.
const DefaultBaseURL = "https://api.appstoreconnect.apple.com"

const (
	maxResponseSize = 1 << 20
	iconSize        = "100"
	iconFormat      = "png"
)

var (
	// ErrNoIdentifier is returned when neither an app id nor a version id is known.
	ErrNoIdentifier = errors.New("no app or version identifier")

	// ErrAppNotIncluded is returned when a version lookup carries no related app.
	ErrAppNotIncluded = errors.New("response did not include the app")
)

// AppMetadata is the display information attached to a relayed card.
type AppMetadata struct {
	Name    string
	IconURL string
}

// Identifier names the entity to resolve. AppID wins when both are set.
type Identifier struct {
	AppID     string
	VersionID string
}

// Empty reports whether there is nothing to look up.
func (i Identifier) Empty() bool {
	return i.AppID == "" && i.VersionID == ""
}

// Config configures a Client.
type Config struct {
	Credentials Credentials
	BaseURL     string
	Timeout     time.Duration
}

// Client calls the App Store Connect REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *TokenSigner
	signerErr  error
	logger     *slog.Logger
}

// NewClient builds a client. Missing or unparseable credentials do not fail
// construction; they make every lookup fail instead.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	signer, err := NewTokenSigner(cfg.Credentials)
	if err != nil && !errors.Is(err, ErrMissingCredentials) {
		logger.Warn("app store connect private key unusable; enrichment disabled", "error", err)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
		signerErr:  err,
		logger:     logger,
	}
}

// Enabled reports whether lookups can succeed at all.
func (c *Client) Enabled() bool {
	return c.signer != nil
}

// Resolve looks up metadata for id. ok is false on any failure.
func (c *Client) Resolve(ctx context.Context, id Identifier) (AppMetadata, bool) {
	meta, err := c.Lookup(ctx, id)
	if err != nil {
		c.logger.Warn("app metadata lookup failed",
			"app_id", id.AppID,
			"version_id", id.VersionID,
			"error", err,
		)
		return AppMetadata{}, false
	}

	c.logger.Debug("app metadata resolved", "app_id", id.AppID, "version_id", id.VersionID, "name", meta.Name)
	return meta, true
}

// Lookup is Resolve with the error kept.
func (c *Client) Lookup(ctx context.Context, id Identifier) (AppMetadata, error) {
	if c.signer == nil {
		return AppMetadata{}, c.signerErr
	}
	switch {
	case id.AppID != "":
		return c.AppByID(ctx, id.AppID)
	case id.VersionID != "":
		return c.AppByVersionID(ctx, id.VersionID)
	default:
		return AppMetadata{}, ErrNoIdentifier
	}
}

// appResource is the subset of an "apps" resource this service reads.
type appResource struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Attributes struct {
		Name           string `json:"name"`
		IconAssetToken *struct {
			TemplateURL string `json:"templateUrl"`
		} `json:"iconAssetToken"`
	} `json:"attributes"`
}

func (a appResource) metadata() AppMetadata {
	meta := AppMetadata{Name: a.Attributes.Name}
	if a.Attributes.IconAssetToken != nil {
		meta.IconURL = IconURL(a.Attributes.IconAssetToken.TemplateURL)
	}
	return meta
}

// AppByID fetches /v1/apps/{id}.
func (c *Client) AppByID(ctx context.Context, appID string) (AppMetadata, error) {
	path := "/v1/apps/" + url.PathEscape(appID)

	var resp struct {
		Data appResource `json:"data"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return AppMetadata{}, err
	}
	return resp.Data.metadata(), nil
}

// AppByVersionID fetches /v1/appStoreVersions/{id}?include=app and reads the included app.
func (c *Client) AppByVersionID(ctx context.Context, versionID string) (AppMetadata, error) {
	path := "/v1/appStoreVersions/" + url.PathEscape(versionID) + "?include=app"

	var resp struct {
		Included []appResource `json:"included"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return AppMetadata{}, err
	}
	for _, inc := range resp.Included {
		if inc.Type == "apps" {
			return inc.metadata(), nil
		}
	}
	return AppMetadata{}, ErrAppNotIncluded
}

// get performs an authenticated GET of pathAndQuery and decodes the JSON body into out.
// The token scope names the exact request, query string included.
func (c *Client) get(ctx context.Context, pathAndQuery string, out any) error {
	token, err := c.signer.Token(http.MethodGet + " " + pathAndQuery)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("app store connect returned status %d: %s", resp.StatusCode, apiErrorDetail(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiErrorDetail pulls the first error detail out of an App Store Connect error document.
func apiErrorDetail(body []byte) string {
	if detail, err := jsonparser.GetString(body, "errors", "[0]", "detail"); err == nil && detail != "" {
		return detail
	}
	if title, err := jsonparser.GetString(body, "errors", "[0]", "title"); err == nil && title != "" {
		return title
	}
	if len(body) > 200 {
		return string(body[:200]) + "..."
	}
	return string(body)
}

// IconURL fills the {w}, {h} and {f} placeholders of an icon template URL.
func IconURL(template string) string {
	if template == "" {
		return ""
	}
	return strings.NewReplacer("{w}", iconSize, "{h}", iconSize, "{f}", iconFormat).Replace(template)
}
