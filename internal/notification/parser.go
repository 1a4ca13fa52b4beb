// Package notification turns App Store Connect webhook payloads into
// human-readable card text.
//
// Payloads are read with best-effort lookups: missing fields fall back to
// defaults, and a payload of the wrong shape yields an error card rather than
// an error.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
)

// Defaults used when a field cannot be resolved.
const (
	UnknownApp      = "Unknown App"
	UnknownType     = "unknown"
	NotAvailable    = "N/A"
	ParseErrorTitle = "⚠️ Notification parse error"

	dashboardNotice = "Check App Store Connect for details."
)

// Message is the rendered text of one notification.
type Message struct {
	Kind  Kind
	Title string
	Body  string // lark_md
	Raw   string // pretty-printed input
}

// Parse renders raw for the given app name. An empty appName uses UnknownApp.
// Parse never fails: shape errors become a ParseErrorTitle message.
func Parse(raw []byte, appName string) Message {
	pretty := PrettyJSON(raw)

	msg, err := parse(raw, appName)
	if err != nil {
		return Message{
			Kind:  KindUnknown,
			Title: ParseErrorTitle,
			Body:  err.Error(),
			Raw:   pretty,
		}
	}
	msg.Raw = pretty
	return msg
}

func parse(raw []byte, appName string) (Message, error) {
	if appName == "" {
		appName = UnknownApp
	}

	data, err := object(raw, "data")
	if err != nil {
		return Message{}, err
	}
	attrs, err := object(data, "attributes")
	if err != nil {
		return Message{}, fmt.Errorf("data.%w", err)
	}

	typ, err := scalar(data, "type")
	if err != nil {
		return Message{}, fmt.Errorf("data.%w", err)
	}
	if typ == "" {
		typ = UnknownType
	}

	version, err := scalar(attrs, "versionString")
	if err != nil {
		return Message{}, fmt.Errorf("data.attributes.%w", err)
	}

	kind := KindOf(typ)
	var title string
	var lines []string

	switch kind {
	case KindVersionStateUpdated, KindAppVersionStateUpdated:
		oldKey, newKey := "oldState", "newState"
		if kind == KindAppVersionStateUpdated {
			oldKey, newKey = "oldValue", "newValue"
		}
		oldState, newState, err := statePair(attrs, oldKey, newKey)
		if err != nil {
			return Message{}, err
		}
		title = versionTitle(appName, version)
		lines = []string{
			"**Version state updated**",
			fmt.Sprintf("Old state: `%s`", oldState),
			fmt.Sprintf("New state: `%s`", newState),
		}

	case KindBuildStateUpdated:
		oldState, newState, err := statePair(attrs, "oldState", "newState")
		if err != nil {
			return Message{}, err
		}
		title = "🛠️ " + appName
		lines = []string{
			"**Build state updated**",
			fmt.Sprintf("Build: `%s`", version),
			fmt.Sprintf("Old state: `%s`", oldState),
			fmt.Sprintf("New state: `%s`", newState),
		}

	case KindFeedback:
		title = "💬 " + appName
		lines = []string{
			"**New TestFlight feedback received**",
			dashboardNotice,
		}

	default:
		title = versionTitle(appName, version)
		lines = []string{
			"**New notification received**",
			fmt.Sprintf("Type: `%s`", typ),
			dashboardNotice,
		}
	}

	return Message{
		Kind:  kind,
		Title: title,
		Body:  strings.Join(lines, "\n"),
	}, nil
}

func versionTitle(appName, version string) string {
	if version == "" {
		return "📱 " + appName
	}
	return fmt.Sprintf("📱 %s (%s)", appName, version)
}

func statePair(attrs []byte, oldKey, newKey string) (string, string, error) {
	oldState, err := scalar(attrs, oldKey)
	if err != nil {
		return "", "", fmt.Errorf("data.attributes.%w", err)
	}
	newState, err := scalar(attrs, newKey)
	if err != nil {
		return "", "", fmt.Errorf("data.attributes.%w", err)
	}
	if oldState == "" {
		oldState = NotAvailable
	}
	if newState == "" {
		newState = NotAvailable
	}
	return oldState, newState, nil
}

// object returns the object at key, or an empty object when key is absent or null.
func object(doc []byte, key string) ([]byte, error) {
	if len(doc) == 0 {
		return []byte("{}"), nil
	}
	value, dataType, _, err := jsonparser.Get(doc, key)
	switch dataType {
	case jsonparser.NotExist, jsonparser.Null:
		return []byte("{}"), nil
	case jsonparser.Object:
		return value, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return nil, fmt.Errorf("%s: expected object, got %s", key, dataType)
}

// scalar returns the value at key as text. Missing and null values are empty;
// numbers and booleans keep their JSON spelling; nested values are an error.
func scalar(doc []byte, key string) (string, error) {
	value, dataType, _, err := jsonparser.Get(doc, key)
	switch dataType {
	case jsonparser.NotExist, jsonparser.Null:
		return "", nil
	case jsonparser.String:
		s, perr := jsonparser.ParseString(value)
		if perr != nil {
			return "", fmt.Errorf("%s: %w", key, perr)
		}
		return s, nil
	case jsonparser.Number, jsonparser.Boolean:
		return string(value), nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return "", fmt.Errorf("%s: expected scalar, got %s", key, dataType)
}

// PrettyJSON indents raw with two spaces, preserving key order and non-ASCII text.
// Input that is not valid JSON is returned unchanged.
func PrettyJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Identify returns the app id from data.relationships.app.data.id. Only when
// that is absent does it return the instance (version) id.
func Identify(raw []byte) (appID, instanceID string) {
	appID, _ = jsonparser.GetString(raw, "data", "relationships", "app", "data", "id")
	if appID != "" {
		return appID, ""
	}
	instanceID, _ = jsonparser.GetString(raw, "data", "relationships", "instance", "data", "id")
	return "", instanceID
}
