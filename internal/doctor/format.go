package doctor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatHuman renders r for a terminal.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON renders r as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
