package util

import (
	"html"
	"strings"
)

// SanitizeInput trims whitespace and escapes HTML/script-like characters.
// Feedback fields are stored verbatim otherwise, so this is the only place
// client-supplied free text gets cleaned up before persistence.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}
