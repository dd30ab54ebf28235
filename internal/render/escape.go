package render

import "strings"

// htmlEscaper replaces the five markup characters. The ampersand comes first:
// the replacer makes a single left-to-right pass, so entities it introduces
// are never escaped again within the same call.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// Escape escapes s for interpolation into element content or a quoted
// attribute. Escaping an already escaped string escapes its ampersands again.
func Escape(s string) string {
	return htmlEscaper.Replace(s)
}

// StatusClass derives the status badge modifier from a display status.
func StatusClass(status string) string {
	if status == "" {
		return "unknown"
	}
	return strings.ToLower(status)
}
