package memory

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText strips markup from user-supplied memory text before it is
// stored and later spliced into a system prompt. Entities are unescaped again
// so plain text such as "R&D" survives unchanged.
func SanitizeText(s string) string {
	cleaned := strictPolicy.Sanitize(s)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
