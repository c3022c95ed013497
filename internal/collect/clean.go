package collect

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanHTML strips markup from feed text and collapses whitespace.
func CleanHTML(s string) string {
	if s == "" {
		return ""
	}
	// Separate block elements so words across tags do not merge.
	s = strings.NewReplacer("<", " <", ">", "> ").Replace(s)
	s = html.UnescapeString(strictPolicy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}
