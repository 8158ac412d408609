package docmodel

import (
	"regexp"
	"strings"
)

var docURLPattern = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)

// ParseRef extracts a document id from a Google Docs URL, or returns the
// trimmed input when it already is an id.
func ParseRef(urlOrID string) string {
	trimmed := strings.TrimSpace(urlOrID)
	if match := docURLPattern.FindStringSubmatch(trimmed); match != nil {
		return match[1]
	}
	return trimmed
}
