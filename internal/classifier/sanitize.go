package classifier

import (
	"regexp"
	"strings"
)

var (
	htmlTagRE    = regexp.MustCompile(`<[^>]*>`)
	controlRE    = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// Sanitize strips markup and control characters from user text and collapses
// whitespace. The sanitized form is what the external planner receives; the
// original message is never modified.
func Sanitize(text string) string {
	out := htmlTagRE.ReplaceAllString(text, "")
	out = controlRE.ReplaceAllString(out, "")
	out = whitespaceRE.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
