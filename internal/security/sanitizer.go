// Package security holds the HTML sanitization policy applied to all
// user-generated text before it is stored.
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer strips markup from user-generated content. Posts and
// comments are plain text on the wire, so the strict policy applies.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean removes all HTML and trims surrounding whitespace.
func (s *Sanitizer) Clean(input string) string {
	return strings.TrimSpace(s.policy.Sanitize(input))
}
