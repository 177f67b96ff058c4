// Package sanitize cleans user-supplied free text (reasons, notes, client
// names) before it is stored or copied into an audit payload. Uses a
// bluemonday strict policy: every tag is removed and only text survives.
package sanitize

import (
	"html"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// policy is the shared strict policy, built once on first use.
var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Text strips all markup from input, decodes the entities bluemonday leaves
// behind, drops control characters except newline and tab, and trims
// surrounding whitespace.
func Text(input string) string {
	if input == "" {
		return ""
	}
	clean := html.UnescapeString(getPolicy().Sanitize(input))
	clean = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, clean)
	return strings.TrimSpace(clean)
}
