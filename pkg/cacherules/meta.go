package cacherules

import (
	"regexp"
	"strings"
)

// metaTagMatcher locates the configured cache-control meta tag inside
// rendered HTML. Compiled once per rule set generation.
type metaTagMatcher struct {
	re *regexp.Regexp
}

// newMetaTagMatcher builds a matcher for a tag of the form
//
//	<meta name="<tagName>" content="<value>">
//
// Tag and attribute casing and spacing are ignored, self-closing tags are
// accepted, and the name attribute is assumed to precede content. The name
// must terminate right after tagName (closing quote, or whitespace for
// unquoted values) so a tag whose name merely starts with tagName does not
// match.
func newMetaTagMatcher(tagName string) *metaTagMatcher {
	quoted := regexp.QuoteMeta(tagName)
	expr := `(?is)<meta\s[^>]*?name\s*=\s*(?:"` + quoted + `"|'` + quoted + `'|` + quoted + `[\s/])` +
		`[^>]*?content\s*=\s*["']?([^"'>\s]*)`
	return &metaTagMatcher{re: regexp.MustCompile(expr)}
}

// allowsCache scans the HTML for the first occurrence of the meta tag and
// compares its content attribute case-insensitively to "false". Anything
// else, including a missing or malformed tag, permits caching.
func (m *metaTagMatcher) allowsCache(html string) bool {
	if html == "" {
		return true
	}
	match := m.re.FindStringSubmatch(html)
	if match == nil {
		return true
	}
	return !strings.EqualFold(match[1], "false")
}
