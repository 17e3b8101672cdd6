// Package cacherules implements the URL pattern matching and cache decision
// engine that decides, per request, whether a page should be rendered and
// whether the rendered snapshot may be cached.
//
// Patterns come in three flavors:
//
//   - Regex: wrapped in slashes, e.g. "/^/products/\d+$/"
//   - Wildcard: contains "*", e.g. "/admin/*"
//   - Literal: everything else, exact path equality
//
// Evaluation is first-match-wins in insertion order. NO_CACHE patterns have
// absolute priority over every other signal, including the HTML meta tag.
package cacherules

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternKind classifies how a pattern source string is matched.
type PatternKind string

const (
	// KindLiteral matches by exact string equality.
	KindLiteral PatternKind = "literal"

	// KindWildcard matches with "*" expanded to any character run.
	KindWildcard PatternKind = "wildcard"

	// KindRegex matches with a user-supplied regular expression.
	KindRegex PatternKind = "regex"
)

// Pattern is a compiled URL pattern. Immutable once compiled.
type Pattern struct {
	// Raw is the original pattern source, kept for summaries and logging.
	Raw string

	// Kind is the detected pattern flavor.
	Kind PatternKind

	// matchQuery is true when the pattern source references a query string,
	// in which case matching runs against path+query instead of path only.
	matchQuery bool

	re      *regexp.Regexp
	literal string
}

// CompilePattern compiles a single trimmed pattern source.
// Classification order: "/.../" regex, then "*" wildcard, then literal.
// An invalid regex source returns an error; callers drop the pattern.
func CompilePattern(raw string) (*Pattern, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	// Regex form: /.../ with at least one character between the slashes.
	// Classification is unconditional: "/blog/" is the regex "blog", not a
	// literal path that happens to end in a slash.
	if len(raw) > 2 && strings.HasPrefix(raw, "/") && strings.HasSuffix(raw, "/") {
		inner := raw[1 : len(raw)-1]
		re, err := regexp.Compile(inner)
		if err != nil {
			return nil, fmt.Errorf("compile regex pattern %q: %w", raw, err)
		}
		return &Pattern{Raw: raw, Kind: KindRegex, matchQuery: true, re: re}, nil
	}

	// Wildcard form: escape every regex metacharacter except "*", then expand
	// "*" to ".*" and anchor both ends so "/admin/*" does not match
	// "/administrator".
	if strings.Contains(raw, "*") {
		escaped := regexp.QuoteMeta(raw)
		expr := "^" + strings.ReplaceAll(escaped, `\*`, ".*") + "$"
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile wildcard pattern %q: %w", raw, err)
		}
		return &Pattern{
			Raw:  raw,
			Kind: KindWildcard,
			// A trailing "*" is allowed to swallow the query string, so
			// "/search*" covers "/search?q=shoes".
			matchQuery: strings.Contains(raw, "?") || strings.HasSuffix(raw, "*"),
			re:         re,
		}, nil
	}

	return &Pattern{
		Raw:        raw,
		Kind:       KindLiteral,
		matchQuery: strings.Contains(raw, "?"),
		literal:    raw,
	}, nil
}

// Match reports whether the pattern matches the given URL path. The path may
// carry a query string; patterns that do not reference a query are matched
// against the path component only.
func (p *Pattern) Match(path string) bool {
	target := path
	if !p.matchQuery {
		if i := strings.IndexByte(target, '?'); i >= 0 {
			target = target[:i]
		}
	}

	switch p.Kind {
	case KindLiteral:
		return target == p.literal
	case KindWildcard, KindRegex:
		return p.re.MatchString(target)
	default:
		return false
	}
}

// compilePatternList splits a comma-separated pattern source, trims each
// entry, drops empties, and compiles the rest. Invalid entries are reported
// through onDrop and skipped; compilation itself never fails.
func compilePatternList(csv string, onDrop func(raw string, err error)) []*Pattern {
	if strings.TrimSpace(csv) == "" {
		return nil
	}

	var patterns []*Pattern
	for _, entry := range strings.Split(csv, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		p, err := CompilePattern(entry)
		if err != nil {
			if onDrop != nil {
				onDrop(entry, err)
			}
			continue
		}
		patterns = append(patterns, p)
	}
	return patterns
}
