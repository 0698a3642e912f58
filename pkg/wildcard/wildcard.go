// Package wildcard compiles simple `*` / `?` patterns into case-insensitive,
// fully anchored base-name matchers.
package wildcard

import (
	"regexp"
	"strings"
)

// Matcher matches file base names against a compiled wildcard pattern.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// Compile translates pattern into a Matcher. `*` matches any run of
// characters (including none), `?` matches exactly one character, and every
// other character is literal. Compile never fails: all regexp
// metacharacters are quoted.
func Compile(pattern string) *Matcher {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return &Matcher{
		pattern: pattern,
		re:      regexp.MustCompile(b.String()),
	}
}

// Match reports whether name, a base name, matches the pattern in full.
func (m *Matcher) Match(name string) bool {
	return m.re.MatchString(name)
}

// String returns the source pattern.
func (m *Matcher) String() string {
	return m.pattern
}
