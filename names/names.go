// Package names normalizes player display names into the canonical form
// used as the registry key.
package names

import (
	"regexp"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MaxLen is the longest canonical name the registry accepts.
const MaxLen = 32

var (
	colorCodes = regexp.MustCompile(`\^\d`)
	groups     = []*regexp.Regexp{
		regexp.MustCompile(`\[.*?\]`),
		regexp.MustCompile(`\{.*?\}`),
		regexp.MustCompile(`\(.*?\)`),
		regexp.MustCompile(`<.*?>`),
	}
	strayBrackets = regexp.MustCompile(`[\[\]{}()<>]`)
	disallowed    = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// Canonical strips color codes, bracketed groups with their contents,
// and every character outside [A-Za-z0-9_-]. A name that consists only of
// bracketed groups ("[Bob]") keeps the text inside the brackets.
//
// The result only contains characters that none of the stripping steps
// touch, so Canonical(Canonical(x)) == Canonical(x).
func Canonical(raw string) string {
	name := colorCodes.ReplaceAllString(raw, "")
	withoutGroups := name
	for _, g := range groups {
		withoutGroups = g.ReplaceAllString(withoutGroups, "")
	}
	if out := clean(withoutGroups); out != "" {
		return out
	}
	return clean(name)
}

func clean(name string) string {
	name = strayBrackets.ReplaceAllString(name, "")
	name = disallowed.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

// Set is a set of canonical names.
type Set map[string]struct{}

// NewSet canonicalizes raw names, dropping those that end up empty.
func NewSet(raw ...string) Set {
	s := make(Set, len(raw))
	for _, r := range raw {
		s.Add(r)
	}
	return s
}

// Add canonicalizes raw and inserts it unless it is empty.
// It reports whether a non-empty name was inserted.
func (s Set) Add(raw string) bool {
	name := Canonical(raw)
	if name == "" {
		return false
	}
	s[name] = struct{}{}
	return true
}

func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the names in lexicographic order.
func (s Set) Sorted() []string {
	out := maps.Keys(s)
	slices.Sort(out)
	return out
}
