// Package matcher resolves free-text assignee strings to competitors from a
// configured registry.
//
// Matching is greedy: the first registry entry whose normalized name or alias
// is contained in the normalized input wins. Containment is plain substring
// containment unless the entry sets whole_word. There is no scoring. Registry
// order is the only tie-breaker.
package matcher

import (
	"strings"

	"go.uber.org/zap"
)

// pattern is one normalized name or alias. padded is set only for
// whole-word patterns.
type pattern struct {
	competitor int
	text       string
	padded     string
}

func (p pattern) in(normalized, padded string) bool {
	if p.padded != "" {
		return strings.Contains(padded, p.padded)
	}
	return strings.Contains(normalized, p.text)
}

// Matcher holds precompiled patterns for a registry. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	reg      *Registry
	patterns []pattern
}

// New compiles a matcher for reg. Aliases that normalize to nothing are
// dropped with a warning.
func New(reg *Registry) *Matcher {
	m := &Matcher{reg: reg}
	for i, c := range reg.Competitors {
		variants := append([]string{c.Name}, c.Aliases...)
		seen := make(map[string]bool, len(variants))
		for _, v := range variants {
			n := Normalize(v)
			if n == "" {
				zap.L().Warn("registry alias normalizes to empty string, skipping",
					zap.String("competitor", c.Name),
					zap.String("alias", v),
				)
				continue
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			p := pattern{competitor: i, text: n}
			if c.WholeWord {
				p.padded = " " + n + " "
			}
			m.patterns = append(m.patterns, p)
		}
	}
	return m
}

// Match returns the first competitor whose name or alias occurs in text.
// A miss is an ordinary outcome, not an error.
func (m *Matcher) Match(text string) (Competitor, bool) {
	_, c, ok := m.match(text)
	return c, ok
}

// MatchAlias is Match plus the normalized alias that fired.
func (m *Matcher) MatchAlias(text string) (Competitor, string, bool) {
	alias, c, ok := m.match(text)
	return c, alias, ok
}

func (m *Matcher) match(text string) (string, Competitor, bool) {
	n := Normalize(text)
	if n == "" {
		return "", Competitor{}, false
	}
	padded := " " + n + " "
	for _, p := range m.patterns {
		if p.in(n, padded) {
			return p.text, m.reg.Competitors[p.competitor], true
		}
	}
	return "", Competitor{}, false
}

// MatchFirst tries each candidate in order and returns the first that
// matches along with the candidate string itself.
func (m *Matcher) MatchFirst(candidates []string) (Competitor, string, bool) {
	for _, s := range candidates {
		if c, ok := m.Match(s); ok {
			return c, s, true
		}
	}
	return Competitor{}, "", false
}
