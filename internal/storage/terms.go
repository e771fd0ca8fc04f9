// Package storage holds behaviour shared by the identity store backends.
package storage

import (
	"strings"
)

// Term is one whitespace separated element of a free-text user query.
//
// A term wrapped in double quotes matches a field exactly (case-insensitive).
// Any other term is a case-insensitive substring match where '*' matches any
// run of characters.
type Term struct {
	Exact bool
	// Value is lowercased. For non-exact terms it still contains '*'.
	Value string
}

// ParseTerms splits a free-text query into terms. An empty query yields no
// terms, which matches every user.
func ParseTerms(query string) []Term {
	fields := strings.Fields(query)
	terms := make([]Term, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 && f[0] == '"' && f[len(f)-1] == '"' {
			terms = append(terms, Term{Exact: true, Value: strings.ToLower(f[1 : len(f)-1])})
			continue
		}
		terms = append(terms, Term{Value: strings.ToLower(f)})
	}
	return terms
}

// Match reports whether s satisfies the term.
func (t Term) Match(s string) bool {
	s = strings.ToLower(s)
	if t.Exact {
		return s == t.Value
	}
	pos := 0
	for _, part := range strings.Split(t.Value, "*") {
		i := strings.Index(s[pos:], part)
		if i < 0 {
			return false
		}
		pos += i + len(part)
	}
	return true
}

// Pattern returns the SQL LIKE pattern for a non-exact term, escaping LIKE
// metacharacters with '\'.
func (t Term) Pattern() string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `%`)
	return "%" + r.Replace(t.Value) + "%"
}

// MatchAny reports whether any of fields satisfies t.
func (t Term) MatchAny(fields ...string) bool {
	for _, f := range fields {
		if t.Match(f) {
			return true
		}
	}
	return false
}
