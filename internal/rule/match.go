package rule

import (
	"fmt"
	"regexp"
	"strings"
)

// StringMatch is an optional string constraint: a literal or a pattern.
// The zero value is unset and matches anything.
type StringMatch struct {
	literal string
	pattern *regexp.Regexp
	set     bool
}

// Literal returns a StringMatch requiring equality with s.
func Literal(s string) StringMatch {
	return StringMatch{literal: s, set: true}
}

// Pattern returns a StringMatch that searches for re anywhere in the value.
func Pattern(re *regexp.Regexp) StringMatch {
	return StringMatch{pattern: re, set: true}
}

// IsSet reports whether the constraint is configured.
func (m StringMatch) IsSet() bool { return m.set }

// match reports whether s satisfies the constraint using eq for literals.
func (m StringMatch) match(s string, eq func(value, literal string) bool) bool {
	if !m.set {
		return true
	}
	if m.pattern != nil {
		return m.pattern.MatchString(s)
	}
	return eq(s, m.literal)
}

// Equal matches literals by exact, case-sensitive equality.
func (m StringMatch) Equal(s string) bool {
	return m.match(s, func(value, literal string) bool { return value == literal })
}

// Prefix matches literals as a prefix of s.
func (m StringMatch) Prefix(s string) bool {
	return m.match(s, strings.HasPrefix)
}

func (m StringMatch) String() string {
	switch {
	case !m.set:
		return "*"
	case m.pattern != nil:
		return "/" + m.pattern.String() + "/"
	default:
		return m.literal
	}
}

// IntMatch is an optional integer constraint: an exact value or an inclusive
// range. The zero value is unset and matches anything.
type IntMatch struct {
	low, high int
	set       bool
}

// Exact returns an IntMatch requiring equality with n.
func Exact(n int) IntMatch {
	return IntMatch{low: n, high: n, set: true}
}

// Range returns an IntMatch accepting low..high inclusive.
func Range(low, high int) (IntMatch, error) {
	if low > high {
		return IntMatch{}, fmt.Errorf("range %d..%d is inverted", low, high)
	}
	return IntMatch{low: low, high: high, set: true}, nil
}

// IsSet reports whether the constraint is configured.
func (m IntMatch) IsSet() bool { return m.set }

// Contains reports whether n satisfies the constraint.
func (m IntMatch) Contains(n int) bool {
	if !m.set {
		return true
	}
	return n >= m.low && n <= m.high
}

func (m IntMatch) String() string {
	switch {
	case !m.set:
		return "*"
	case m.low == m.high:
		return fmt.Sprintf("%d", m.low)
	default:
		return fmt.Sprintf("%d..%d", m.low, m.high)
	}
}
