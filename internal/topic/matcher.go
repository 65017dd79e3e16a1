// Package topic implements dotted-segment topic matching with the two
// wildcard tokens the broker understands: "*" (exactly one segment) and
// "**" (zero or more consecutive segments).
package topic

import "strings"

const (
	singleWildcard = "*"
	multiWildcard  = "**"
)

// Split breaks a topic or pattern into its dot-separated segments. An
// empty string splits into zero segments, matching spec.md's "empty
// topic equals the empty pattern" rule.
func Split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

// Matches reports whether the concrete topic matches pattern. Both are
// split on "." first; matching proceeds segment by segment with
// backtracking on "**" so that more than one "**" in a pattern is
// well-defined (each "**" first matches zero segments and absorbs one
// more segment on every backtrack).
func Matches(topicStr, pattern string) bool {
	if topicStr == "" {
		// Spec carve-out: the empty topic also matches the bare "*"
		// pattern, even though "*" otherwise requires exactly one segment.
		return pattern == "" || pattern == singleWildcard || pattern == multiWildcard
	}
	return matchSegments(Split(topicStr), Split(pattern))
}

// matchSegments is a classic two-pointer matcher with backtracking for
// "**", equivalent to shell globstar matching with "." as separator.
func matchSegments(topic, pattern []string) bool {
	var ti, pi int
	// starTi/starPi remember the most recent "**" in pattern and how far
	// into topic we'd consumed when we found it, so on a later mismatch
	// we can backtrack and let "**" eat one more segment.
	starPi, starTi := -1, -1

	for ti < len(topic) {
		switch {
		case pi < len(pattern) && pattern[pi] == multiWildcard:
			starPi, starTi = pi, ti
			pi++
		case pi < len(pattern) && (pattern[pi] == singleWildcard || pattern[pi] == topic[ti]):
			ti++
			pi++
		case starPi >= 0:
			// Backtrack: let the last "**" absorb one more segment.
			pi = starPi + 1
			starTi++
			ti = starTi
		default:
			return false
		}
	}

	// Consume any trailing "**" tokens; anything else left unmatched fails.
	for pi < len(pattern) && pattern[pi] == multiWildcard {
		pi++
	}

	return pi == len(pattern)
}
