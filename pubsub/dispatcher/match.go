package dispatcher

import "strings"

// normalizeChannel splits a channel/resource URI-like string into a flat
// segment list (scheme and host included), for segment-wise pattern
// matching (spec §4.5 step 2).
func normalizeChannel(s string) []string {
	s = strings.Replace(s, "://", "/", 1)
	s = strings.Trim(s, "/")
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

// matchPattern reports whether actual matches pattern, segment by
// segment: `*` always matches exactly one segment (spec §8 "channel:///foo/*
// matches .../foo/bar and .../foo/baz but not .../foo/bar/qux"); a
// literal trailing `**` segment matches the remainder of actual
// regardless of length — the "one trailing `**` equivalent matching any
// tail" rule (spec §4.5 step 2). The two spellings are kept distinct so
// a plain `*` never silently swallows extra segments: only
// UpstreamChannel (an internal listener pattern, never a user-supplied
// subscription channel) uses the `**` form.
func matchPattern(pattern, actual string) bool {
	return matchSegments(normalizeChannel(pattern), normalizeChannel(actual))
}

func matchSegments(pattern, actual []string) bool {
	for i, p := range pattern {
		if p == "**" && i == len(pattern)-1 {
			return true
		}
		if i >= len(actual) {
			return false
		}
		if p != "*" && p != actual[i] {
			return false
		}
	}
	return len(pattern) == len(actual)
}

// isDescendantOrEqual reports whether recipient equals base, or extends
// it with additional path segments (spec §4.5 step 2 "equal to or a
// descendant of an entry in S.recipients").
func isDescendantOrEqual(base, recipient string) bool {
	baseSegs := normalizeChannel(base)
	recipSegs := normalizeChannel(recipient)
	if len(recipSegs) < len(baseSegs) {
		return false
	}
	for i, s := range baseSegs {
		if recipSegs[i] != s {
			return false
		}
	}
	return true
}
