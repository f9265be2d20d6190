package policy

import "strings"

// MatchURIGlob reports whether uri matches pattern, where "*" matches any
// run of characters within a single path segment and "**" matches across
// segment boundaries (including zero segments). The match is always
// whole-string, never a prefix match.
func MatchURIGlob(pattern, uri string) bool {
	return matchSegments(splitPattern(pattern), strings.Split(uri, "/"))
}

// splitPattern tokenizes a glob pattern on "/". A "**" is treated as the
// cross-segment wildcard only when it makes up a whole segment.
func splitPattern(pattern string) []string {
	return strings.Split(pattern, "/")
}

func matchSegments(pat, uri []string) bool {
	if len(pat) == 0 {
		return len(uri) == 0
	}
	head := pat[0]
	if head == "**" {
		if len(pat) == 1 {
			return true
		}
		for i := 0; i <= len(uri); i++ {
			if matchSegments(pat[1:], uri[i:]) {
				return true
			}
		}
		return false
	}
	if len(uri) == 0 {
		return false
	}
	if !matchSegment(head, uri[0]) {
		return false
	}
	return matchSegments(pat[1:], uri[1:])
}

// matchSegment matches a single path segment against a pattern segment
// where "*" stands for any run of characters not containing "/".
func matchSegment(pat, seg string) bool {
	return matchSegmentRunes([]rune(pat), []rune(seg))
}

func matchSegmentRunes(pat, seg []rune) bool {
	if len(pat) == 0 {
		return len(seg) == 0
	}
	if pat[0] == '*' {
		for i := 0; i <= len(seg); i++ {
			if matchSegmentRunes(pat[1:], seg[i:]) {
				return true
			}
		}
		return false
	}
	if len(seg) == 0 || pat[0] != seg[0] {
		return false
	}
	return matchSegmentRunes(pat[1:], seg[1:])
}
