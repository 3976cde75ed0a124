package policy

import "strings"

// matchGlob reports whether name matches pattern, supporting "*" (any single
// path segment) and "**" (one or more trailing segments) over tool names
// and "skill:<id>" tokens, adapted from the teacher's toolset-federation
// include/exclude matcher. Segments are split on "/", so "a/*" matches
// "a/b" but not "a/b/c", while "a/**" matches both but not "a" itself.
func matchGlob(pattern, name string) bool {
	if pattern == "**" {
		return true
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		seg := pattern[0]
		if seg == "**" {
			// "**" must be the final pattern segment in this matcher; it
			// consumes every remaining name segment, of which there must be
			// at least one.
			return len(pattern) == 1 && len(name) > 0
		}
		if len(name) == 0 {
			return false
		}
		if !matchSegment(seg, name[0]) {
			return false
		}
		pattern, name = pattern[1:], name[1:]
	}
	return len(name) == 0
}

func matchSegment(pattern, segment string) bool {
	if pattern == segment {
		return true
	}
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return false
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return strings.HasPrefix(segment, prefix) && strings.HasSuffix(segment, suffix) &&
		len(segment) >= len(prefix)+len(suffix)
}

// matchAny reports whether name or skillToken matches any pattern in
// patterns, checking both the bare tool name and the "skill:<id>" form.
func matchAny(patterns []string, name, skillToken string) bool {
	for _, p := range patterns {
		if matchGlob(p, name) {
			return true
		}
		if skillToken != "" && matchGlob(p, skillToken) {
			return true
		}
	}
	return false
}
