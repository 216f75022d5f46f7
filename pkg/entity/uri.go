package entity

import (
	"strings"
)

// IsWellFormedURI reports whether a permission or resource URI is usable:
// either an absolute path or a full URI with a scheme separator.
func IsWellFormedURI(uri string) bool {
	if uri == "" {
		return false
	}
	return strings.HasPrefix(uri, "/") || strings.Contains(uri, "://")
}

// MatchURI matches a concrete request URI against a permission pattern.
// Pattern segments may be literals, "{param}" placeholders, or "*"
// wildcards; a trailing "*" matches any remaining segments.
func MatchURI(pattern, uri string) bool {
	if pattern == uri {
		return true
	}

	patSegs := splitURI(pattern)
	uriSegs := splitURI(uri)

	for i, seg := range patSegs {
		// Trailing wildcard swallows the rest of the path
		if seg == "*" && i == len(patSegs)-1 {
			return true
		}
		if i >= len(uriSegs) {
			return false
		}
		if seg == "*" || isParamSegment(seg) {
			continue
		}
		if seg != uriSegs[i] {
			return false
		}
	}
	return len(patSegs) == len(uriSegs)
}

func splitURI(uri string) []string {
	// Strip the scheme and authority for absolute URIs so patterns and
	// request URIs compare by path.
	if idx := strings.Index(uri, "://"); idx >= 0 {
		rest := uri[idx+3:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			uri = rest[slash:]
		} else {
			uri = "/"
		}
	}
	trimmed := strings.Trim(uri, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func isParamSegment(seg string) bool {
	return len(seg) >= 2 && strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}
