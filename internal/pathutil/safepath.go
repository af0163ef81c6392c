// Package pathutil has small URL path predicates used by the request
// handling chain.
package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
// URL parsing decodes percent-encoded dots, so checking the parsed path
// covers encoded traversal attempts too. Runs on the hot path, so it
// scans segments in place rather than splitting.
func HasDotSegments(p string) bool {
	for len(p) > 0 {
		var seg string
		if i := strings.IndexByte(p, '/'); i >= 0 {
			seg, p = p[:i], p[i+1:]
		} else {
			seg, p = p, ""
		}
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}
