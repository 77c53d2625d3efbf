package registry

import "strings"

// NormalizePath converts a route pattern to its stable template form:
// ":id" and "{id:[0-9]+}" parameter segments both become "{id}". Discovery
// and storage must use identical keys, so all pattern dialects collapse to
// the brace form.
func NormalizePath(pattern string) string {
	if pattern == "" {
		return "/"
	}
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		switch {
		case seg == "*":
			segments[i] = "{wildcard}"
		case strings.HasPrefix(seg, ":"):
			segments[i] = "{" + seg[1:] + "}"
		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
			name := seg[1 : len(seg)-1]
			if idx := strings.Index(name, ":"); idx >= 0 {
				name = name[:idx]
			}
			segments[i] = "{" + name + "}"
		}
	}
	normalized := strings.Join(segments, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if len(normalized) > 1 {
		normalized = strings.TrimRight(normalized, "/")
	}
	return normalized
}
