package util

import (
	"path"
	"strings"
)

// BuildObjectKey joins a remote prefix and key parts into a normalized
// slash-separated object key.
func BuildObjectKey(prefix string, parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if p := strings.Trim(prefix, "/"); p != "" {
		all = append(all, p)
	}
	for _, part := range parts {
		if part = strings.Trim(part, "/"); part != "" {
			all = append(all, part)
		}
	}
	return path.Join(all...)
}

// BuildPrefix is BuildObjectKey with a trailing slash, for listing.
func BuildPrefix(prefix string, parts ...string) string {
	key := BuildObjectKey(prefix, parts...)
	if key == "" {
		return ""
	}
	return key + "/"
}
