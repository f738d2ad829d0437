package cache

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey folds case, surrounding whitespace and Unicode composition so
// that differently typed forms of the same key collide.
func NormalizeKey(key string) string {
	parts := strings.Split(key, ":")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(norm.NFC.String(p)))
	}
	return strings.Join(parts, ":")
}

// TrackKey is the key of a resolved document for a track.
func TrackKey(artist, title string) string {
	return NormalizeKey(artist + ":" + title)
}

// QueryKey is the key of a source specific query result.
func QueryKey(source, query string) string {
	return NormalizeKey(source + ":" + query)
}
