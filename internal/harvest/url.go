package harvest

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// NormalizeURL standardizes a candidate URL for de-duplication. The scheme
// and host are lowercased, default ports removed, and the fragment dropped.
// The query string is removed only when stripQuery is set; the path is
// always preserved as-is.
func NormalizeURL(rawURL string, stripQuery bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	if stripQuery {
		u.RawQuery = ""
	}

	return u.String(), nil
}

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename collapses characters unsafe for filesystems to
// underscores.
func SanitizeFilename(name string) string {
	return invalidFilenameChars.ReplaceAllString(name, "_")
}

// FilenameFromURL derives a filesystem-safe filename from the final path
// segment of the URL. Unsafe characters collapse to underscores; an empty
// segment falls back to "document". When the URL carries a query string the
// query is folded in before the extension, so revisions that differ only by
// query land as distinct files.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return SanitizeFilename(rawURL)
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		base = "document"
	}
	decoded, err := url.PathUnescape(base)
	if err == nil {
		base = decoded
	}
	name := SanitizeFilename(base)
	if u.RawQuery == "" {
		return name
	}
	suffix := SanitizeFilename(u.RawQuery)
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + suffix + ext
}
