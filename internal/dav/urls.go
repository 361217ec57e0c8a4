package dav

import (
	"net/url"
	"strings"
)

// JoinURL resolves an href against a base URL. Absolute hrefs are returned
// as-is; path-absolute hrefs replace the base path; relative hrefs are
// appended to the base path. Servers are inconsistent about which form they
// return, so callers must not assume one.
func JoinURL(base, href string) string {
	if href == "" {
		return base
	}
	if strings.Contains(href, "://") {
		return href
	}

	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(href, "/")
	}

	if strings.HasPrefix(href, "/") {
		u.Path = href
		u.RawQuery = ""
		return u.String()
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + href
	u.RawQuery = ""
	return u.String()
}

// PathOnly strips the scheme and host from an absolute URL, returning the
// path component. Path-form inputs are returned unchanged.
func PathOnly(raw string) string {
	if !strings.Contains(raw, "://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// Basename returns the final path segment of an URL or href.
func Basename(raw string) string {
	p := strings.TrimSuffix(PathOnly(raw), "/")
	if idx := strings.LastIndex(p, "/"); idx != -1 {
		return p[idx+1:]
	}
	return p
}

// UnescapePath URL-decodes an href so stored paths are not double-encoded
// when used in later requests. Invalid escapes leave the input unchanged.
func UnescapePath(href string) string {
	decoded, err := url.PathUnescape(href)
	if err != nil {
		return href
	}
	return decoded
}
