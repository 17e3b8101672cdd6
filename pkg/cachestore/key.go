package cachestore

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every cache key so a shared Redis instance can be
// flushed selectively.
const KeyPrefix = "seoshield:page:"

// Key generates a deterministic cache key for a fully-qualified URL.
// Query parameters are sorted, the fragment is dropped, and a trailing slash
// on the path is normalized away so "/about" and "/about/" share one entry.
//
// Example:
//
//	seoshield:page:https://example.com/products?color=red&size=m
func Key(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// An unparseable URL still needs a stable key.
		return KeyPrefix + rawURL
	}

	u.Fragment = ""

	path := u.Path
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		u.Path = strings.TrimRight(path, "/")
	}

	query := u.Query()
	if len(query) > 0 {
		names := make([]string, 0, len(query))
		for name := range query {
			names = append(names, name)
		}
		sort.Strings(names)

		parts := make([]string, 0, len(names))
		for _, name := range names {
			values := query[name]
			sort.Strings(values)
			for _, v := range values {
				parts = append(parts, fmt.Sprintf("%s=%s", url.QueryEscape(name), url.QueryEscape(v)))
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}

	return KeyPrefix + u.String()
}
