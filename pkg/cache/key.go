package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces all cache keys in Redis.
const KeyPrefix = "ctgov"

// Key identifies one cached registry query.
type Key struct {
	// Endpoint is the request path (e.g., "/api/query/full_studies")
	Endpoint string

	// Query holds the request query parameters
	Query url.Values
}

// String generates a deterministic cache key string.
// Format: ctgov:endpoint:param1=val1:param2=val2a,val2b
//
// Example:
//
//	ctgov:api/query/full_studies:expr=AREA[NCTIdSearch](NCT01):fmt=json
func (k Key) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(k.Query[name], ",")))
		}
	}

	return strings.Join(parts, ":")
}

// KeyFromURL builds a Key from a request URL.
func KeyFromURL(u *url.URL) Key {
	return Key{
		Endpoint: u.Path,
		Query:    u.Query(),
	}
}
