package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key represents a unique identifier for a cached response.
type Key struct {
	// Endpoint is the upstream endpoint path (e.g., "/v1/repos/123/items")
	Endpoint string

	// Params are the normalized request parameters
	Params url.Values
}

// String generates a deterministic cache key string.
// Format: endpoint:param1=val1:param2=val2
//
// Parameters are sorted by name so that logically identical requests
// always map to the same key.
//
// Example:
//
//	repos/123/items:page=1:state=open
func (k Key) String() string {
	parts := make([]string, 0, 1+len(k.Params))

	// Normalize endpoint path
	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Add params (sorted for determinism)
	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params.Get(name)))
		}
	}

	return strings.Join(parts, ":")
}
