package cache

import (
	"time"
)

// NoExpiry can be passed as TTL to store an entry that never expires.
const NoExpiry time.Duration = -1

// Entry represents one cached response.
type Entry struct {
	// Data is the response payload. The store holds its own copy.
	Data []byte

	// CreatedAt is when the entry was stored.
	CreatedAt time.Time

	// ExpiresAt is when the entry becomes stale. The zero value means the
	// entry never expires.
	ExpiresAt time.Time

	// LastAccessed is updated on every hit and drives LRU eviction.
	LastAccessed time.Time

	// AccessCount is the number of hits served from this entry.
	AccessCount int64

	// Size is the approximate byte footprint used for capacity accounting.
	Size int
}

// IsExpired returns true if the entry has expired. Entries stored with
// NoExpiry never expire.
func (e *Entry) IsExpired() bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(e.ExpiresAt)
}

// TTL returns the time until expiration.
// Returns 0 if already expired and NoExpiry for entries without expiry.
func (e *Entry) TTL() time.Duration {
	if e.ExpiresAt.IsZero() {
		return NoExpiry
	}
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
