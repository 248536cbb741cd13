package cache

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCacheMiss indicates the requested key was not found or has expired
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidPattern indicates an invalidation pattern failed to compile
	ErrInvalidPattern = errors.New("invalid invalidation pattern")
)

// Config holds the store configuration.
type Config struct {
	// DefaultTTL is applied when Set is called with ttl == 0.
	DefaultTTL time.Duration

	// MaxSize is the capacity of the store in approximate bytes.
	MaxSize int

	// MaxEntrySize is the largest single payload the store accepts.
	// Oversized payloads are silently skipped, not errored.
	MaxEntrySize int

	// EvictTarget is the fraction of MaxSize the store shrinks to when
	// capacity eviction runs. Evicting below capacity avoids re-evicting
	// on every subsequent insert.
	EvictTarget float64
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:   5 * time.Minute,
		MaxSize:      10 << 20, // 10 MiB
		MaxEntrySize: 1 << 20,  // 1 MiB
		EvictTarget:  0.8,
	}
}

// Stats is a point-in-time snapshot of store counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Entries     int
	CurrentSize int
}

// Store is an in-process TTL cache with LRU-by-size eviction and regex
// pattern invalidation. All methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	config  Config
	entries map[string]*Entry
	size    int

	hits      int64
	misses    int64
	evictions int64

	logger zerolog.Logger
}

// NewStore creates a new store with the given configuration. Zero config
// fields fall back to the defaults.
func NewStore(config Config) *Store {
	defaults := DefaultConfig()
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = defaults.DefaultTTL
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaults.MaxSize
	}
	if config.MaxEntrySize <= 0 {
		config.MaxEntrySize = defaults.MaxEntrySize
	}
	if config.EvictTarget <= 0 || config.EvictTarget > 1 {
		config.EvictTarget = defaults.EvictTarget
	}

	return &Store{
		config:  config,
		entries: make(map[string]*Entry),
		logger:  log.With().Str("component", "cache").Logger(),
	}
}

// Get retrieves the payload cached under key.
// Returns ErrCacheMiss when no entry exists or the entry has expired;
// expired entries are purged immediately (lazy expiry).
// The returned slice is a copy; mutating it cannot corrupt the store.
func (s *Store) Get(key Key) (*Entry, error) {
	cacheKey := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[cacheKey]
	if !ok {
		s.misses++
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	if entry.IsExpired() {
		s.removeLocked(cacheKey, entry)
		s.evictions++
		CacheEvictions.WithLabelValues("expired").Inc()
		s.misses++
		CacheMisses.Inc()

		s.logger.Debug().
			Str("key", cacheKey).
			Msg("Purged expired entry on read")

		return nil, ErrCacheMiss
	}

	entry.LastAccessed = time.Now()
	entry.AccessCount++
	s.hits++
	CacheHits.Inc()

	// Copy-out so callers never alias the stored buffer
	snapshot := *entry
	snapshot.Data = append([]byte(nil), entry.Data...)

	return &snapshot, nil
}

// Set stores a copy of data under key with the given TTL.
// A ttl of 0 applies the configured default; any negative ttl
// (canonically NoExpiry) stores the entry without expiry. Payloads
// larger than MaxEntrySize are skipped without error. Any existing
// entry for the key is replaced, then capacity eviction runs if the
// store grew past MaxSize.
func (s *Store) Set(key Key, data []byte, ttl time.Duration) error {
	if len(data) > s.config.MaxEntrySize {
		s.logger.Debug().
			Str("key", key.String()).
			Int("size", len(data)).
			Int("max_entry_size", s.config.MaxEntrySize).
			Msg("Payload exceeds max entry size - not cached")
		return nil
	}

	now := time.Now()
	entry := &Entry{
		Data:         append([]byte(nil), data...),
		CreatedAt:    now,
		LastAccessed: now,
		Size:         len(data),
	}
	switch {
	case ttl < 0:
		// ExpiresAt stays zero: never expires
	case ttl == 0:
		entry.ExpiresAt = now.Add(s.config.DefaultTTL)
	default:
		entry.ExpiresAt = now.Add(ttl)
	}

	cacheKey := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[cacheKey]; ok {
		s.removeLocked(cacheKey, old)
	}

	s.entries[cacheKey] = entry
	s.size += entry.Size
	CacheSize.Set(float64(s.size))

	if s.size > s.config.MaxSize {
		s.evictLocked(cacheKey)
	}

	return nil
}

// Invalidate removes every entry whose key matches pattern and returns
// the number removed. The pattern is compiled once and tested against
// each stored key string.
func (s *Store) Invalidate(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for cacheKey, entry := range s.entries {
		if re.MatchString(cacheKey) {
			s.removeLocked(cacheKey, entry)
			removed++
		}
	}

	if removed > 0 {
		CacheInvalidations.Add(float64(removed))
		s.logger.Debug().
			Str("pattern", pattern).
			Int("removed", removed).
			Msg("Invalidated cache entries")
	}

	return removed, nil
}

// Clear removes all entries and returns the number removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.entries)
	s.entries = make(map[string]*Entry)
	s.size = 0
	CacheSize.Set(0)

	return removed
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Hits:        s.hits,
		Misses:      s.misses,
		Evictions:   s.evictions,
		Entries:     len(s.entries),
		CurrentSize: s.size,
	}
}

// evictLocked removes entries in ascending LastAccessed order until the
// store size falls to EvictTarget * MaxSize. The keep key is never
// evicted, so the entry whose insertion triggered eviction survives even
// when it alone exceeds the target. Must be called with s.mu held.
func (s *Store) evictLocked(keep string) {
	target := int(float64(s.config.MaxSize) * s.config.EvictTarget)

	type candidate struct {
		key   string
		entry *Entry
	}
	candidates := make([]candidate, 0, len(s.entries))
	for cacheKey, entry := range s.entries {
		candidates = append(candidates, candidate{cacheKey, entry})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].entry.LastAccessed.Before(candidates[j].entry.LastAccessed)
	})

	evicted := 0
	for _, c := range candidates {
		if s.size <= target {
			break
		}
		if c.key == keep {
			continue
		}
		s.removeLocked(c.key, c.entry)
		s.evictions++
		evicted++
		CacheEvictions.WithLabelValues("capacity").Inc()
	}

	s.logger.Debug().
		Int("evicted", evicted).
		Int("size", s.size).
		Int("target", target).
		Msg("Capacity eviction complete")
}

// removeLocked deletes an entry and updates size accounting.
// Must be called with s.mu held.
func (s *Store) removeLocked(cacheKey string, entry *Entry) {
	delete(s.entries, cacheKey)
	s.size -= entry.Size
	CacheSize.Set(float64(s.size))
}
