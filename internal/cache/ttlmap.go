package cache

import (
	"sort"
	"sync"
	"time"
)

type timed[V any] struct {
	value    V
	storedAt time.Time
}

type keyed[V any] struct {
	key   string
	entry timed[V]
}

// ttlMap is the shared store behind the result cache and query memory. Keys
// are normalized queries. Expired entries are invisible to reads and removed
// on every write.
type ttlMap[V any] struct {
	mu      sync.Mutex
	entries map[string]timed[V]
	ttl     time.Duration
	now     func() time.Time
}

func newTTLMap[V any](ttl time.Duration, now func() time.Time) *ttlMap[V] {
	if now == nil {
		now = time.Now
	}
	return &ttlMap[V]{entries: map[string]timed[V]{}, ttl: ttl, now: now}
}

// upsert prunes expired entries, then stores update(previous) under key.
func (m *ttlMap[V]) upsert(key string, update func(previous V, found bool) V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for existing, entry := range m.entries {
		if m.expired(entry, now) {
			delete(m.entries, existing)
		}
	}
	previous, found := m.entries[key]
	m.entries[key] = timed[V]{value: update(previous.value, found), storedAt: now}
}

// lookup returns the exact live entry for key, or else the live entry whose key
// is most similar to it above SimilarityThreshold. Ties go to the newest entry.
func (m *ttlMap[V]) lookup(key string) (V, float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if entry, ok := m.entries[key]; ok && !m.expired(entry, now) {
		return entry.value, 1, true
	}
	var best timed[V]
	bestScore := 0.0
	found := false
	for candidate, entry := range m.entries {
		if m.expired(entry, now) {
			continue
		}
		score := Jaccard(key, candidate)
		if score <= SimilarityThreshold {
			continue
		}
		if !found || score > bestScore || (score == bestScore && entry.storedAt.After(best.storedAt)) {
			best, bestScore, found = entry, score, true
		}
	}
	return best.value, bestScore, found
}

// similar returns every live entry whose key is above the threshold, the
// exact match included, newest first.
func (m *ttlMap[V]) similar(key string) []V {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	matches := []keyed[V]{}
	for candidate, entry := range m.entries {
		if m.expired(entry, now) {
			continue
		}
		if candidate == key || Jaccard(key, candidate) > SimilarityThreshold {
			matches = append(matches, keyed[V]{key: candidate, entry: entry})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].entry.storedAt.Equal(matches[j].entry.storedAt) {
			return matches[i].entry.storedAt.After(matches[j].entry.storedAt)
		}
		return matches[i].key < matches[j].key
	})
	values := make([]V, 0, len(matches))
	for _, match := range matches {
		values = append(values, match.entry.value)
	}
	return values
}

func (m *ttlMap[V]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *ttlMap[V]) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string]timed[V]{}
}

func (m *ttlMap[V]) expired(entry timed[V], now time.Time) bool {
	return m.ttl > 0 && now.Sub(entry.storedAt) > m.ttl
}
