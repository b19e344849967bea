package cache

import (
	"time"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

const (
	DefaultResultTTL = 30 * time.Minute
	DefaultMemoryTTL = 24 * time.Hour
)

// ResultCache short-circuits repeat questions. Results are cloned on the way
// in and out so callers cannot mutate a stored entry.
type ResultCache struct {
	entries *ttlMap[research.Result]
}

func NewResultCache(ttl time.Duration, now func() time.Time) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultCache{entries: newTTLMap[research.Result](ttl, now)}
}

// Get returns a live result for query or a similar one, with the similarity
// score of the match (1 for an exact hit).
func (c *ResultCache) Get(query string) (research.Result, float64, bool) {
	result, score, ok := c.entries.lookup(NormalizeQuery(query))
	if !ok {
		return research.Result{}, 0, false
	}
	return result.Clone(), score, true
}

func (c *ResultCache) Put(query string, result research.Result) {
	stored := result.Clone()
	c.entries.upsert(NormalizeQuery(query), func(research.Result, bool) research.Result {
		return stored
	})
}

func (c *ResultCache) Len() int {
	return c.entries.len()
}

func (c *ResultCache) Clear() {
	c.entries.clear()
}

type MemoryEntry struct {
	Queries  []string             `json:"queries"`
	Patterns []research.QueryType `json:"patterns"`
}

// QueryMemory accumulates the sub-queries generated for a family of similar
// questions so later research can reuse them as hints.
type QueryMemory struct {
	entries *ttlMap[MemoryEntry]
}

func NewQueryMemory(ttl time.Duration, now func() time.Time) *QueryMemory {
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}
	return &QueryMemory{entries: newTTLMap[MemoryEntry](ttl, now)}
}

// Remember merges subQueries and pattern into the entry for query, keeping
// first-seen order and dropping duplicates.
func (m *QueryMemory) Remember(query string, subQueries []string, pattern research.QueryType) {
	m.entries.upsert(NormalizeQuery(query), func(previous MemoryEntry, found bool) MemoryEntry {
		merged := MemoryEntry{}
		if found {
			merged.Queries = append(merged.Queries, previous.Queries...)
			merged.Patterns = append(merged.Patterns, previous.Patterns...)
		}
		merged.Queries = appendUnique(merged.Queries, subQueries...)
		if pattern != "" {
			merged.Patterns = appendUniquePattern(merged.Patterns, pattern)
		}
		return merged
	})
}

// Hints returns up to limit remembered sub-queries from similar questions.
func (m *QueryMemory) Hints(query string, limit int) []string {
	hints := []string{}
	for _, entry := range m.entries.similar(NormalizeQuery(query)) {
		hints = appendUnique(hints, entry.Queries...)
	}
	if limit > 0 && len(hints) > limit {
		hints = hints[:limit]
	}
	return hints
}

// Lookup returns the exact or most similar live entry.
func (m *QueryMemory) Lookup(query string) (MemoryEntry, bool) {
	entry, _, ok := m.entries.lookup(NormalizeQuery(query))
	return entry, ok
}

func (m *QueryMemory) Len() int {
	return m.entries.len()
}

func (m *QueryMemory) Clear() {
	m.entries.clear()
}

func appendUnique(values []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		seen[NormalizeQuery(value)] = struct{}{}
	}
	for _, addition := range additions {
		key := NormalizeQuery(addition)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		values = append(values, addition)
	}
	return values
}

func appendUniquePattern(patterns []research.QueryType, pattern research.QueryType) []research.QueryType {
	for _, existing := range patterns {
		if existing == pattern {
			return patterns
		}
	}
	return append(patterns, pattern)
}
