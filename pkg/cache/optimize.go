package cache

import (
	"math"
	"sort"

	"github.com/cachet-ai/cachet/pkg/models"
)

// Value-score weights. Recency and popularity dominate; large responses pay
// a size penalty.
const (
	recencyWeight    = 0.4
	popularityWeight = 0.4
	sizeWeight       = 0.2

	// softThresholdRatio is the fill level past which Optimize trims.
	softThresholdRatio = 0.8
	// overEvictFactor evicts 20% beyond the minimum so the next insert does
	// not immediately re-trigger the pass.
	overEvictFactor = 1.2
)

// Optimize proactively trims the cache once it exceeds 80% of capacity,
// removing the lowest-valued entries. Unlike the pure-LRU eviction at insert
// time, the victim ranking blends recency, popularity, and response size.
// Returns the number of entries evicted; 0 when the pass does not trigger.
func (s *Store) Optimize() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	soft := float64(s.settings.MaxEntries) * softThresholdRatio
	count := len(s.entries)
	if float64(count) <= soft {
		return 0
	}

	evict := int(math.Floor((float64(count) - soft) * overEvictFactor))
	if evict <= 0 {
		return 0
	}
	if evict > count {
		evict = count
	}

	type scoredKey struct {
		key   string
		score float64
	}
	scored := make([]scoredKey, 0, count)
	for key, e := range s.entries {
		scored = append(scored, scoredKey{key: key, score: s.valueScoreLocked(e)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score < scored[j].score
		}
		return scored[i].key < scored[j].key
	})

	for _, sk := range scored[:evict] {
		delete(s.entries, sk.key)
	}
	s.recomputeLocked()
	return evict
}

// valueScoreLocked computes the composite eviction-resistance score for an
// entry: higher means more worth keeping.
func (s *Store) valueScoreLocked(e *models.CacheEntry) float64 {
	ageDays := s.now().Sub(e.AccessedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	recency := 1 / (1 + ageDays)

	popularity := float64(e.AccessCount) / 100
	if popularity > 1 {
		popularity = 1
	}

	size := 1 / (1 + float64(len(e.Response))/1000)

	return recencyWeight*recency + popularityWeight*popularity + sizeWeight*size
}
