package cache

import (
	"sort"
	"strings"

	"github.com/cachet-ai/cachet/pkg/models"
)

// prefetchMinScore is the cutoff below which a candidate is not worth
// pre-warming.
const prefetchMinScore = 0.3

// PrefetchCandidates ranks stored entries by relevance to the current prompt:
// lexical word overlap weighted by historical popularity. Scores at or below
// the cutoff are discarded. The result holds at most limit candidates, in
// descending score order, and may be empty on a cold or small cache.
func (s *Store) PrefetchCandidates(currentPrompt string, limit int) []models.PrefetchCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	currentWords := wordSet(currentPrompt)
	denom := len(currentWords)
	if denom < 1 {
		denom = 1
	}

	var candidates []models.PrefetchCandidate
	for _, e := range s.entries {
		overlap := overlapCount(currentWords, wordSet(e.Prompt))
		score := float64(overlap) / float64(denom) * float64(e.AccessCount) / 10
		if score <= prefetchMinScore {
			continue
		}
		candidates = append(candidates, models.PrefetchCandidate{Entry: *e, Score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Entry.ID < candidates[j].Entry.ID
	})

	if limit >= 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// wordSet tokenizes text into a lower-cased set of whitespace-delimited words.
func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func overlapCount(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
