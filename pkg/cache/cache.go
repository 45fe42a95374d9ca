// Package cache implements an exact-match response cache for LLM completions
// with TTL expiration, LRU and value-scored eviction, prefetch candidate
// ranking, and snapshot export/import.
package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cachet-ai/cachet/pkg/models"
)

// entryOverhead approximates the fixed per-entry bookkeeping cost, in bytes,
// used when computing CacheStats.CacheSize.
const entryOverhead = 200

// Store owns the entry table, capacity and age policy, and statistics.
// A single mutex guards the table and stats: Get mutates access metadata as a
// side effect of a read, so operations are not safely interleavable.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*models.CacheEntry
	settings models.CacheSettings
	stats    models.CacheStats

	now   func() time.Time
	newID func() string
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces the entry ID generator, for deterministic tests.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() models.CacheSettings {
	return models.CacheSettings{
		Enabled:        true,
		MaxEntries:     1000,
		MaxAgeDays:     7,
		MatchThreshold: 1.0,
	}
}

// New creates a Store with the given settings. Zero-valued capacity or
// threshold fields fall back to defaults.
func New(settings models.CacheSettings, opts ...Option) *Store {
	if settings.MaxEntries <= 0 {
		settings.MaxEntries = DefaultSettings().MaxEntries
	}
	if settings.MaxAgeDays < 0 {
		settings.MaxAgeDays = DefaultSettings().MaxAgeDays
	}
	if settings.MatchThreshold <= 0 || settings.MatchThreshold > 1 {
		settings.MatchThreshold = 1.0
	}

	s := &Store{
		entries:  make(map[string]*models.CacheEntry),
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get looks up a cached response. Expired entries are deleted as a side
// effect of lookup. The returned entry is a copy; mutating it does not affect
// the cache.
func (s *Store) Get(prompt, context, model string, temperature float64) (*models.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.settings.Enabled {
		return nil, false
	}

	key := DeriveKey(prompt, context, model, temperature)
	e, ok := s.entries[key]
	if !ok {
		s.stats.TotalMisses++
		return nil, false
	}

	if s.expiredLocked(e) {
		delete(s.entries, key)
		s.recomputeLocked()
		s.stats.TotalMisses++
		return nil, false
	}

	e.AccessedAt = s.now()
	e.AccessCount++
	s.stats.TotalHits++
	s.stats.EstimatedSavings += int64(e.TokensUsed)

	cp := *e
	return &cp, true
}

// Set stores a response under the derived key and returns the stored entry.
// When the cache is disabled a well-formed transient entry is returned but
// not retained. At capacity, the least recently accessed entry is evicted
// first.
func (s *Store) Set(prompt, context, model string, temperature float64, response string, tokensUsed, inputTokens, outputTokens int) models.CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := models.CacheEntry{
		ID:           s.newID(),
		PromptHash:   hashText(prompt),
		ContextHash:  hashText(context),
		Prompt:       prompt,
		Context:      context,
		Response:     response,
		Model:        model,
		Temperature:  temperature,
		TokensUsed:   tokensUsed,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CreatedAt:    now,
		AccessedAt:   now,
		AccessCount:  1,
	}

	if !s.settings.Enabled {
		return entry
	}

	key := keyFromHashes(entry.PromptHash, entry.ContextHash, model, temperature)
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.settings.MaxEntries {
		s.evictOldestLocked()
	}

	stored := entry
	s.entries[key] = &stored
	s.recomputeLocked()
	return entry
}

// Delete removes the entry with the given ID. Returns true if one was removed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if e.ID == id {
			delete(s.entries, key)
			s.recomputeLocked()
			return true
		}
	}
	return false
}

// Clear removes all entries. Hit/miss counters are preserved.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*models.CacheEntry)
	s.recomputeLocked()
}

// CleanExpired eagerly removes all entries older than the configured maximum
// age and returns the number removed.
func (s *Store) CleanExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if s.expiredLocked(e) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		s.recomputeLocked()
	}
	return removed
}

// InvalidateByContext removes every entry whose stored prompt contains the
// given substring, for when underlying source content changes materially.
// Returns the number removed.
func (s *Store) InvalidateByContext(substring string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if strings.Contains(e.Prompt, substring) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		s.recomputeLocked()
	}
	return removed
}

// MostFrequent returns up to n entry copies sorted by access count descending.
func (s *Store) MostFrequent(n int) []models.CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.copyEntriesLocked()
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccessCount != out[j].AccessCount {
			return out[i].AccessCount > out[j].AccessCount
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, n)
}

// RecentlyAccessed returns up to n entry copies sorted by last access
// descending.
func (s *Store) RecentlyAccessed(n int) []models.CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.copyEntriesLocked()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AccessedAt.Equal(out[j].AccessedAt) {
			return out[i].AccessedAt.After(out[j].AccessedAt)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, n)
}

// Stats returns a copy of the current counters.
func (s *Store) Stats() models.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Settings returns a copy of the current settings.
func (s *Store) Settings() models.CacheSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// HitRate returns the hit percentage across all lookups, 0 when there has
// been no activity.
func (s *Store) HitRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hitRateLocked(s.stats)
}

// Metrics derives read-only performance figures from the live table. Nothing
// is cached; every call recomputes.
func (s *Store) Metrics() models.PerformanceMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := models.PerformanceMetrics{
		HitRate:     hitRateLocked(s.stats),
		TokensSaved: s.stats.EstimatedSavings,
	}

	n := len(s.entries)
	if n == 0 {
		return m
	}

	counts := make([]int, 0, n)
	sum := 0
	for _, e := range s.entries {
		counts = append(counts, e.AccessCount)
		sum += e.AccessCount
	}
	sort.Ints(counts)

	m.MeanAccessCount = float64(sum) / float64(n)
	if n%2 == 1 {
		m.MedianAccessCount = float64(counts[n/2])
	} else {
		m.MedianAccessCount = float64(counts[n/2-1]+counts[n/2]) / 2
	}
	m.CacheEfficiency = float64(s.stats.TotalHits) / float64(n)
	return m
}

// UpdateSettings validates and applies a partial settings update. If the new
// capacity is below the current entry count, least recently accessed entries
// are evicted until the table conforms, as part of the same call.
func (s *Store) UpdateSettings(patch models.SettingsPatch) error {
	if err := validatePatch(patch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	applyPatch(&s.settings, patch)
	for len(s.entries) > s.settings.MaxEntries {
		s.evictOldestLocked()
	}
	s.recomputeLocked()
	return nil
}

// Len returns the live entry count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func validatePatch(patch models.SettingsPatch) error {
	if patch.MaxEntries != nil && *patch.MaxEntries < 1 {
		return fmt.Errorf("maxEntries must be at least 1, got %d", *patch.MaxEntries)
	}
	if patch.MaxAgeDays != nil && *patch.MaxAgeDays < 0 {
		return fmt.Errorf("maxAgeDays must not be negative, got %d", *patch.MaxAgeDays)
	}
	if patch.MatchThreshold != nil && (*patch.MatchThreshold < 0 || *patch.MatchThreshold > 1) {
		return fmt.Errorf("matchThreshold must be in [0,1], got %g", *patch.MatchThreshold)
	}
	return nil
}

func applyPatch(settings *models.CacheSettings, patch models.SettingsPatch) {
	if patch.Enabled != nil {
		settings.Enabled = *patch.Enabled
	}
	if patch.MaxEntries != nil {
		settings.MaxEntries = *patch.MaxEntries
	}
	if patch.MaxAgeDays != nil {
		settings.MaxAgeDays = *patch.MaxAgeDays
	}
	if patch.MatchThreshold != nil {
		settings.MatchThreshold = *patch.MatchThreshold
	}
}

// expiredLocked reports whether the entry has outlived the maximum age.
// With MaxAgeDays of 0, any elapsed time expires the entry.
func (s *Store) expiredLocked(e *models.CacheEntry) bool {
	maxAge := time.Duration(s.settings.MaxAgeDays) * 24 * time.Hour
	return s.now().Sub(e.CreatedAt) > maxAge
}

// evictOldestLocked removes the entry with the smallest AccessedAt. Ties are
// broken by key string so the victim is deterministic.
func (s *Store) evictOldestLocked() {
	var victim string
	var oldest time.Time
	for key, e := range s.entries {
		if victim == "" || e.AccessedAt.Before(oldest) ||
			(e.AccessedAt.Equal(oldest) && key < victim) {
			victim = key
			oldest = e.AccessedAt
		}
	}
	if victim != "" {
		delete(s.entries, victim)
	}
}

// recomputeLocked refreshes the derived counters from the live table so they
// never drift.
func (s *Store) recomputeLocked() {
	s.stats.TotalEntries = len(s.entries)
	var size int64
	for _, e := range s.entries {
		size += int64(len(e.Prompt) + len(e.Response) + entryOverhead)
	}
	s.stats.CacheSize = size
}

func (s *Store) copyEntriesLocked() []models.CacheEntry {
	out := make([]models.CacheEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

func truncate(entries []models.CacheEntry, n int) []models.CacheEntry {
	if n >= 0 && len(entries) > n {
		return entries[:n]
	}
	return entries
}

func hitRateLocked(stats models.CacheStats) float64 {
	total := stats.TotalHits + stats.TotalMisses
	if total == 0 {
		return 0
	}
	return float64(stats.TotalHits) / float64(total) * 100
}
