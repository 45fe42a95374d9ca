package cache

import (
	"sort"

	"github.com/cachet-ai/cachet/pkg/models"
)

// Export produces a point-in-time snapshot of all live entries (most recently
// accessed first), the current stats, and the current settings. It is a pure
// read; the snapshot shares no state with the cache.
func (s *Store) Export() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.copyEntriesLocked()
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].AccessedAt.Equal(entries[j].AccessedAt) {
			return entries[i].AccessedAt.After(entries[j].AccessedAt)
		}
		return entries[i].ID < entries[j].ID
	})

	stats := s.stats
	settings := s.settings
	return models.Snapshot{
		Entries: entries,
		Stats:   &stats,
		Settings: &models.SettingsPatch{
			Enabled:        &settings.Enabled,
			MaxEntries:     &settings.MaxEntries,
			MaxAgeDays:     &settings.MaxAgeDays,
			MatchThreshold: &settings.MatchThreshold,
		},
	}
}

// Import rebuilds the cache from a snapshot and returns the number of entries
// accepted. Settings merge onto defaults (invalid fields are ignored), stats
// are replaced wholesale when present, and the entry table is rebuilt in
// input order: entries already expired under the new settings are dropped,
// malformed entries are skipped, and the table is truncated once it reaches
// capacity. Import never fails; bad input only shrinks what is accepted.
func (s *Store) Import(snap models.Snapshot) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := DefaultSettings()
	if snap.Settings != nil {
		mergeValid(&settings, *snap.Settings)
	}
	s.settings = settings

	if snap.Stats != nil {
		s.stats = *snap.Stats
	}

	s.entries = make(map[string]*models.CacheEntry, len(snap.Entries))
	for _, e := range snap.Entries {
		if len(s.entries) >= s.settings.MaxEntries {
			break
		}
		if e.ID == "" || e.Prompt == "" || e.CreatedAt.IsZero() {
			continue
		}
		if s.expiredLocked(&e) {
			continue
		}

		// Re-enforce entry invariants on arrival.
		if e.AccessCount < 1 {
			e.AccessCount = 1
		}
		if e.AccessedAt.Before(e.CreatedAt) {
			e.AccessedAt = e.CreatedAt
		}

		var key string
		if e.PromptHash != "" && e.ContextHash != "" {
			key = keyFromHashes(e.PromptHash, e.ContextHash, e.Model, e.Temperature)
		} else {
			// Back-compatibility path: older snapshots carry no hashes.
			e.PromptHash = hashText(e.Prompt)
			e.ContextHash = hashText(e.Context)
			key = keyFromHashes(e.PromptHash, e.ContextHash, e.Model, e.Temperature)
		}

		stored := e
		s.entries[key] = &stored
	}

	s.recomputeLocked()
	return len(s.entries)
}

// mergeValid applies only in-range patch fields, leaving the rest at their
// defaults. Import is defensive where UpdateSettings is strict.
func mergeValid(settings *models.CacheSettings, patch models.SettingsPatch) {
	if patch.Enabled != nil {
		settings.Enabled = *patch.Enabled
	}
	if patch.MaxEntries != nil && *patch.MaxEntries >= 1 {
		settings.MaxEntries = *patch.MaxEntries
	}
	if patch.MaxAgeDays != nil && *patch.MaxAgeDays >= 0 {
		settings.MaxAgeDays = *patch.MaxAgeDays
	}
	if patch.MatchThreshold != nil && *patch.MatchThreshold >= 0 && *patch.MatchThreshold <= 1 {
		settings.MatchThreshold = *patch.MatchThreshold
	}
}
