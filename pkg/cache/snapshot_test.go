package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/cachet-ai/cachet/pkg/models"
)

func TestExportOrdering(t *testing.T) {
	s, clock := newTestStore(t, DefaultSettings())

	s.Set("first", "", "gpt-4", 0.7, "r", 1, 1, 0)
	clock.Advance(time.Second)
	s.Set("second", "", "gpt-4", 0.7, "r", 1, 1, 0)
	clock.Advance(time.Second)
	s.Get("first", "", "gpt-4", 0.7)

	snap := s.Export()
	if len(snap.Entries) != 2 {
		t.Fatalf("exported %d entries, want 2", len(snap.Entries))
	}
	if snap.Entries[0].Prompt != "first" {
		t.Error("export should order entries most-recently-accessed first")
	}
	if snap.Stats == nil || snap.Stats.TotalEntries != 2 {
		t.Error("export should carry current stats")
	}
	if snap.Settings == nil || snap.Settings.MaxEntries == nil {
		t.Fatal("export should carry full settings")
	}
	if *snap.Settings.MaxEntries != DefaultSettings().MaxEntries {
		t.Errorf("exported maxEntries = %d", *snap.Settings.MaxEntries)
	}
}

func TestExportIsASnapshot(t *testing.T) {
	s, _ := newTestStore(t, DefaultSettings())
	s.Set("p", "", "gpt-4", 0.7, "r", 1, 1, 0)

	snap := s.Export()
	snap.Entries[0].Response = "tampered"

	e, _ := s.Get("p", "", "gpt-4", 0.7)
	if e.Response != "r" {
		t.Error("mutating an exported snapshot must not affect cache state")
	}
}

func TestImportRoundTripIsIdempotent(t *testing.T) {
	s, clock := newTestStore(t, DefaultSettings())

	s.Set("alpha", "ctx", "gpt-4", 0.7, "ra", 10, 6, 4)
	clock.Advance(time.Second)
	s.Set("beta", "", "gpt-4o", 0.3, "rb", 20, 12, 8)
	s.Get("alpha", "ctx", "gpt-4", 0.7)
	s.Get("missing", "", "gpt-4", 0.7)

	snap := s.Export()

	other, _ := newTestStore(t, DefaultSettings())
	if n := other.Import(snap); n != 2 {
		t.Fatalf("imported %d entries, want 2", n)
	}

	if got := other.Stats(); got != s.Stats() {
		t.Errorf("stats diverged after round trip: %+v vs %+v", got, s.Stats())
	}
	if got := other.Settings(); got != s.Settings() {
		t.Errorf("settings diverged after round trip: %+v vs %+v", got, other.Settings())
	}

	e, ok := other.Get("alpha", "ctx", "gpt-4", 0.7)
	if !ok {
		t.Fatal("imported entry should be retrievable under its original key")
	}
	if e.Response != "ra" || e.AccessCount != 3 {
		t.Errorf("entry not preserved: %+v", e)
	}

	again := other.Export()
	if len(again.Entries) != len(snap.Entries) {
		t.Error("second round trip changed the entry set")
	}
}

func TestImportDropsExpiredOnArrival(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxAgeDays = 1
	s, clock := newTestStore(t, settings)

	s.Set("old", "", "gpt-4", 0.7, "r", 1, 1, 0)
	snap := s.Export()

	clock.Advance(48 * time.Hour)
	if n := s.Import(snap); n != 0 {
		t.Errorf("imported %d entries, want 0 — entry was expired on arrival", n)
	}
	if s.Len() != 0 {
		t.Error("expired-on-arrival entries must not be stored")
	}
}

func TestImportTruncatesAtCapacity(t *testing.T) {
	s, clock := newTestStore(t, DefaultSettings())
	for i := 0; i < 5; i++ {
		s.Set(fmt.Sprintf("p%d", i), "", "gpt-4", 0.7, "r", 1, 1, 0)
		clock.Advance(time.Second)
	}
	snap := s.Export()

	// Shrink capacity via the snapshot's own settings.
	two := 2
	snap.Settings.MaxEntries = &two

	n := s.Import(snap)
	if n != 2 {
		t.Fatalf("imported %d entries, want 2", n)
	}
	// Input order decides survival: export put the most recently accessed
	// first, so p4 and p3 survive.
	if _, ok := s.Get("p4", "", "gpt-4", 0.7); !ok {
		t.Error("p4 should survive a truncating import")
	}
	if _, ok := s.Get("p3", "", "gpt-4", 0.7); !ok {
		t.Error("p3 should survive a truncating import")
	}
	if _, ok := s.Get("p0", "", "gpt-4", 0.7); ok {
		t.Error("p0 should be truncated away")
	}
}

func TestImportSkipsMalformedEntries(t *testing.T) {
	s, clock := newTestStore(t, DefaultSettings())
	now := clock.Now()

	snap := models.Snapshot{
		Entries: []models.CacheEntry{
			{ID: "", Prompt: "no id", Response: "r", CreatedAt: now, AccessedAt: now, AccessCount: 1},
			{ID: "e2", Prompt: "", Response: "r", CreatedAt: now, AccessedAt: now, AccessCount: 1},
			{ID: "e3", Prompt: "no created time", Response: "r", AccessCount: 1},
			{ID: "e4", Prompt: "good", Model: "gpt-4", Temperature: 0.7, Response: "r", CreatedAt: now, AccessedAt: now, AccessCount: 1},
		},
	}

	if n := s.Import(snap); n != 1 {
		t.Fatalf("imported %d entries, want 1 — malformed entries skipped, not fatal", n)
	}
	if _, ok := s.Get("good", "", "gpt-4", 0.7); !ok {
		t.Error("the well-formed entry should have been imported")
	}
}

func TestImportRecomputesKeysWhenHashesAbsent(t *testing.T) {
	s, clock := newTestStore(t, DefaultSettings())
	now := clock.Now()

	// Back-compatibility path: no stored hashes, key rebuilt from raw fields.
	snap := models.Snapshot{
		Entries: []models.CacheEntry{
			{
				ID: "legacy", Prompt: "Hello World", Context: "ctx",
				Model: "gpt-4", Temperature: 0.7, Response: "r",
				CreatedAt: now, AccessedAt: now, AccessCount: 1,
			},
		},
	}

	if n := s.Import(snap); n != 1 {
		t.Fatalf("imported %d entries, want 1", n)
	}
	// Normalized lookup matches because the key was re-derived from text.
	if _, ok := s.Get("  hello world ", "CTX", "gpt-4", 0.70); !ok {
		t.Error("recomputed key should match a normalized lookup")
	}
}

func TestImportEnforcesEntryInvariants(t *testing.T) {
	s, clock := newTestStore(t, DefaultSettings())
	now := clock.Now()

	snap := models.Snapshot{
		Entries: []models.CacheEntry{
			{
				ID: "bad-meta", Prompt: "p", Model: "gpt-4", Response: "r",
				CreatedAt: now, AccessedAt: now.Add(-time.Hour), AccessCount: 0,
			},
		},
	}
	s.Import(snap)

	e, ok := s.Get("p", "", "gpt-4", 0)
	if !ok {
		t.Fatal("entry should import")
	}
	// Get already counted one access on top of the repaired floor of 1.
	if e.AccessCount != 2 {
		t.Errorf("access count = %d, want repaired to 1 then incremented", e.AccessCount)
	}
	if e.AccessedAt.Before(e.CreatedAt) {
		t.Error("accessedAt should be repaired to not precede createdAt")
	}
}

func TestImportMergesSettingsOntoDefaults(t *testing.T) {
	s, _ := newTestStore(t, DefaultSettings())

	days := 30
	bad := -5
	snap := models.Snapshot{
		Settings: &models.SettingsPatch{
			MaxAgeDays: &days,
			MaxEntries: &bad, // out of range, ignored
		},
	}
	s.Import(snap)

	got := s.Settings()
	if got.MaxAgeDays != 30 {
		t.Errorf("maxAgeDays = %d, want 30", got.MaxAgeDays)
	}
	if got.MaxEntries != DefaultSettings().MaxEntries {
		t.Errorf("invalid maxEntries should fall back to default, got %d", got.MaxEntries)
	}
	if got.MatchThreshold != 1.0 {
		t.Errorf("missing matchThreshold should default to 1.0, got %g", got.MatchThreshold)
	}
}

func TestImportWithoutStatsKeepsCurrent(t *testing.T) {
	s, _ := newTestStore(t, DefaultSettings())
	s.Set("p", "", "gpt-4", 0.7, "r", 5, 3, 2)
	s.Get("p", "", "gpt-4", 0.7)

	hits := s.Stats().TotalHits
	s.Import(models.Snapshot{})
	if got := s.Stats().TotalHits; got != hits {
		t.Errorf("hits = %d, want %d — missing stats block keeps current counters", got, hits)
	}
	if s.Len() != 0 {
		t.Error("import replaces the entry table even when empty")
	}
}
