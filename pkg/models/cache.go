package models

import "time"

// CacheEntry is one stored prompt/response exchange plus access metadata.
type CacheEntry struct {
	ID           string    `json:"id"`
	PromptHash   string    `json:"promptHash"`
	ContextHash  string    `json:"contextHash"`
	Prompt       string    `json:"prompt"`
	Context      string    `json:"context,omitempty"`
	Response     string    `json:"response"`
	Model        string    `json:"model"`
	Temperature  float64   `json:"temperature"`
	TokensUsed   int       `json:"tokensUsed"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	CreatedAt    time.Time `json:"createdAt"`
	AccessedAt   time.Time `json:"accessedAt"`
	AccessCount  int       `json:"accessCount"`
}

// CacheStats holds process-wide aggregate counters. TotalEntries and
// CacheSize are recomputed from the live table on every mutation.
type CacheStats struct {
	TotalEntries     int   `json:"totalEntries"`
	TotalHits        int64 `json:"totalHits"`
	TotalMisses      int64 `json:"totalMisses"`
	EstimatedSavings int64 `json:"estimatedSavings"`
	CacheSize        int64 `json:"cacheSize"`
}

// CacheSettings configures the cache. MatchThreshold is reserved for a future
// approximate-match mode; nothing reads it yet.
type CacheSettings struct {
	Enabled        bool    `json:"enabled"`
	MaxEntries     int     `json:"maxEntries"`
	MaxAgeDays     int     `json:"maxAgeDays"`
	MatchThreshold float64 `json:"matchThreshold"`
}

// SettingsPatch is a partial settings update. Nil fields keep their current
// (or default) values.
type SettingsPatch struct {
	Enabled        *bool    `json:"enabled,omitempty"`
	MaxEntries     *int     `json:"maxEntries,omitempty"`
	MaxAgeDays     *int     `json:"maxAgeDays,omitempty"`
	MatchThreshold *float64 `json:"matchThreshold,omitempty"`
}

// Snapshot is the serialized form of the cache produced by Export and
// consumed by Import. Entries are ordered most-recently-accessed first so a
// truncating import keeps the entries most worth keeping.
type Snapshot struct {
	Entries  []CacheEntry   `json:"entries"`
	Stats    *CacheStats    `json:"stats,omitempty"`
	Settings *SettingsPatch `json:"settings,omitempty"`
}

// PerformanceMetrics are derived, read-only cache health figures.
type PerformanceMetrics struct {
	HitRate           float64 `json:"hitRate"`
	MeanAccessCount   float64 `json:"meanAccessCount"`
	MedianAccessCount float64 `json:"medianAccessCount"`
	TokensSaved       int64   `json:"tokensSaved"`
	CacheEfficiency   float64 `json:"cacheEfficiency"`
}

// PrefetchCandidate pairs an entry with its prefetch relevance score.
type PrefetchCandidate struct {
	Entry CacheEntry `json:"entry"`
	Score float64    `json:"score"`
}
