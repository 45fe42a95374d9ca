package mcp

import (
	"fmt"
	"strings"

	"github.com/cachet-ai/cachet/pkg/models"
)

// formatStats formats cache counters as text.
func formatStats(stats models.CacheStats) string {
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:        %d\n"+
		"  Hits:           %d\n"+
		"  Misses:         %d\n"+
		"  Tokens Saved:   %d\n"+
		"  Size (approx):  %d bytes\n",
		stats.TotalEntries, stats.TotalHits, stats.TotalMisses,
		stats.EstimatedSavings, stats.CacheSize)
}

// formatMetrics formats derived performance metrics as text.
func formatMetrics(m models.PerformanceMetrics) string {
	return fmt.Sprintf("Cache Performance\n"+
		"  Hit Rate:            %.1f%%\n"+
		"  Mean Access Count:   %.2f\n"+
		"  Median Access Count: %.1f\n"+
		"  Tokens Saved:        %d\n"+
		"  Efficiency:          %.2f\n",
		m.HitRate, m.MeanAccessCount, m.MedianAccessCount, m.TokensSaved, m.CacheEfficiency)
}

// formatEntries formats cache entries as a text table.
func formatEntries(entries []models.CacheEntry) string {
	if len(entries) == 0 {
		return "No cached entries."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-25s %8s %10s %-20s\n",
		"ID", "Model", "Accesses", "Tokens", "Last Access")
	b.WriteString(strings.Repeat("-", 105) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-38s %-25s %8d %10d %-20s\n",
			e.ID, e.Model, e.AccessCount, e.TokensUsed,
			e.AccessedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

// formatCandidates formats prefetch candidates as a text table.
func formatCandidates(candidates []models.PrefetchCandidate) string {
	if len(candidates) == 0 {
		return "No prefetch candidates."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%6s %8s  %s\n", "Score", "Accesses", "Prompt")
	b.WriteString(strings.Repeat("-", 70) + "\n")
	for _, c := range candidates {
		prompt := c.Entry.Prompt
		if len(prompt) > 50 {
			prompt = prompt[:47] + "..."
		}
		fmt.Fprintf(&b, "%6.2f %8d  %s\n", c.Score, c.Entry.AccessCount, prompt)
	}
	return b.String()
}
