package mcp

import (
	"encoding/json"
	"fmt"
)

// Tool argument structs.

type topEntriesArgs struct {
	By    string `json:"by"`
	Limit int    `json:"limit"`
}

type prefetchArgs struct {
	Prompt string `json:"prompt"`
	Limit  int    `json:"limit"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"cachet_stats":         handleStats,
	"cachet_metrics":       handleMetrics,
	"cachet_top_entries":   handleTopEntries,
	"cachet_prefetch":      handlePrefetch,
	"cachet_optimize":      handleOptimize,
	"cachet_clean_expired": handleCleanExpired,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "cachet_stats",
		Description: "Show response cache counters: entries, hits, misses, estimated token savings, and size.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "cachet_metrics",
		Description: "Show derived cache performance metrics: hit rate, mean/median access counts, and efficiency.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "cachet_top_entries",
		Description: "List the top cached entries by access frequency or recency.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"by": map[string]any{
					"type":        "string",
					"description": "Ranking: \"frequency\" (default) or \"recency\"",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum entries to return (default 10)",
				},
			},
		},
	},
	{
		Name:        "cachet_prefetch",
		Description: "Rank cached entries likely relevant to an upcoming prompt, by lexical overlap and popularity.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "The upcoming prompt to match against",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum candidates to return (default 5)",
				},
			},
			"required": []string{"prompt"},
		},
	},
	{
		Name:        "cachet_optimize",
		Description: "Run the value-scored optimize pass, trimming low-value entries once the cache is over 80% full.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "cachet_clean_expired",
		Description: "Sweep and remove all entries older than the configured maximum age.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

func handleStats(s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatStats(s.cache.Stats()))
}

func handleMetrics(s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatMetrics(s.cache.Metrics()))
}

func handleTopEntries(s *Server, args json.RawMessage) ToolCallResult {
	params := topEntriesArgs{By: "frequency", Limit: 10}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return errorResult("invalid arguments")
		}
	}
	if params.Limit <= 0 {
		params.Limit = 10
	}

	switch params.By {
	case "frequency", "":
		return textResult(formatEntries(s.cache.MostFrequent(params.Limit)))
	case "recency":
		return textResult(formatEntries(s.cache.RecentlyAccessed(params.Limit)))
	default:
		return errorResult(fmt.Sprintf("unknown ranking: %s", params.By))
	}
}

func handlePrefetch(s *Server, args json.RawMessage) ToolCallResult {
	var params prefetchArgs
	if err := json.Unmarshal(args, &params); err != nil || params.Prompt == "" {
		return errorResult("prompt is required")
	}
	if params.Limit <= 0 {
		params.Limit = 5
	}
	return textResult(formatCandidates(s.cache.PrefetchCandidates(params.Prompt, params.Limit)))
}

func handleOptimize(s *Server, _ json.RawMessage) ToolCallResult {
	evicted := s.cache.Optimize()
	return textResult(fmt.Sprintf("Optimize evicted %d entries. %d remain.", evicted, s.cache.Len()))
}

func handleCleanExpired(s *Server, _ json.RawMessage) ToolCallResult {
	removed := s.cache.CleanExpired()
	return textResult(fmt.Sprintf("Removed %d expired entries. %d remain.", removed, s.cache.Len()))
}
