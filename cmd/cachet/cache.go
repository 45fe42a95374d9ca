package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cachet-ai/cachet/pkg/cache"
	"github.com/cachet-ai/cachet/pkg/config"
	"github.com/cachet-ai/cachet/pkg/models"
	"github.com/cachet-ai/cachet/pkg/store"
	"github.com/spf13/cobra"
)

// openCache loads the configured snapshot from the database and hydrates an
// in-memory cache from it. The returned store must be closed by the caller.
func openCache(configPath string) (*cache.Store, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	snaps, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot store: %w", err)
	}

	snap, err := snaps.Load(context.Background())
	if err != nil {
		_ = snaps.Close()
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}

	c := cache.New(cfg.CacheSettings())
	// An empty database yields an empty snapshot; importing it would reset
	// the configured settings to defaults.
	if len(snap.Entries) > 0 || snap.Settings != nil || snap.Stats != nil {
		c.Import(snap)
	}
	return c, snaps, nil
}

func saveCache(c *cache.Store, snaps *store.Store) error {
	if err := snaps.Save(context.Background(), c.Export()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, snaps, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = snaps.Close() }()

			stats := c.Stats()
			fmt.Printf("Entries:       %d\n", stats.TotalEntries)
			fmt.Printf("Hits:          %d\n", stats.TotalHits)
			fmt.Printf("Misses:        %d\n", stats.TotalMisses)
			fmt.Printf("Hit rate:      %.1f%%\n", c.HitRate())
			fmt.Printf("Tokens saved:  %d\n", stats.EstimatedSavings)
			fmt.Printf("Size (approx): %d bytes\n", stats.CacheSize)
			return nil
		},
	}

	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show derived cache performance metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, snaps, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = snaps.Close() }()

			m := c.Metrics()
			fmt.Printf("Hit rate:            %.1f%%\n", m.HitRate)
			fmt.Printf("Mean access count:   %.2f\n", m.MeanAccessCount)
			fmt.Printf("Median access count: %.1f\n", m.MedianAccessCount)
			fmt.Printf("Tokens saved:        %d\n", m.TokensSaved)
			fmt.Printf("Efficiency:          %.2f\n", m.CacheEfficiency)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, snaps, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = snaps.Close() }()

			if expiredOnly {
				removed := c.CleanExpired()
				fmt.Printf("Removed %d expired entries.\n", removed)
			} else {
				c.Clear()
				fmt.Println("All cache entries cleared.")
			}
			return saveCache(c, snaps)
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "Trim low-value entries when the cache is near capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, snaps, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = snaps.Close() }()

			evicted := c.Optimize()
			fmt.Printf("Evicted %d entries, %d remain.\n", evicted, c.Len())
			return saveCache(c, snaps)
		},
	}

	invalidateCmd := &cobra.Command{
		Use:   "invalidate <substring>",
		Short: "Remove entries whose prompt contains the given substring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, snaps, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = snaps.Close() }()

			removed := c.InvalidateByContext(args[0])
			fmt.Printf("Invalidated %d entries.\n", removed)
			return saveCache(c, snaps)
		},
	}

	var outPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the cache as a JSON snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, snaps, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = snaps.Close() }()

			data, err := json.MarshalIndent(c.Export(), "", "  ")
			if err != nil {
				return fmt.Errorf("encode snapshot: %w", err)
			}
			if outPath == "" || outPath == "-" {
				_, err = os.Stdout.Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			fmt.Printf("Exported %d entries to %s\n", c.Len(), outPath)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")

	var inPath string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON snapshot into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			var snap models.Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}

			c, snaps, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = snaps.Close() }()

			count := c.Import(snap)
			fmt.Printf("Imported snapshot, cache now holds %d entries.\n", count)
			return saveCache(c, snaps)
		},
	}
	importCmd.Flags().StringVarP(&inPath, "in", "i", "", "snapshot file to import")
	_ = importCmd.MarkFlagRequired("in")

	var topBy string
	var topN int
	topCmd := &cobra.Command{
		Use:   "top",
		Short: "List the top cached entries by frequency or recency",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, snaps, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = snaps.Close() }()

			var entries []models.CacheEntry
			switch topBy {
			case "frequency":
				entries = c.MostFrequent(topN)
			case "recency":
				entries = c.RecentlyAccessed(topN)
			default:
				return fmt.Errorf("unknown ranking %q (want frequency or recency)", topBy)
			}
			if len(entries) == 0 {
				fmt.Println("No cached entries.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODEL\tACCESSES\tTOKENS\tLAST ACCESS")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					e.ID, e.Model, e.AccessCount, e.TokensUsed, e.AccessedAt.Format("2006-01-02T15:04:05"))
			}
			return w.Flush()
		},
	}
	topCmd.Flags().StringVar(&topBy, "by", "frequency", "ranking: frequency or recency")
	topCmd.Flags().IntVarP(&topN, "limit", "n", 10, "maximum entries to show")

	var prefetchN int
	prefetchCmd := &cobra.Command{
		Use:   "prefetch <prompt>",
		Short: "Rank cached entries likely relevant to an upcoming prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, snaps, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = snaps.Close() }()

			candidates := c.PrefetchCandidates(args[0], prefetchN)
			if len(candidates) == 0 {
				fmt.Println("No prefetch candidates.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tACCESSES\tPROMPT")
			for _, cand := range candidates {
				prompt := cand.Entry.Prompt
				if len(prompt) > 60 {
					prompt = prompt[:57] + "..."
				}
				fmt.Fprintf(w, "%.2f\t%d\t%s\n", cand.Score, cand.Entry.AccessCount, prompt)
			}
			return w.Flush()
		},
	}
	prefetchCmd.Flags().IntVarP(&prefetchN, "limit", "n", 5, "maximum candidates to show")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cachet.yaml", "path to config file")
	cmd.AddCommand(statsCmd, metricsCmd, clearCmd, optimizeCmd, invalidateCmd, exportCmd, importCmd, topCmd, prefetchCmd)
	return cmd
}
