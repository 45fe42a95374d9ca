package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/cachet-ai/cachet/pkg/cache"
	"github.com/cachet-ai/cachet/pkg/config"
	"github.com/cachet-ai/cachet/pkg/proxy"
	"github.com/cachet-ai/cachet/pkg/store"
	"github.com/spf13/cobra"
)

func newProxyCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Start the caching LLM API proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			snaps, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open snapshot store: %w", err)
			}
			defer func() { _ = snaps.Close() }()

			c := cache.New(cfg.CacheSettings())
			srv := proxy.New(cfg, c, snaps)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("starting cachet proxy with config: %s", configPath)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cachet.yaml", "path to config file")
	return cmd
}
