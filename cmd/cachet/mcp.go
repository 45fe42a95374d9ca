package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cachet-ai/cachet/pkg/mcp"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the cache as an MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, snaps, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = snaps.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcp.New(c, version)
			if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil {
				return err
			}
			return saveCache(c, snaps)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cachet.yaml", "path to config file")
	return cmd
}
