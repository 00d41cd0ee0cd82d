package main

import (
	"context"

	"github.com/spf13/cobra"
)

var configPath string

func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:           "tradesync",
		Short:         "Exchange trade-history sync service for the perp journal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(validateCmd())
	return root.ExecuteContext(ctx)
}
