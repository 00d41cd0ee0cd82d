package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perpjournal/tradesync/internal/cache"
	"github.com/perpjournal/tradesync/internal/config"
	"github.com/perpjournal/tradesync/internal/exchange"
	"github.com/perpjournal/tradesync/internal/model"
	syncsvc "github.com/perpjournal/tradesync/internal/sync"
)

// validateCmd checks a credential set against the venue without touching the
// database. For hyperliquid pass the wallet address as --key.
func validateCmd() *cobra.Command {
	var key, secret, passphrase string

	cmd := &cobra.Command{
		Use:   "validate <exchange>",
		Short: "Validate API credentials against an exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := model.ParseExchange(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				// Validation needs no database or encryption key; fall back
				// to production endpoints when the config cannot load.
				cfg = &config.Config{}
			}

			factory := syncsvc.NewClientFactory(cfg.Exchanges, cache.NewMemory())
			client, err := factory(ex, model.Credentials{Key: key, Secret: secret, Passphrase: passphrase})
			if err != nil {
				return err
			}
			if err := client.ValidateCredentials(cmd.Context()); err != nil {
				return fmt.Errorf("%s", exchange.UserMessage(err))
			}
			fmt.Printf("%s credentials are valid\n", ex)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "API key (or wallet address for hyperliquid)")
	cmd.Flags().StringVar(&secret, "secret", "", "API secret")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "API passphrase (blofin only)")
	return cmd
}
