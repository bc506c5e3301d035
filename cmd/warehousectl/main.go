// Command warehousectl runs ad-hoc warehouse operations with the same
// configuration as the API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ecompulse.app/internal/config"
	"ecompulse.app/internal/obs"
	"ecompulse.app/internal/warehouse"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "warehousectl",
		Short:         "Query and load the ecompulse warehouse",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(getOutputFormat(cmd)); err != nil {
				return err
			}
			level, _ := cmd.Root().PersistentFlags().GetString("log-level")
			obs.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringP("output", "o", "table", "Output format: table, json or yaml")
	root.PersistentFlags().String("log-level", "warn", "Log level")

	root.AddCommand(
		newVersionCmd(),
		newTokenCmd(),
		newQueryCmd(),
		newInsertCmd(),
		newRefreshRanksCmd(),
		newSessionTokenCmd(),
		newUnsubscribeLinkCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printValue(cmd, map[string]string{"version": version, "commit": commit})
		},
	}
}

// loadClient reads the environment the way the API server does.
func loadClient() (config.Config, *warehouse.Client, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, nil, err
	}
	if !cfg.HasWarehouse() {
		return cfg, nil, fmt.Errorf("%w: set GCP_SERVICE_ACCOUNT_JSON or GCP_SERVICE_ACCOUNT_FILE", config.ErrInvalid)
	}
	creds, err := warehouse.ParseCredentials(cfg.Credentials)
	if err != nil {
		return cfg, nil, err
	}
	var opts []warehouse.Option
	if cfg.TokenURL != "" {
		opts = append(opts, warehouse.WithTokenURL(cfg.TokenURL))
	}
	if cfg.WarehouseURL != "" {
		opts = append(opts, warehouse.WithBaseURL(cfg.WarehouseURL))
	}
	c, err := warehouse.New(cfg.ProjectID, creds, opts...)
	return cfg, c, err
}
