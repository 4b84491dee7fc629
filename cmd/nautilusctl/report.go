package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nautilusbot/nautilus/internal/ledger"
	"github.com/nautilusbot/nautilus/internal/report"
)

func reportCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print reports built from the ledger",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "repeat-offenders",
		Short: "List resources with repeated violations in the last 7 days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd.Context(), opts, func(l *ledger.Ledger) error {
				r, err := report.RepeatOffenders(cmd.Context(), l)
				if err != nil {
					return err
				}
				return report.Render(cmd.OutOrStdout(), opts.output, r)
			})
		},
	})
	return cmd
}

func configCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and print the effective values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if opts.output == report.FormatTable {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d namespaces, %s ledger)\n",
					opts.configPath, len(cfg.Namespaces), cfg.Ledger.Backend)
				return nil
			}
			return report.Render(cmd.OutOrStdout(), opts.output, cfg)
		},
	})
	return cmd
}
