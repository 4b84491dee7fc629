package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	k8stypes "k8s.io/apimachinery/pkg/types"

	"github.com/nautilusbot/nautilus/internal/bootstrap"
	"github.com/nautilusbot/nautilus/internal/ledger"
	"github.com/nautilusbot/nautilus/internal/report"
	"github.com/nautilusbot/nautilus/internal/types"
)

// withLedger opens the configured ledger for the duration of fn.
func withLedger(ctx context.Context, opts *globalOptions, fn func(*ledger.Ledger) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger()
	defer logger.Sync()

	l, err := bootstrap.OpenLedger(ctx, cfg.Ledger, logger)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(l)
}

func ledgerCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Read the violation ledger",
	}
	cmd.AddCommand(ledgerListCmd(opts), ledgerGetCmd(opts), ledgerCountsCmd(opts))
	return cmd
}

func ledgerListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every ledger entry with rolling and lifetime counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd.Context(), opts, func(l *ledger.Ledger) error {
				entries, err := l.Entries(cmd.Context())
				if err != nil {
					return err
				}
				return report.Render(cmd.OutOrStdout(), opts.output, report.Entries(entries))
			})
		},
	}
}

func ledgerGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <uid>",
		Short: "Show one ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), opts, func(l *ledger.Ledger) error {
				e, err := l.Entry(cmd.Context(), k8stypes.UID(args[0]))
				if errors.Is(err, ledger.ErrNotFound) {
					return fmt.Errorf("no ledger entry for %s", args[0])
				}
				if err != nil {
					return err
				}
				return report.Render(cmd.OutOrStdout(), opts.output, report.Entries{e})
			})
		},
	}
}

func ledgerCountsCmd(opts *globalOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "counts <uid>",
		Short: "Show rolling and lifetime counts for one reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := types.ReasonCode(reason)
			if !code.Valid() {
				return fmt.Errorf("unknown reason %q", reason)
			}
			uid := k8stypes.UID(args[0])
			return withLedger(cmd.Context(), opts, func(l *ledger.Ledger) error {
				rolling, err := l.RollingCount(cmd.Context(), uid, code)
				if err != nil {
					return err
				}
				lifetime, err := l.LifetimeCount(cmd.Context(), uid, code)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: rolling=%d lifetime=%d repeat=%t\n",
					uid, code, rolling, lifetime, rolling >= ledger.RepeatOffenderThreshold)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason code, e.g. job_failed")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
