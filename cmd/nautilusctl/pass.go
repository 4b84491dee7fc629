package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/nautilusbot/nautilus/internal/bootstrap"
	"github.com/nautilusbot/nautilus/internal/engine"
	"github.com/nautilusbot/nautilus/internal/executor"
	"github.com/nautilusbot/nautilus/internal/notifier"
	"github.com/nautilusbot/nautilus/internal/report"
)

func passCmd(opts *globalOptions) *cobra.Command {
	var (
		namespaces []string
		dryRun     bool
		notify     bool
	)

	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Run one monitoring pass and print its summary",
		Long: `Run one monitoring pass over the configured namespaces.

Violations are recorded in the ledger exactly as the controller would
record them. Corrective actions are sent with dry-run unless --dry-run=false.`,
		Example: `  nautilusctl pass
  nautilusctl pass -n gilpin-lab -o json
  nautilusctl pass --dry-run=false --notify`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := opts.logger()
			defer logger.Sync()

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if len(namespaces) == 0 {
				namespaces = cfg.Namespaces
			}

			restCfg, err := ctrl.GetConfig()
			if err != nil {
				return fmt.Errorf("load kubeconfig: %w", err)
			}
			clientset, err := kubernetes.NewForConfig(restCfg)
			if err != nil {
				return fmt.Errorf("create clientset: %w", err)
			}
			collector, err := bootstrap.NewCollector(restCfg, clientset, cfg, logger)
			if err != nil {
				return err
			}

			ledg, err := bootstrap.OpenLedger(ctx, cfg.Ledger, logger)
			if err != nil {
				return err
			}
			defer ledg.Close()

			deps := engine.Dependencies{
				Collector: collector,
				Ledger:    ledg,
				Executor:  executor.New(clientset, logger, executor.Options{DryRun: dryRun}),
			}
			if notify {
				deps.Notifier = notifier.NewDispatcher(clientset, logger, notifier.DefaultDispatcherOptions())
			}
			eng := engine.New(deps, logger, engine.DefaultOptions())

			pass, err := eng.RunPass(ctx, namespaces)
			if pass != nil {
				if rerr := report.Render(cmd.OutOrStdout(), opts.output, report.Summarize(pass)); rerr != nil {
					return rerr
				}
			}
			if err != nil {
				logger.Warn("Pass did not complete", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&namespaces, "namespace", "n", nil, "Namespaces to check (default: from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "Send corrective actions with dry-run")
	cmd.Flags().BoolVar(&notify, "notify", false, "Create Kubernetes Events for decisions")

	return cmd
}
