// nautilusctl runs monitoring passes by hand and queries the violation ledger.
//
// Usage:
//
//	nautilusctl pass [-n namespace] [--dry-run=false] [-o table|json|yaml]
//	nautilusctl report repeat-offenders [-o table|json|yaml]
//	nautilusctl ledger list [-o table|json|yaml]
//	nautilusctl ledger get <uid> [-o json|yaml]
//	nautilusctl ledger counts <uid> --reason <code>
//	nautilusctl config validate
//
// The badger ledger is locked by the running controller. Stop it, or use
// the controller's ledger API, before running ledger commands against the
// same path.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nautilusbot/nautilus/internal/config"
)

var version = "dev"

// globalOptions are the persistent root flags.
type globalOptions struct {
	configPath string
	output     string
	verbose    bool
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath)
}

func (o *globalOptions) logger() *zap.Logger {
	level := zapcore.WarnLevel
	if o.verbose {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "nautilusctl",
		Short: "Run Nautilus passes and query the violation ledger",
		Long: `nautilusctl is the command line companion of the Nautilus controller.

It runs a single monitoring pass against the cluster, prints the repeat
offender report and reads ledger entries, using the same configuration
file as the controller.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "/etc/nautilus/config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output to stderr")

	// Add subcommands
	rootCmd.AddCommand(passCmd(opts))
	rootCmd.AddCommand(reportCmd(opts))
	rootCmd.AddCommand(ledgerCmd(opts))
	rootCmd.AddCommand(configCmd(opts))

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
