package main

import (
	"context"
	"flag"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/nautilusbot/nautilus/internal/api"
	"github.com/nautilusbot/nautilus/internal/bootstrap"
	"github.com/nautilusbot/nautilus/internal/config"
	"github.com/nautilusbot/nautilus/internal/engine"
	"github.com/nautilusbot/nautilus/internal/executor"
	"github.com/nautilusbot/nautilus/internal/metrics"
	"github.com/nautilusbot/nautilus/internal/notifier"
	"github.com/nautilusbot/nautilus/internal/rules"
)

func main() {
	var (
		configPath  string
		metricsAddr string
		healthAddr  string
		apiAddr     string
		leaderElect bool
		logLevel    string
		dryRun      bool
	)

	flag.StringVar(&configPath, "config", "/etc/nautilus/config.yaml", "Path to the configuration file.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	flag.StringVar(&healthAddr, "health-probe-bind-address", ":8081", "The address the health probe endpoint binds to.")
	flag.StringVar(&apiAddr, "api-bind-address", ":8082", "The address the ledger API binds to. Empty disables it.")
	flag.BoolVar(&leaderElect, "leader-elect", true, "Enable leader election for controller manager.")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error.")
	flag.BoolVar(&dryRun, "dry-run", false, "Send every corrective action with dry-run set. Overrides the config file.")
	flag.Parse()

	// Setup logger
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(level)
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := logConfig.Build()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	fileCfg := *cfg
	if dryRun {
		cfg.DryRun = true
	}

	logger.Info("Starting Nautilus",
		zap.String("version", "dev"),
		zap.Bool("leader_elect", leaderElect),
		zap.Strings("namespaces", cfg.Namespaces),
		zap.Duration("pass_interval", cfg.PassInterval.Duration),
		zap.String("ledger_backend", cfg.Ledger.Backend),
		zap.Bool("gpu_metrics", cfg.GPUMetrics.Enabled),
		zap.Bool("dry_run", cfg.DryRun),
	)

	// Setup controller-runtime manager
	restCfg := ctrl.GetConfigOrDie()
	mgr, err := ctrl.NewManager(restCfg, ctrl.Options{
		LeaderElection:         leaderElect,
		LeaderElectionID:       "nautilus-leader",
		HealthProbeBindAddress: healthAddr,
		Metrics: metricsserver.Options{
			BindAddress: metricsAddr,
		},
	})
	if err != nil {
		logger.Fatal("Unable to create manager", zap.Error(err))
	}

	// Register health checks
	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		logger.Fatal("Unable to set up health check", zap.Error(err))
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		logger.Fatal("Unable to set up readiness check", zap.Error(err))
	}

	ctx := ctrl.SetupSignalHandler()

	// A corrupt ledger is fatal: escalation decisions would be made on bad counts.
	ledg, err := bootstrap.OpenLedger(ctx, cfg.Ledger, logger)
	if err != nil {
		logger.Fatal("Failed to open ledger", zap.Error(err))
	}
	defer ledg.Close()

	// logger.Fatal exits without running defers; release the ledger first.
	fatal := func(msg string, err error) {
		if cerr := ledg.Close(); cerr != nil {
			logger.Error("Failed to close ledger", zap.Error(cerr))
		}
		logger.Fatal(msg, zap.Error(err))
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		fatal("Failed to create clientset", err)
	}

	collector, err := bootstrap.NewCollector(restCfg, clientset, cfg, logger)
	if err != nil {
		fatal("Failed to create collector", err)
	}

	watcher := config.NewWatcher(configPath, cfg, logger)
	watcher.OnReload(func(next *config.Config) {
		if changed := fileCfg.RestartRequired(next); len(changed) > 0 {
			logger.Warn("Configuration changes need a restart to apply", zap.Strings("sections", changed))
		}
	})

	registry := rules.DefaultRegistry()
	logger.Info("Rule registry initialized", zap.Int("rule_count", registry.Len()))

	deps := engine.Dependencies{
		Collector:  collector,
		Evaluator:  rules.NewEvaluator(registry),
		Ledger:     ledg,
		Executor:   executor.New(clientset, logger, executor.Options{DryRun: cfg.DryRun}),
		Metrics:    metrics.NewForController(),
		Namespaces: watcher.Namespaces,
	}

	var dispatcher *notifier.Dispatcher
	if cfg.Notifications.Enabled {
		opts := notifier.DefaultDispatcherOptions()
		opts.RateLimitPerMinute = cfg.Notifications.RateLimitPerMinute
		opts.SuppressDuplicateMinutes = cfg.Notifications.SuppressDuplicateMinutes
		if cfg.Notifications.Contact != "" {
			opts.Contact = cfg.Notifications.Contact
		}
		dispatcher = notifier.NewDispatcher(clientset, logger, opts)
		deps.Notifier = dispatcher
	}

	eng := engine.New(deps, logger, engine.Options{PassInterval: cfg.PassInterval.Duration})

	// Add runnable to start monitoring passes
	if err := mgr.Add(&runnableFunc{fn: eng.Start}); err != nil {
		fatal("Failed to add engine to manager", err)
	}

	// Add runnable to reload the namespace list. Runs on every replica.
	if err := mgr.Add(&runnableFunc{fn: watcher.Start, noLeaderElection: true}); err != nil {
		fatal("Failed to add config watcher to manager", err)
	}

	if dispatcher != nil {
		if err := mgr.Add(&runnableFunc{fn: dispatcher.Start}); err != nil {
			fatal("Failed to add dispatcher to manager", err)
		}
	}

	if apiAddr != "" {
		server := api.NewServer(apiAddr, ledg, eng.LastPass, logger)
		if err := mgr.Add(&runnableFunc{fn: server.Start}); err != nil {
			fatal("Failed to add ledger API to manager", err)
		}
	}

	// Start manager (blocks until context is cancelled)
	logger.Info("Starting manager")
	if err := mgr.Start(ctx); err != nil {
		fatal("Manager exited with error", err)
	}
}

// runnableFunc is a helper to convert a function to a controller-runtime Runnable.
type runnableFunc struct {
	fn               func(context.Context) error
	noLeaderElection bool
}

func (r *runnableFunc) Start(ctx context.Context) error {
	return r.fn(ctx)
}

// NeedLeaderElection implements manager.LeaderElectionRunnable.
func (r *runnableFunc) NeedLeaderElection() bool {
	return !r.noLeaderElection
}
