// Package bootstrap builds the long-lived components shared by the controller
// and the CLI from a loaded configuration.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/nautilusbot/nautilus/internal/config"
	"github.com/nautilusbot/nautilus/internal/gpumetrics"
	"github.com/nautilusbot/nautilus/internal/inventory"
	"github.com/nautilusbot/nautilus/internal/ledger"
	badgerstore "github.com/nautilusbot/nautilus/internal/storage/badger"
)

// OpenLedger opens the configured ledger backend and verifies its contents.
func OpenLedger(ctx context.Context, cfg config.Ledger, logger *zap.Logger) (*ledger.Ledger, error) {
	var store ledger.Store
	switch cfg.Backend {
	case config.BackendMySQL:
		s, err := ledger.OpenSQLStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		store = s
	case config.BackendBadger, "":
		dbCfg := badgerstore.DefaultConfig()
		dbCfg.Path = cfg.Path
		dbCfg.Logger = logger
		db, err := badgerstore.Open(dbCfg)
		if err != nil {
			return nil, err
		}
		store = ledger.NewBadgerStore(db)
	default:
		return nil, fmt.Errorf("%w: unknown ledger backend %q", config.ErrInvalid, cfg.Backend)
	}

	l, err := ledger.Open(ctx, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return l, nil
}

// NewGPUSource returns the Grafana scraper when enabled, otherwise a source
// that reports no GPU data.
func NewGPUSource(cfg config.GPUMetrics, logger *zap.Logger) gpumetrics.Source {
	if !cfg.Enabled {
		return gpumetrics.NopSource{}
	}
	opts := gpumetrics.DefaultOptions()
	opts.BaseURL = cfg.GrafanaURL
	opts.Dashboard = cfg.Dashboard
	opts.Retries = cfg.Retries
	if cfg.Timeout.Duration > 0 {
		opts.Timeout = cfg.Timeout.Duration
	}
	return gpumetrics.NewGrafanaScraper(logger, opts)
}

// NewCollector builds the inventory collector over the cluster and
// metrics-server APIs.
func NewCollector(restCfg *rest.Config, clientset kubernetes.Interface, cfg *config.Config, logger *zap.Logger) (*inventory.Collector, error) {
	mc, err := metricsclient.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create metrics client: %w", err)
	}
	return inventory.NewCollector(
		clientset,
		inventory.NewMetricsSampler(mc),
		NewGPUSource(cfg.GPUMetrics, logger),
		logger,
		inventory.DefaultOptions(),
	), nil
}
