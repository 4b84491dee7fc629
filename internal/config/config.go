// Package config loads the Nautilus controller configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Ledger backends.
const (
	BackendBadger = "badger"
	BackendMySQL  = "mysql"
)

// Config is the controller configuration.
type Config struct {
	// Namespaces to monitor.
	Namespaces   []string        `json:"namespaces"`
	PassInterval metav1.Duration `json:"passInterval"`
	// DryRun sends every mutating call with dry-run set.
	DryRun        bool          `json:"dryRun"`
	Ledger        Ledger        `json:"ledger"`
	GPUMetrics    GPUMetrics    `json:"gpuMetrics"`
	Notifications Notifications `json:"notifications"`
}

// Ledger selects the ledger store.
type Ledger struct {
	Backend string `json:"backend"`
	Path    string `json:"path,omitempty"`
	DSN     string `json:"dsn,omitempty"`
}

// GPUMetrics configures the Grafana GPU scraper.
type GPUMetrics struct {
	Enabled    bool            `json:"enabled"`
	GrafanaURL string          `json:"grafanaURL,omitempty"`
	Dashboard  string          `json:"dashboard,omitempty"`
	Retries    int             `json:"retries"`
	Timeout    metav1.Duration `json:"timeout"`
}

// Notifications configures Event dispatch.
type Notifications struct {
	Enabled                  bool   `json:"enabled"`
	RateLimitPerMinute       int    `json:"rateLimitPerMinute"`
	SuppressDuplicateMinutes int    `json:"suppressDuplicateMinutes"`
	Contact                  string `json:"contact,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		PassInterval: metav1.Duration{Duration: time.Hour},
		Ledger: Ledger{
			Backend: BackendBadger,
			Path:    "/var/lib/nautilus/ledger",
		},
		GPUMetrics: GPUMetrics{
			GrafanaURL: "https://grafana.nrp-nautilus.io",
			Dashboard:  "dRG9q0Ymz/k8s-compute-resources-namespace-gpus",
			Retries:    2,
			Timeout:    metav1.Duration{Duration: 60 * time.Second},
		},
		Notifications: Notifications{
			Enabled:                  true,
			RateLimitPerMinute:       100,
			SuppressDuplicateMinutes: 60,
		},
	}
}

// Load reads and validates the file at path. Fields missing from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML or JSON configuration.
func Parse(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalid)
	}
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RestartRequired lists the sections of next that differ from c and only
// take effect after a restart. Namespaces are applied live and never listed.
func (c *Config) RestartRequired(next *Config) []string {
	var changed []string
	if c.PassInterval != next.PassInterval {
		changed = append(changed, "passInterval")
	}
	if c.DryRun != next.DryRun {
		changed = append(changed, "dryRun")
	}
	if c.Ledger != next.Ledger {
		changed = append(changed, "ledger")
	}
	if c.GPUMetrics != next.GPUMetrics {
		changed = append(changed, "gpuMetrics")
	}
	if c.Notifications != next.Notifications {
		changed = append(changed, "notifications")
	}
	return changed
}

// Validate checks the configuration for values the controller cannot run with.
func (c *Config) Validate() error {
	if len(c.Namespaces) == 0 {
		return fmt.Errorf("%w: at least one namespace is required", ErrInvalid)
	}
	seen := make(map[string]bool, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		if ns == "" {
			return fmt.Errorf("%w: empty namespace name", ErrInvalid)
		}
		if seen[ns] {
			return fmt.Errorf("%w: namespace %q listed twice", ErrInvalid, ns)
		}
		seen[ns] = true
	}
	if c.PassInterval.Duration < time.Minute {
		return fmt.Errorf("%w: passInterval %s is below 1m", ErrInvalid, c.PassInterval.Duration)
	}

	switch c.Ledger.Backend {
	case BackendBadger:
		if c.Ledger.Path == "" {
			return fmt.Errorf("%w: ledger.path is required for the badger backend", ErrInvalid)
		}
	case BackendMySQL:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("%w: ledger.dsn is required for the mysql backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", ErrInvalid, c.Ledger.Backend)
	}

	if c.GPUMetrics.Enabled {
		if c.GPUMetrics.GrafanaURL == "" || c.GPUMetrics.Dashboard == "" {
			return fmt.Errorf("%w: gpuMetrics.grafanaURL and gpuMetrics.dashboard are required", ErrInvalid)
		}
		if c.GPUMetrics.Retries < 0 {
			return fmt.Errorf("%w: gpuMetrics.retries must not be negative", ErrInvalid)
		}
	}

	if c.Notifications.Enabled && c.Notifications.RateLimitPerMinute <= 0 {
		return fmt.Errorf("%w: notifications.rateLimitPerMinute must be positive", ErrInvalid)
	}
	return nil
}
