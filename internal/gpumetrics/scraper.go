// Package gpumetrics reads per-pod GPU utilisation from the cluster's Grafana
// GPU dashboard. Results are best effort: a namespace that cannot be read is
// simply absent and its pods keep an unknown GPU sample.
package gpumetrics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"

	"github.com/nautilusbot/nautilus/internal/types"
)

// PodGPU is one row of the namespace GPU dashboard.
type PodGPU struct {
	Namespace   string        `json:"namespace"`
	PodName     string        `json:"podName"`
	Model       string        `json:"model"`
	Requested   int           `json:"requested"`
	Utilization types.Percent `json:"utilization"`
}

// Source returns GPU rows per namespace.
type Source interface {
	Fetch(ctx context.Context, namespaces []string) map[string][]PodGPU
}

// NopSource reports no GPU data.
type NopSource struct{}

func (NopSource) Fetch(context.Context, []string) map[string][]PodGPU { return nil }

// Options configures the GrafanaScraper.
type Options struct {
	// BaseURL is the Grafana root, e.g. https://grafana.nrp-nautilus.io.
	BaseURL string
	// Dashboard is the dashboard path below /d/.
	Dashboard string
	// RowClass is the CSS class of dashboard table rows.
	RowClass string
	// Retries is the number of attempts per namespace.
	Retries int
	// Timeout bounds a single page load.
	Timeout time.Duration
	// RetryInterval is the first backoff; it doubles up to MaxRetryInterval.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
	// BrowserBin overrides the Chromium binary. Empty lets rod download or find one.
	BrowserBin string
}

// DefaultOptions returns options for the Nautilus Grafana instance.
func DefaultOptions() Options {
	return Options{
		BaseURL:          "https://grafana.nrp-nautilus.io",
		Dashboard:        "dRG9q0Ymz/k8s-compute-resources-namespace-gpus",
		RowClass:         DefaultRowClass,
		Retries:          2,
		Timeout:          60 * time.Second,
		RetryInterval:    5 * time.Second,
		MaxRetryInterval: 30 * time.Second,
	}
}

// pageLoader renders a URL and returns the page HTML once an element with
// waitClass is present.
type pageLoader interface {
	Load(ctx context.Context, url, waitClass string) (string, error)
	Close() error
}

// GrafanaScraper drives a headless browser over the Grafana GPU dashboard.
type GrafanaScraper struct {
	opts      Options
	logger    *zap.Logger
	newLoader func() (pageLoader, error)
}

// NewGrafanaScraper creates a scraper. The browser is started per Fetch call
// and closed when it returns.
func NewGrafanaScraper(logger *zap.Logger, opts Options) *GrafanaScraper {
	s := &GrafanaScraper{
		opts:   opts,
		logger: logger.Named("gpumetrics"),
	}
	s.newLoader = func() (pageLoader, error) {
		l, err := launchRod(opts.BrowserBin)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return s
}

// DashboardURL returns the dashboard URL for namespace.
func (s *GrafanaScraper) DashboardURL(namespace string) string {
	q := url.Values{}
	q.Set("orgId", "1")
	q.Set("var-namespace", namespace)
	return fmt.Sprintf("%s/d/%s?%s", strings.TrimRight(s.opts.BaseURL, "/"), s.opts.Dashboard, q.Encode())
}

// Fetch implements Source.
func (s *GrafanaScraper) Fetch(ctx context.Context, namespaces []string) map[string][]PodGPU {
	if len(namespaces) == 0 {
		return nil
	}

	loader, err := s.newLoader()
	if err != nil {
		s.logger.Error("Failed to start browser", zap.Error(err))
		return nil
	}
	defer func() {
		if err := loader.Close(); err != nil {
			s.logger.Warn("Failed to close browser", zap.Error(err))
		}
	}()

	out := make(map[string][]PodGPU, len(namespaces))
	for _, ns := range namespaces {
		d, err := s.scrapeNamespace(ctx, loader, ns)
		if err != nil {
			s.logger.Warn("Failed to scrape namespace GPU metrics",
				zap.String("namespace", ns),
				zap.Error(err),
			)
			continue
		}
		out[ns] = d.Pods
		s.logger.Debug("Scraped namespace GPU metrics",
			zap.String("namespace", ns),
			zap.Int("pods", len(d.Pods)),
			zap.String("current_usage", d.CurrentUsage),
		)
	}
	return out
}

func (s *GrafanaScraper) scrapeNamespace(ctx context.Context, loader pageLoader, ns string) (*Dashboard, error) {
	target := s.DashboardURL(ns)
	retries := max(1, s.opts.Retries)
	interval := s.opts.RetryInterval

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		d, err := s.attempt(ctx, loader, target, ns)
		if err == nil {
			return d, nil
		}
		lastErr = err
		if attempt == retries {
			break
		}

		s.logger.Debug("Retrying namespace scrape",
			zap.String("namespace", ns),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", interval),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
			interval = s.nextRetryInterval(interval)
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", retries, lastErr)
}

func (s *GrafanaScraper) attempt(ctx context.Context, loader pageLoader, target, ns string) (*Dashboard, error) {
	loadCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	content, err := loader.Load(loadCtx, target, s.opts.RowClass)
	if err != nil {
		return nil, err
	}
	d, err := ParseDashboard(strings.NewReader(content), ns, s.opts.RowClass)
	if err != nil {
		return nil, err
	}
	if len(d.Pods) == 0 {
		return nil, fmt.Errorf("no rows found")
	}
	return d, nil
}

// nextRetryInterval doubles the interval up to MaxRetryInterval.
func (s *GrafanaScraper) nextRetryInterval(current time.Duration) time.Duration {
	next := current * 2
	if s.opts.MaxRetryInterval > 0 && next > s.opts.MaxRetryInterval {
		return s.opts.MaxRetryInterval
	}
	return next
}

// rodLoader renders pages with a headless Chromium.
type rodLoader struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func launchRod(bin string) (*rodLoader, error) {
	l := launcher.New().
		Set("no-sandbox", "").
		Set("disable-dev-shm-usage", "").
		Set("disable-gpu", "").
		Headless(true)
	if bin != "" {
		l = l.Bin(bin)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	return &rodLoader{launcher: l, browser: browser}, nil
}

func (r *rodLoader) Load(ctx context.Context, target, waitClass string) (string, error) {
	var page *rod.Page
	err := rod.Try(func() {
		page = r.browser.MustPage()
	})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx)
	if err := page.Navigate(target); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", target, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait for load: %w", err)
	}
	if _, err := page.Element("." + waitClass); err != nil {
		return "", fmt.Errorf("wait for rows: %w", err)
	}
	return page.HTML()
}

func (r *rodLoader) Close() error {
	err := r.browser.Close()
	r.launcher.Cleanup()
	return err
}
