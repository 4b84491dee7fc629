package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/nautilusbot/nautilus/internal/config"
	"github.com/nautilusbot/nautilus/internal/gpumetrics"
	"github.com/nautilusbot/nautilus/internal/types"
)

func TestOpenLedger_Badger(t *testing.T) {
	ctx := context.Background()
	cfg := config.Ledger{Backend: config.BackendBadger, Path: filepath.Join(t.TempDir(), "ledger")}
	id := types.Identity{Kind: types.KindJob, UID: "j1", Namespace: "gilpin-lab", Name: "etl"}

	l, err := OpenLedger(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = l.RecordViolations(ctx, id, []types.Violation{types.NewViolation(types.ReasonJobFailed, "failed")})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = OpenLedger(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer l.Close()
	n, err := l.LifetimeCount(ctx, "j1", types.ReasonJobFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenLedger_UnknownBackend(t *testing.T) {
	_, err := OpenLedger(context.Background(), config.Ledger{Backend: "sqlite"}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNewGPUSource(t *testing.T) {
	logger := zaptest.NewLogger(t)

	assert.IsType(t, gpumetrics.NopSource{}, NewGPUSource(config.GPUMetrics{}, logger))

	src := NewGPUSource(config.GPUMetrics{
		Enabled:    true,
		GrafanaURL: "https://grafana.example.org",
		Dashboard:  "abc/gpus",
		Retries:    1,
		Timeout:    metav1.Duration{Duration: 5 * time.Second},
	}, logger)
	scraper, ok := src.(*gpumetrics.GrafanaScraper)
	require.True(t, ok)
	assert.Equal(t, "https://grafana.example.org/d/abc/gpus?orgId=1&var-namespace=gilpin-lab", scraper.DashboardURL("gilpin-lab"))
}
