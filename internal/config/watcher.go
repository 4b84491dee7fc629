package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the configuration file when it changes. Only the
// namespace list is applied live; other fields need a restart.
type Watcher struct {
	path     string
	logger   *zap.Logger
	current  atomic.Pointer[Config]
	lastHash string
	onReload func(*Config)
}

// NewWatcher creates a Watcher starting from an already loaded config.
func NewWatcher(path string, initial *Config, logger *zap.Logger) *Watcher {
	w := &Watcher{
		path:   path,
		logger: logger.Named("config"),
	}
	w.current.Store(initial)
	w.lastHash, _ = hashFile(path)
	return w
}

// OnReload registers a callback run after each successful reload. Must be
// called before Start.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.onReload = fn
}

// Namespaces returns a copy of the active namespace list.
func (w *Watcher) Namespaces() []string {
	return slices.Clone(w.current.Load().Namespaces)
}

// Start watches the file's directory until ctx is cancelled. The directory
// is watched so that atomic renames, as done by ConfigMap volume updates,
// are seen.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.logger.Info("Watching configuration file", zap.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.Reload()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

// Reload re-reads the file if its content changed. An invalid file is
// logged and the previous configuration stays active. Reports whether a new
// configuration was applied.
func (w *Watcher) Reload() bool {
	hash, err := hashFile(w.path)
	if err != nil {
		w.logger.Warn("Failed to read configuration file", zap.Error(err))
		return false
	}
	if hash == w.lastHash {
		return false
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Invalid configuration, keeping previous", zap.Error(err))
		return false
	}
	w.lastHash = hash
	old := w.current.Swap(cfg)

	w.logger.Info("Configuration reloaded",
		zap.Strings("namespaces", cfg.Namespaces),
		zap.Int("previousNamespaces", len(old.Namespaces)),
	)
	if w.onReload != nil {
		w.onReload(cfg)
	}
	return true
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
