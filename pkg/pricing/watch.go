package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces bursts of writes from editors and deploy tools.
const reloadDelay = 250 * time.Millisecond

// Watch reloads the catalog from dir whenever a pricing file changes, until
// ctx is cancelled. A failed reload is logged and the previous catalog stays
// published.
func Watch(ctx context.Context, dir string, catalog *Catalog, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create pricing watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch pricing dir %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(ev.Name) != ".yaml" {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDelay, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				if err := catalog.LoadDir(dir); err != nil {
					logger.Error("reload pricing", "dir", dir, "error", err)
					continue
				}
				logger.Info("pricing reloaded", "dir", dir, "models", catalog.Len())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("pricing watcher error", "error", err)
			}
		}
	}()

	return nil
}
