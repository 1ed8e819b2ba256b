package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReapInterval is how often Watch runs a full reconcile pass when the
// filesystem stays quiet.
const DefaultReapInterval = 30 * time.Second

// Watch keeps the registry reconciled until the context is cancelled. It
// reacts to changes in the state directory (external deletion or creation of
// record files, e.g. manual cleanup or another process creating tunnels) and
// additionally runs a periodic reaper pass so stale records are pruned even
// when no filesystem event fires.
func (m *Manager) Watch(ctx context.Context, reapInterval time.Duration) error {
	if reapInterval <= 0 {
		reapInterval = DefaultReapInterval
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create state watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.store.Dir()); err != nil {
		return fmt.Errorf("failed to watch state directory: %w", err)
	}

	m.reconcile()
	slog.Info("Watching tunnel state",
		"dir", m.store.Dir(),
		"reap_interval", reapInterval)

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				slog.Debug("Tunnel state changed on disk", "event", event.String())
				m.reconcile()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("State watcher error", "error", err)
		case <-ticker.C:
			m.reconcile()
		}
	}
}
