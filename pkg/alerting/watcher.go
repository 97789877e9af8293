package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/opspulse/opspulse/pkg/models"
)

// WatchOverrides watches a JSON file of rule patches (type -> RulePatch) and
// applies it through the validated update path whenever it changes. Invalid
// patches are logged and the previous configuration stays in effect. Editors
// often save via rename, so create events count as writes.
func (m *Manager) WatchOverrides(ctx context.Context, path string) error {
	if err := m.applyOverrideFile(path); err != nil {
		m.log.Warn("initial rule override load failed", zap.String("path", path), zap.Error(err))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	defer func() {
		_ = watcher.Close()
	}()

	// Watch the directory, not the file: editors that save via rename-replace
	// would otherwise take the watch away with the old inode.
	dir := filepath.Dir(path)

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	m.log.Info("watching rule overrides", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if err := m.applyOverrideFile(path); err != nil {
				m.log.Error("rule override reload failed, keeping previous rules",
					zap.String("path", path), zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			m.log.Error("rule override watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) applyOverrideFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read overrides: %w", err)
	}

	var patches map[string]models.RulePatch

	if err := json.Unmarshal(data, &patches); err != nil {
		return fmt.Errorf("failed to parse overrides: %w", err)
	}

	applied := 0

	for typ, patch := range patches {
		if err := m.UpdateRuleConfig(typ, patch); err != nil {
			m.log.Error("rule override rejected",
				zap.String("type", typ), zap.Error(err))

			continue
		}

		applied++
	}

	m.log.Info("rule overrides applied", zap.Int("applied", applied), zap.Int("total", len(patches)))

	return nil
}
