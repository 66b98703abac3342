package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dskvich/gemini-telegram-bot/pkg/logger"
)

const reloadDebounce = 250 * time.Millisecond

// watcher reloads the snapshot whenever the config file or a prompt changes.
// A broken edit is logged and the previous snapshot stays in place.
type watcher struct {
	path       string
	promptsDir string
	holder     *Holder
	debounce   time.Duration
}

func NewWatcher(path, promptsDir string, holder *Holder) (*watcher, error) {
	if holder == nil || holder.Current() == nil {
		return nil, fmt.Errorf("watcher needs a loaded snapshot")
	}
	return &watcher{
		path:       path,
		promptsDir: promptsDir,
		holder:     holder,
		debounce:   reloadDebounce,
	}, nil
}

func (w *watcher) Name() string { return "config_watcher" }

func (w *watcher) Start(ctx context.Context) error {
	slog.Info("Starting worker", "name", w.Name())
	defer slog.Info("Worker stopped", "name", w.Name())

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fs watcher: %w", err)
	}
	defer fw.Close()

	// Directories are watched since editors often replace files by rename.
	for _, dir := range []string{filepath.Dir(w.path), w.promptsDir} {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("config watcher error", logger.Err(err))
		case <-timer.C:
			w.Reload()
		}
	}
}

func (w *watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	if filepath.Clean(event.Name) == filepath.Clean(w.path) {
		return true
	}
	return filepath.Dir(event.Name) == filepath.Clean(w.promptsDir) && filepath.Ext(event.Name) == promptExt
}

// Reload loads a fresh snapshot and publishes it if it is valid.
func (w *watcher) Reload() bool {
	s, err := Load(w.path, w.promptsDir)
	if err != nil {
		slog.Error("config reload failed, keeping previous snapshot", logger.Err(err))
		return false
	}
	w.holder.Replace(s)
	slog.Info("config reloaded",
		"model", s.ModelName,
		"system_prompt", s.SystemPromptRef,
		"prompts", len(s.Prompts),
		"allowed_users", len(s.AllowedUsers),
	)
	return true
}
