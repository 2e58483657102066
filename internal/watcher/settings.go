package watcher

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dfaust/backup-monitor/internal/domain"
)

// SettingsWatcher emits ReloadRequested when the settings file is modified
// on disk, debounced against editor write bursts.
type SettingsWatcher struct {
	path     string
	emitter  Emitter
	debounce time.Duration
}

func NewSettingsWatcher(path string, emitter Emitter) *SettingsWatcher {
	return &SettingsWatcher{
		path:     path,
		emitter:  emitter,
		debounce: DefaultDebounce,
	}
}

// Run watches until the context is done. Watch failures are logged and the
// watcher exits; manual reloads via the command interface still work.
func (w *SettingsWatcher) Run(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("settings-watcher: watch unavailable: %v", err)
		return
	}
	defer fsw.Close()

	// Watch the directory, not the file: editors and the atomic save in
	// the settings store replace the file, which drops a direct watch.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		log.Printf("settings-watcher: watch %s: %v", filepath.Dir(w.path), err)
		return
	}

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.debounce)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(w.debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Printf("settings-watcher: %v", err)
		case <-debounceC:
			debounce = nil
			debounceC = nil
			if err := w.emitter.Emit(ctx, domain.ReloadRequested{}); err != nil {
				log.Printf("settings-watcher: emit failed: %v", err)
			}
		}
	}
}
