package config

import (
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds the live Config and reloads it whenever the backing
// file changes on disk. Only code that reads through Current sees a
// reloaded value; see Config for which fields the engine reads.
type Watcher struct {
	path    string
	log     *slog.Logger
	current atomic.Pointer[Config]
	fsw     *fsnotify.Watcher
}

// NewWatcher loads path once and starts watching its directory for
// writes. Editors that replace a file (write a temp file then rename
// over it) still trigger a reload, since fsnotify reports both Write
// and Create events on the watched path.
func NewWatcher(path string, log *slog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{path: path, log: log, fsw: fsw}
	w.current.Store(cfg)

	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Error("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	w.current.Store(cfg)
	w.log.Info("config reloaded", "path", w.path)
}

// Current returns the most recently loaded Config. Safe for
// concurrent use; callers should re-call it rather than cache the
// result across a reload boundary.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}
