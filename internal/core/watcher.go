package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDelay is how long the watcher waits after the last change
// before reloading, so an editor's write-rename sequence reloads once.
const DefaultReloadDelay = 250 * time.Millisecond

// Watcher reloads the mapping directory when a mapping file changes.
// A reload that fails keeps the previously registered mappings.
type Watcher struct {
	svc   *Service
	dir   string
	skip  []string
	delay time.Duration

	fs       *fsnotify.Watcher
	reloaded chan error
}

// NewWatcher watches dir for changes. Files in skip are ignored.
func NewWatcher(svc *Service, dir string, skip ...string) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		svc:   svc,
		dir:   dir,
		skip:  skip,
		delay: DefaultReloadDelay,
		fs:    fs,
	}, nil
}

// Reloaded returns a channel that receives the result of every reload.
// Must be called before Run. Sends are dropped when nobody is receiving.
func (w *Watcher) Reloaded() <-chan error {
	if w.reloaded == nil {
		w.reloaded = make(chan error, 1)
	}
	return w.reloaded
}

// Run processes file events until ctx is done. It closes the watcher on
// return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	timer := time.NewTimer(w.delay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	log := slog.With("dir", w.dir)
	log.Info("watching mappings")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !IsMappingFile(ev.Name) || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			log.Debug("mapping file changed", "file", ev.Name, "op", ev.Op.String())
			timer.Reset(w.delay)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "error", err)

		case <-timer.C:
			err := w.svc.ReloadMappings(w.dir, w.skip...)
			if err != nil {
				log.Error("mapping reload failed, keeping previous mappings", "error", err)
			}
			if w.reloaded != nil {
				select {
				case w.reloaded <- err:
				default:
				}
			}
		}
	}
}
