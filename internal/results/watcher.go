package results

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval is the fallback refresh period when fsnotify cannot watch
// the directory (missing directory, unsupported filesystem).
const pollInterval = 30 * time.Second

// Watch keeps the availability index current until ctx is canceled. It
// uses fsnotify on the results directory and falls back to periodic
// polling when that is not possible.
func (s *Store) Watch(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, polling results directory", "error", err)
	} else {
		defer w.Close() //nolint:errcheck
		if err := w.Add(s.dir); err != nil {
			s.logger.Warn("cannot watch results directory, polling instead",
				"path", s.dir, "error", err)
			_ = w.Close()
			w = nil
		}
	}

	// A nil watcher leaves these channels nil so they never fire.
	var eventCh <-chan fsnotify.Event
	var errCh <-chan error
	if w != nil {
		eventCh = w.Events
		errCh = w.Errors
		s.logger.Info("watching results directory", "path", s.dir)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			s.handleFSEvent(ev)

		case err, ok := <-errCh:
			if !ok {
				return
			}
			s.logger.Error("fsnotify error", "error", err)

		case <-ticker.C:
			s.Refresh()
		}
	}
}

func (s *Store) handleFSEvent(ev fsnotify.Event) {
	f, ok := s.formatForPath(ev.Name)
	if !ok {
		return
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		s.markAvailable(f, false)
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		s.markAvailable(f, err == nil && info.Mode().IsRegular())
	}
}
