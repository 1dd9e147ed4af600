package tail

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// notifyDir watches dir and signals on writes and creates. The returned
// channel is buffered by one; bursts collapse into a single wake-up.
func notifyDir(ctx context.Context, dir string, logger *slog.Logger) <-chan struct{} {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, polling only", "err", err)
		return nil
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		logger.Warn("watch log directory, polling only", "dir", dir, "err", err)
		return nil
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Debug("fsnotify error", "err", err)
			}
		}
	}()
	return wake
}
