package configfile

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange with the newly parsed File whenever the file at
// path is written or replaced. It watches the parent directory, so atomic
// saves (write temp, rename over) are seen. A file that fails to parse is
// logged and skipped; the previous values stay in effect. Watch blocks
// until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(File)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	slog.Info("configfile: watching for changes", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			f, err := Load(abs)
			if err != nil {
				slog.Error("configfile: reload failed, keeping previous config",
					"path", abs, "err", err)
				continue
			}

			slog.Info("configfile: reloaded", "path", abs)
			onChange(f)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("configfile: watcher error", "err", err)
		}
	}
}
