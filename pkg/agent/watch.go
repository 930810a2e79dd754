package agent

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
)

func (a *Agent) startConfigWatcher(ctx context.Context) error {
	if !a.opts.watchConfig {
		return nil
	}

	path := a.opts.fileWatcherPath()
	if path == "" {
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return ewrap.Wrap(err, "resolve config path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return ewrap.Wrap(err, "create config watcher")
	}

	// Editors replace files by rename, so watch the directory.
	err = watcher.Add(filepath.Dir(abs))
	if err != nil {
		closeErr := watcher.Close()
		if closeErr != nil {
			a.logger.Error(ctx, closeErr, "close config watcher after add failure")
		}

		return ewrap.Wrap(err, "watch config directory")
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})

	go a.watchLoop(watchCtx, watcher, abs)

	return nil
}

func (a *Agent) stopConfigWatcher() {
	if a.watchCancel == nil {
		return
	}

	a.watchCancel()
	<-a.watchDone
}

func (a *Agent) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, target string) {
	defer close(a.watchDone)

	defer func() {
		err := watcher.Close()
		if err != nil {
			a.logger.Error(ctx, err, "close config watcher")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if event.Name != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			a.logger.Info(ctx, "configuration change detected", attribute.String("path", target))
			a.reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			a.logger.Error(ctx, err, "config watcher error")
		}
	}
}
