package ouconfig

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/cmu-db/oucore/internal/telemetrylog"
)

// Watch re-reads filename whenever it changes on disk and invokes onChange
// with the freshly validated config - an fsnotify watch rather than a
// SIGHUP handler, since executor_sampling_rate and the capture gates are
// meant to be editable without restarting the coordinator. Watch blocks
// until ctx is done.
func Watch(ctx context.Context, logger *telemetrylog.Logger, filename string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filename); err != nil {
		logger.PrintWarning("ouconfig: could not watch %s: %s", filename, err)
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			conf, err := Read(logger, filename)
			if err != nil {
				logger.PrintWarning("ouconfig: reload of %s failed, keeping previous config: %s", filename, err)
				continue
			}
			onChange(conf)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.PrintWarning("ouconfig: watch error: %s", err)
		}
	}
}
