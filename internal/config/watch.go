package config

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("aitt/config")

// Watch re-Loads and re-Validates path on every write event, pushing
// successfully validated configs to the returned channel. An invalid
// rewrite (mid-save, or a typo) is logged and skipped — the channel never
// receives a config that failed Validate(). Watch only delivers the
// reloaded values: nothing in this module consumes the channel, and a
// running Client or Engine keeps the configuration it was created with.
func Watch(ctx context.Context, path string) (<-chan Config, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	out := make(chan Config, 1)
	go func() {
		defer w.Close()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Warnw("config: reload failed, keeping previous config", "path", path, "err", err)
					continue
				}
				select {
				case out <- cfg:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnw("config: watcher error", "err", err)
			}
		}
	}()
	return out, nil
}
