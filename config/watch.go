package config

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"chatrelay/internal/retry"
	"chatrelay/util"
)

// watchDebounce collapses the burst of events an editor produces when
// saving into a single reload.
const watchDebounce = 250 * time.Millisecond

// Watch calls reload whenever the content of the file at path changes,
// until ctx is done.  The parent directory is watched rather than the
// file so that editors which save by rename are still seen.  If the
// underlying watcher breaks it is recreated with back-off.
func Watch(ctx context.Context, path string, logger *util.Logger, reload func()) error {
	dir := filepath.Dir(path)
	file := filepath.Base(path)
	restart := &retry.Backoff{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}

	var (
		mu       sync.Mutex
		timer    *time.Timer
		lastHash = hashFile(path)
	)
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			h := hashFile(path)
			mu.Lock()
			unchanged := h != 0 && h == lastHash
			lastHash = h
			mu.Unlock()
			if unchanged || ctx.Err() != nil {
				return
			}
			logger.Verbose("config file %s changed; reloading", path)
			reload()
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for failures := 0; ; {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				w.Close() //nolint:errcheck
			}
		}
		if err != nil {
			failures++
			logger.Warn("config watch on %s failed: %v", dir, err)
			if retry.Sleep(ctx, restart.Delay(failures)) != nil {
				return nil
			}
			continue
		}
		failures = 0
		logger.Debug("watching %s for changes to %s", dir, file)

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				w.Close() //nolint:errcheck
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if filepath.Base(ev.Name) == file &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					schedule()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				logger.Warn("config watch: %v", err)
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					schedule()
				}
			}
		}

		w.Close() //nolint:errcheck
		failures++
		logger.Warn("config watcher stopped; restarting")
		if retry.Sleep(ctx, restart.Delay(failures)) != nil {
			return nil
		}
	}
}

// hashFile returns an FNV-1a hash of the file content, or 0 when it
// cannot be read (for example mid-rename).
func hashFile(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	h.Write(data) //nolint:errcheck
	return h.Sum64()
}
