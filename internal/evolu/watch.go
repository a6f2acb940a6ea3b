package evolu

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// startStorageWatch watches the storage file's directory for writes this
// Engine did not itself perform (e.g. a sibling process restoring an
// exported snapshot into place while this process has it open), and
// reports them on Reloads() / to ReloadURL. Best-effort: an in-memory
// database or a watcher setup failure just leaves the feature off.
func (e *Engine) startStorageWatch() {
	if e.storagePath == "" || e.storagePath == ":memory:" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		e.log.Warn("evolu: storage watch disabled", "error", err)
		return
	}

	dir := filepath.Dir(e.storagePath)
	if err := watcher.Add(dir); err != nil {
		e.log.Warn("evolu: storage watch disabled", "dir", dir, "error", err)
		_ = watcher.Close()
		return
	}

	target := filepath.Clean(e.storagePath)
	ctx, cancel := context.WithCancel(context.Background())
	e.watchCancel = cancel

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				e.notifyReload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.log.Warn("evolu: storage watch error", "error", err)
			}
		}
	}()
}

func (e *Engine) stopStorageWatch() {
	if e.watchCancel != nil {
		e.watchCancel()
	}
}

// Reloads returns a channel that receives a value whenever an external
// write to the storage file is detected. Buffered to one slot: a burst of
// writes coalesces into a single pending signal.
func (e *Engine) Reloads() <-chan struct{} { return e.reloadCh }

func (e *Engine) notifyReload() {
	select {
	case e.reloadCh <- struct{}{}:
	default:
	}

	if e.reloadURL == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.reloadURL, bytes.NewReader(nil))
		if err != nil {
			e.log.Warn("evolu: build reload request failed", "error", err)
			return
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			e.log.Warn("evolu: reload notification failed", "url", e.reloadURL, "error", err)
			return
		}
		_ = resp.Body.Close()
	}()
}
