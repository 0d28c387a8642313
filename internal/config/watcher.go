package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fileStamp is the cheap pre-check before a file is read and hashed.
type fileStamp struct {
	size  int64
	mtime time.Time
}

// Watcher reloads the config file when it changes. Edits that fail to parse
// or validate are logged and the last good config stays current; use [Diff]
// in the callback to apply what can change at runtime.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// reload serialises Reload between the poll loop and SIGHUP.
	reload sync.Mutex

	mu      sync.RWMutex
	current *Config
	stamp   fileStamp
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often [Watcher.Run] checks the file. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a watcher that calls onChange with
// the previous and the new config after every effective edit. Polling starts
// with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, o := range opts {
		o(w)
	}
	cfg, stamp, sum, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.stamp, w.sum = cfg, stamp, sum
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run polls the file until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.Reload(false); err != nil {
				slog.Warn("config reload failed, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file and reports whether the content changed. Unless
// force is set, a file whose size and mtime are unchanged is not read. A
// changed but invalid file returns the load error.
func (w *Watcher) Reload(force bool) (bool, error) {
	w.reload.Lock()
	defer w.reload.Unlock()

	w.mu.RLock()
	prevStamp, prevSum, old := w.stamp, w.sum, w.current
	w.mu.RUnlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return false, err
		}
		if (fileStamp{size: info.Size(), mtime: info.ModTime()}) == prevStamp {
			return false, nil
		}
	}

	cfg, stamp, sum, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	w.stamp = stamp
	changed := sum != prevSum
	if changed {
		w.current, w.sum = cfg, sum
	}
	w.mu.Unlock()

	if !changed {
		return false, nil
	}
	slog.Info("configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

func (w *Watcher) read() (*Config, fileStamp, [sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, sum, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, sum, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, sum, err
	}
	return cfg, fileStamp{size: info.Size(), mtime: info.ModTime()}, sha256.Sum256(data), nil
}
