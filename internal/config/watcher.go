package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultWatchInterval = 5 * time.Second

// Watcher re-reads a config file on a fixed interval and on [Watcher.Reload].
// When the file content changed and still validates, onChange is called from
// the watcher goroutine with the previous and the new config. An invalid edit
// is logged once and the last good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	load     func(path string) (*Config, error)
	onChange func(old, next *Config)

	current atomic.Pointer[Config]
	sum     [sha256.Size]byte // last examined content; owned by run

	reload   chan struct{}
	quit     chan struct{}
	finished chan struct{}
	stop     sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLoader replaces [Load], e.g. to skip the environment overlay in tests.
func WithLoader(load func(path string) (*Config, error)) WatcherOption {
	return func(w *Watcher) { w.load = load }
}

// NewWatcher loads path and starts watching it. onChange may be nil.
func NewWatcher(path string, onChange func(old, next *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		load:     Load,
		onChange: onChange,
		reload:   make(chan struct{}, 1),
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := w.load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current.Store(cfg)
	w.sum = sha256.Sum256(raw)

	go w.run()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Reload asks the watcher to load the file now, even if its content is
// unchanged, so that changed environment overrides are picked up. It does not
// wait for the reload.
func (w *Watcher) Reload() {
	select {
	case w.reload <- struct{}{}:
	default:
	}
}

// Stop ends watching and waits for a running onChange to return. Repeated
// calls are no-ops.
func (w *Watcher) Stop() {
	w.stop.Do(func() { close(w.quit) })
	<-w.finished
}

func (w *Watcher) run() {
	defer close(w.finished)
	tick := time.NewTicker(w.interval)
	defer tick.Stop()
	for {
		select {
		case <-w.quit:
			return
		case <-tick.C:
			w.refresh(false)
		case <-w.reload:
			w.refresh(true)
		}
	}
}

func (w *Watcher) refresh(force bool) {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config watcher: read failed", "path", w.path, "err", err)
		return
	}
	sum := sha256.Sum256(raw)
	if !force && sum == w.sum {
		return
	}
	w.sum = sum

	next, err := w.load(w.path)
	if err != nil {
		slog.Warn("config watcher: invalid config, keeping previous", "path", w.path, "err", err)
		return
	}
	prev := w.current.Swap(next)
	slog.Info("config watcher: reloaded", "path", w.path, "forced", force)
	if w.onChange != nil {
		w.onChange(prev, next)
	}
}
