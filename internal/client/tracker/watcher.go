package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	DefaultIgnoreTimeout   = time.Second
	DefaultDebounceTimeout = 50 * time.Millisecond
	defaultCleanupInterval = 15 * time.Second
	eventBufferSize        = 256
)

// FilterFunc returns true for paths whose raw events should be dropped
type FilterFunc func(path string) bool

// Watcher turns raw filesystem notifications into settled paths. Each path is
// held back until no new event arrived for the debounce timeout.
type Watcher struct {
	root            string
	raw             chan notify.EventInfo
	settled         chan string
	debounceTimeout time.Duration
	cleanupInterval time.Duration
	filter          FilterFunc

	ignoreMu sync.Mutex
	ignore   map[string]time.Time

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

func NewWatcher(root string) *Watcher {
	return &Watcher{
		root:            root,
		debounceTimeout: DefaultDebounceTimeout,
		cleanupInterval: defaultCleanupInterval,
		ignore:          make(map[string]time.Time),
		timers:          make(map[string]*time.Timer),
		done:            make(chan struct{}),
	}
}

func (w *Watcher) SetDebounceTimeout(d time.Duration) {
	w.debounceTimeout = d
}

func (w *Watcher) SetCleanupInterval(d time.Duration) {
	w.cleanupInterval = d
}

// SetFilter must be called before Start
func (w *Watcher) SetFilter(fn FilterFunc) {
	w.filter = fn
}

func (w *Watcher) Start(ctx context.Context) error {
	w.raw = make(chan notify.EventInfo, eventBufferSize)
	w.settled = make(chan string, eventBufferSize)

	if err := notify.Watch(w.root+"/...", w.raw, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return err
	}
	slog.Info("watcher start", "root", w.root)

	w.wg.Add(2)
	go w.loop(ctx)
	go w.cleanup(ctx)
	return nil
}

func (w *Watcher) Stop() {
	select {
	case <-w.done:
		return
	default:
	}
	close(w.done)
	if w.raw != nil {
		notify.Stop(w.raw)
	}
	w.wg.Wait()
	slog.Info("watcher stopped", "root", w.root)
}

// Events yields absolute paths that settled. Closed after Stop.
func (w *Watcher) Events() <-chan string {
	return w.settled
}

// IgnoreOnce drops the next settled event for path
func (w *Watcher) IgnoreOnce(path string) {
	w.IgnoreOnceWithTimeout(path, DefaultIgnoreTimeout)
}

func (w *Watcher) IgnoreOnceWithTimeout(path string, timeout time.Duration) {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()
	w.ignore[path] = time.Now().Add(timeout)
}

func (w *Watcher) consumeIgnore(path string) bool {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()

	expiry, ok := w.ignore[path]
	if !ok {
		return false
	}
	delete(w.ignore, path)
	return time.Now().Before(expiry)
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		w.timersMu.Lock()
		for path, t := range w.timers {
			t.Stop()
			delete(w.timers, path)
		}
		w.timersMu.Unlock()
		close(w.settled)
		w.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.raw:
			if !ok {
				return
			}
			if w.filter != nil && w.filter(ev.Path()) {
				continue
			}
			w.debounce(ev.Path())
		}
	}
}

// inotify fires a burst of writes while a file is written,
// so every new event restarts the path's timer
func (w *Watcher) debounce(path string) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounceTimeout, func() {
		w.flush(path)
	})
}

func (w *Watcher) flush(path string) {
	w.timersMu.Lock()
	if _, ok := w.timers[path]; !ok {
		w.timersMu.Unlock()
		return
	}
	delete(w.timers, path)
	// sending under the lock keeps the send ahead of the close in loop
	defer w.timersMu.Unlock()

	if w.consumeIgnore(path) {
		slog.Debug("watcher ignored", "path", path)
		return
	}

	select {
	case w.settled <- path:
	default:
		slog.Warn("watcher dropped", "reason", "channel full", "path", path)
	}
}

func (w *Watcher) cleanup(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			now := time.Now()
			w.ignoreMu.Lock()
			for path, expiry := range w.ignore {
				if now.After(expiry) {
					delete(w.ignore, path)
				}
			}
			w.ignoreMu.Unlock()
		}
	}
}
