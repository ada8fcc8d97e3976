// Package watcher reports CSV files that change in a set of directories.
package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/hpungsan/mend/internal/observability"
)

// DefaultInclude matches the files watched when no pattern is given.
const DefaultInclude = "*.{csv,tsv}"

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	Include  string   // glob over base names, default "*.{csv,tsv}"
	Exclude  []string // globs over base names
	Logger   *zap.Logger
}

// Watcher coalesces file events per debounce window and calls onChange
// with the files whose content changed since they were last reported.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	include   glob.Glob
	exclude   []glob.Glob
	log       *zap.Logger

	onChange   func([]string)
	callbackMu sync.Mutex

	pending   map[string]struct{}
	hashes    map[string]string
	pendingMu sync.Mutex
	timer     *time.Timer
	closed    bool

	started bool
	done    chan struct{}
}

// New creates a Watcher. Call Watch to start it and Close to stop it.
func New(opts Options, onChange func([]string)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("watcher: onChange is required")
	}
	pattern := opts.Include
	if pattern == "" {
		pattern = DefaultInclude
	}
	include, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
	}
	exclude := make([]glob.Glob, 0, len(opts.Exclude))
	for _, p := range opts.Exclude {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		exclude = append(exclude, g)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsw,
		debounce:  opts.Debounce,
		include:   include,
		exclude:   exclude,
		log:       log,
		onChange:  onChange,
		pending:   make(map[string]struct{}),
		hashes:    make(map[string]string),
		done:      make(chan struct{}),
	}, nil
}

// Watch starts watching files directly in dirs. Matching files that already
// exist are fingerprinted so only later changes are reported.
func (w *Watcher) Watch(dirs []string) error {
	for _, dir := range dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			if !e.Type().IsRegular() || !w.Matches(path) {
				continue
			}
			if sum, err := fingerprint(path); err == nil {
				w.hashes[path] = sum
			}
		}
	}

	w.started = true
	go w.run()
	return nil
}

// Matches reports whether path passes the include and exclude filters.
func (w *Watcher) Matches(path string) bool {
	base := filepath.Base(path)
	if !w.include.Match(base) {
		return false
	}
	for _, g := range w.exclude {
		if g.Match(base) {
			return false
		}
	}
	return true
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()
			if !w.Matches(event.Name) {
				continue
			}

			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
				w.scheduleChange(event.Name)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.forget(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) scheduleChange(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if w.closed {
		return
	}
	w.pending[path] = struct{}{}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flushChanges)
}

func (w *Watcher) forget(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	delete(w.pending, path)
	delete(w.hashes, path)
}

// flushChanges reports pending files whose content hash moved.
func (w *Watcher) flushChanges() {
	w.pendingMu.Lock()
	candidates := make([]string, 0, len(w.pending))
	for path := range w.pending {
		candidates = append(candidates, path)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	var changed []string
	for _, path := range candidates {
		sum, err := fingerprint(path)
		if err != nil {
			w.log.Debug("skipping unreadable file", zap.String("path", path), zap.Error(err))
			continue
		}
		w.pendingMu.Lock()
		if w.hashes[path] != sum {
			w.hashes[path] = sum
			changed = append(changed, path)
		}
		w.pendingMu.Unlock()
	}

	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	if w.isClosed() {
		return
	}
	w.onChange(changed)
}

func (w *Watcher) isClosed() bool {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	return w.closed
}

// Close stops the watcher and waits for its event loop and any callback in
// progress to finish. No callback starts after Close returns.
func (w *Watcher) Close() error {
	w.pendingMu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pendingMu.Unlock()

	// Wait for a running callback.
	w.callbackMu.Lock()
	w.callbackMu.Unlock() //nolint:staticcheck

	err := w.fsWatcher.Close()
	if w.started {
		<-w.done
	}
	return err
}

func fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
