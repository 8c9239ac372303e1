// Package watcher reloads module scripts when their files change.
//
// A reload swaps the module's handler set in place: its users are
// disabled, the old handler set is unregistered, the new one registered
// and the users enabled again with a hot remount, so state survives and
// the module sees $remounted. A script that fails to load leaves the
// running version untouched.
package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/dshills/flowstate/internal/script"
	"github.com/dshills/flowstate/internal/store"
)

// ErrRunning is returned by Start on a watcher that is already running.
var ErrRunning = errors.New("watcher already running")

// Op is a file operation seen by the watcher.
type Op int

const (
	// OpWrite indicates the file was modified.
	OpWrite Op = iota

	// OpCreate indicates a new file was created.
	OpCreate

	// OpRemove indicates the file was deleted.
	OpRemove

	// OpRename indicates the file was renamed away.
	OpRename
)

// String returns the operation name.
func (op Op) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event is a debounced change to one script.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Result reports the outcome of handling an event.
type Result struct {
	Path   string
	Module string
	Op     Op
	Err    error
}

// Metrics records reload outcomes.
type Metrics interface {
	ReloadSucceeded()
	ReloadFailed()
}

type nopMetrics struct{}

func (nopMetrics) ReloadSucceeded() {}
func (nopMetrics) ReloadFailed()    {}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before it is reloaded.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// WithMetrics records reload outcomes in m.
func WithMetrics(m Metrics) Option {
	return func(w *Watcher) {
		if m != nil {
			w.metrics = m
		}
	}
}

// OnReload registers fn to be called after every handled event.
func OnReload(fn func(Result)) Option {
	return func(w *Watcher) {
		w.listeners = append(w.listeners, fn)
	}
}

// Watcher watches a scripts directory and reloads changed modules.
type Watcher struct {
	loader    *script.Loader
	registry  *store.Registry
	dir       string
	debounce  time.Duration
	logger    zerolog.Logger
	metrics   Metrics
	listeners []func(Result)

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
	pending map[string]pendingEvent

	// reloadMu serializes swaps so two events for one module never interleave.
	reloadMu sync.Mutex
}

type pendingEvent struct {
	op   Op
	time time.Time
}

// New creates a watcher for dir. Call Start to begin watching.
func New(loader *script.Loader, registry *store.Registry, dir string, opts ...Option) *Watcher {
	w := &Watcher{
		loader:   loader,
		registry: registry,
		dir:      dir,
		debounce: 100 * time.Millisecond,
		logger:   zerolog.Nop(),
		metrics:  nopMetrics{},
		pending:  make(map[string]pendingEvent),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The directory itself is watched rather than each
// file so editors that save by rename are seen.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw != nil {
		return ErrRunning
	}

	dir, err := filepath.Abs(w.dir)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	w.fsw = fsw
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	go w.watchLoop(fsw, w.stopCh)
	if w.debounce > 0 {
		w.wg.Add(1)
		go w.debounceLoop(w.stopCh)
	}

	w.logger.Info().Str("dir", dir).Msg("watching scripts for changes")
	return nil
}

// Stop stops watching. Pending events are dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	fsw := w.fsw
	if fsw == nil {
		w.mu.Unlock()
		return nil
	}
	w.fsw = nil
	close(w.stopCh)
	w.mu.Unlock()

	err := fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) watchLoop(fsw *fsnotify.Watcher, stop <-chan struct{}) {
	defer w.wg.Done()

	for {
		select {
		case <-stop:
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) != script.Ext {
				continue
			}
			op, ok := convertOp(ev.Op)
			if !ok {
				continue
			}
			w.logger.Debug().
				Str("event", ev.Op.String()).
				Str("file", ev.Name).
				Msg("script changed")

			event := Event{Path: ev.Name, Op: op, Time: time.Now()}
			if w.debounce > 0 {
				w.queue(event)
			} else {
				w.handle(event)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("file watcher error")
		}
	}
}

// convertOp maps an fsnotify operation to the one the watcher acts on.
// Removal wins over creation, creation over writes; chmod is ignored.
func convertOp(op fsnotify.Op) (Op, bool) {
	switch {
	case op.Has(fsnotify.Remove):
		return OpRemove, true
	case op.Has(fsnotify.Rename):
		return OpRename, true
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Write):
		return OpWrite, true
	default:
		return 0, false
	}
}

// queue records an event for debounced delivery, coalescing with any
// pending one for the same path: a later create or write after a removal
// means the file is back, and a write never downgrades a create.
func (w *Watcher) queue(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	existing, ok := w.pending[ev.Path]
	op := ev.Op
	if ok && ev.Op == OpWrite && existing.op == OpCreate {
		op = OpCreate
	}
	w.pending[ev.Path] = pendingEvent{op: op, time: ev.Time}
}

func (w *Watcher) debounceLoop(stop <-chan struct{}) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, ev := range w.stable(time.Now().Add(-w.debounce)) {
				w.handle(ev)
			}
		}
	}
}

// stable removes and returns the pending events older than threshold.
func (w *Watcher) stable(threshold time.Time) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []Event
	for path, p := range w.pending {
		if p.time.Before(threshold) {
			out = append(out, Event{Path: path, Op: p.op, Time: p.time})
			delete(w.pending, path)
		}
	}
	return out
}

func (w *Watcher) handle(ev Event) {
	switch ev.Op {
	case OpRemove, OpRename:
		// A rename is often the first half of an atomic save.
		if _, err := os.Stat(ev.Path); err == nil {
			_ = w.Reload(ev.Path)
			return
		}
		_ = w.Remove(ev.Path)
	default:
		_ = w.Reload(ev.Path)
	}
}

// Reload loads the script at path and swaps it into the registry.
func (w *Watcher) Reload(path string) error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	res := Result{Path: path, Op: OpWrite}
	prev, hadPrev := w.loader.ModuleAt(path)

	next, err := w.loader.Load(path)
	if err != nil {
		res.Err = err
		w.report(res)
		return err
	}
	res.Module = next.Name()

	users := 1
	if hadPrev {
		users, err = w.retire(prev)
		if err != nil {
			res.Err = err
			w.report(res)
			return err
		}
	}

	h, err := next.Register(w.registry)
	if err != nil {
		res.Err = fmt.Errorf("register %s: %w", next.Name(), err)
		w.report(res)
		return res.Err
	}
	for i := 0; i < users; i++ {
		if err := h.Enable(store.WithHotRemount()); err != nil {
			res.Err = fmt.Errorf("enable %s: %w", next.Name(), err)
			w.report(res)
			return res.Err
		}
	}
	if hadPrev && prev != next {
		prev.Close()
	}

	w.report(res)
	return nil
}

// Remove unloads the module whose script was deleted. Its state is kept
// in the registry.
func (w *Watcher) Remove(path string) error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	res := Result{Path: path, Op: OpRemove}
	m, ok := w.loader.Forget(path)
	if !ok {
		return nil
	}
	res.Module = m.Name()

	if _, err := w.retire(m); err != nil {
		res.Err = err
	}
	m.Close()
	w.report(res)
	return res.Err
}

// retire disables every user of m and unregisters it. It returns the
// number of users it removed.
func (w *Watcher) retire(m *script.Module) (int, error) {
	h, ok := w.registry.Handle(m.ID())
	if !ok {
		return 0, nil
	}
	users := h.UsageCount()
	for i := 0; i < users; i++ {
		if err := h.Disable(); err != nil {
			return 0, fmt.Errorf("disable %s: %w", m.Name(), err)
		}
	}
	if err := w.registry.Unregister(m.ID()); err != nil && !errors.Is(err, store.ErrNotRegistered) {
		return 0, fmt.Errorf("unregister %s: %w", m.Name(), err)
	}
	return users, nil
}

func (w *Watcher) report(res Result) {
	if res.Err != nil {
		w.metrics.ReloadFailed()
		w.logger.Error().Err(res.Err).Str("path", res.Path).Str("op", res.Op.String()).Msg("script reload failed")
	} else {
		w.metrics.ReloadSucceeded()
		w.logger.Info().Str("module", res.Module).Str("path", res.Path).Str("op", res.Op.String()).Msg("script reloaded")
	}
	for _, fn := range w.listeners {
		fn(res)
	}
}
