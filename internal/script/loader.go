package script

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/flowstate/internal/action"
)

// Ext is the file extension of module scripts.
const Ext = ".lua"

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger used for script output and load events.
func WithLogger(l zerolog.Logger) Option {
	return func(ld *Loader) {
		ld.logger = l
	}
}

// WithCallTimeout bounds every script call. Zero disables the limit.
func WithCallTimeout(d time.Duration) Option {
	return func(ld *Loader) {
		if d >= 0 {
			ld.timeout = d
		}
	}
}

// Loader loads module scripts and keeps module identities stable across
// reloads, so a reloaded script continues from its registered state.
type Loader struct {
	mu      sync.Mutex
	ids     map[string]action.ModuleID
	modules map[string]*Module
	paths   map[string]string // path -> module name
	logger  zerolog.Logger
	timeout time.Duration
}

// NewLoader creates an empty loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		ids:     make(map[string]action.ModuleID),
		modules: make(map[string]*Module),
		paths:   make(map[string]string),
		logger:  zerolog.Nop(),
		timeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ID returns the identity for a module name, minting it on first use.
// Scripts may reference modules that are loaded later.
func (l *Loader) ID(name string) action.ModuleID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idLocked(name)
}

func (l *Loader) idLocked(name string) action.ModuleID {
	id, ok := l.ids[name]
	if !ok {
		id = action.DefineModule(name)
		l.ids[name] = id
	}
	return id
}

// Load runs the script at path and records the module it declares. The
// module name defaults to the file name without extension. A module
// previously loaded from the same path is replaced but not closed.
func (l *Loader) Load(path string) (*Module, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return l.load(abs, func(s *State) error {
		return s.DoFile(abs)
	})
}

// LoadString loads a module from source. The name stands in for the path.
func (l *Loader) LoadString(name, src string) (*Module, error) {
	return l.load(name+Ext, func(s *State) error {
		return s.DoString(src)
	})
}

func (l *Loader) load(path string, run func(*State) error) (*Module, error) {
	def := strings.TrimSuffix(filepath.Base(path), Ext)
	st := newState(l.timeout, l.logger.With().Str("script", def).Logger())

	d := &declaration{}
	d.install(st)
	if err := run(st); err != nil {
		st.Close()
		return nil, &LoadError{Path: path, Err: err}
	}
	if d.name == "" {
		d.name = def
	}

	m := &Module{
		id:     l.ID(d.name),
		name:   d.name,
		path:   path,
		state:  st,
		loader: l,
	}
	if err := m.build(d); err != nil {
		st.Close()
		return nil, &LoadError{Path: path, Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if other, ok := l.modules[d.name]; ok && other.path != path {
		st.Close()
		return nil, &LoadError{Path: path, Err: fmt.Errorf("%w: %q in %s", ErrDuplicateModule, d.name, other.path)}
	}

	if prev, ok := l.paths[path]; ok && prev != d.name {
		delete(l.modules, prev)
	}
	l.modules[d.name] = m
	l.paths[path] = d.name

	l.logger.Debug().Str("module", d.name).Str("path", path).Msg("script loaded")
	return m, nil
}

// LoadDir loads every script in dir, in file name order. It stops at the
// first failure.
func (l *Loader) LoadDir(dir string) ([]*Module, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []*Module
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Ext {
			continue
		}
		m, err := l.Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Module returns the loaded module with the given name.
func (l *Loader) Module(name string) (*Module, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.modules[name]
	return m, ok
}

// ModuleAt returns the module loaded from path.
func (l *Loader) ModuleAt(path string) (*Module, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	name, ok := l.paths[abs]
	if !ok {
		return nil, false
	}
	m, ok := l.modules[name]
	return m, ok
}

// Forget drops the module loaded from path and returns it. The module's
// identity is kept for a later load of the same name.
func (l *Loader) Forget(path string) (*Module, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	name, ok := l.paths[abs]
	if !ok {
		return nil, false
	}
	delete(l.paths, abs)
	m, ok := l.modules[name]
	delete(l.modules, name)
	return m, ok
}

// Modules returns the loaded modules sorted by name.
func (l *Loader) Modules() []*Module {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Module, 0, len(l.modules))
	for _, m := range l.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Close closes every loaded module.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.modules {
		m.Close()
	}
	l.modules = make(map[string]*Module)
	l.paths = make(map[string]string)
	return nil
}

// resolve maps a script type name to a Type. Names are local, or
// "other/name" for another module. Lifecycle names are accepted only for
// handling.
func (l *Loader) resolve(self action.ModuleID, s string, lifecycle bool) (action.Type, error) {
	mod := self
	modName, name, qualified := splitType(s)
	if qualified {
		if modName == "" {
			return action.Type{}, unknownType(s, action.ErrEmptyName)
		}
		if modName != self.Name() {
			mod = l.ID(modName)
		}
	}

	if lc := action.Lifecycle(name); strings.HasPrefix(name, action.ReservedPrefix) {
		if !lifecycle || !lc.IsValid() {
			return action.Type{}, unknownType(s, fmt.Errorf("%s is not a lifecycle type handlers may use", name))
		}
		return mod.Lifecycle(lc), nil
	}

	t, err := mod.Type(name)
	if err != nil {
		return action.Type{}, unknownType(s, err)
	}
	return t, nil
}
