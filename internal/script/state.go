package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// DefaultCallTimeout bounds a single script call.
const DefaultCallTimeout = 2 * time.Second

// State is a sandboxed gopher-lua state.
//
// gopher-lua's LState is not goroutine-safe; every entry point takes mu.
// Lua code must not call back into a State it is running on.
type State struct {
	mu      sync.Mutex
	l       *lua.LState
	timeout time.Duration
	logger  zerolog.Logger
	closed  bool
}

// Result holds the values of a finished call.
type Result struct {
	// Returns are the values returned by the function.
	Returns []any

	// Args are the arguments as the function left them. Tables reflect
	// in-place edits.
	Args []any
}

func newState(timeout time.Duration, logger zerolog.Logger) *State {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	s := &State{
		l:       L,
		timeout: timeout,
		logger:  logger,
	}
	openSafeLibraries(L)
	s.installPrint()
	return s
}

// openSafeLibraries opens the base, table, string and math libraries and
// removes the loaders that reach the file system.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// installPrint routes print to the logger.
func (s *State) installPrint() {
	s.l.SetGlobal("print", s.l.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		s.logger.Info().Msg(strings.Join(parts, "\t"))
		return 0
	}))
}

// Register exposes fn as a global function.
func (s *State) Register(name string, fn lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.l.SetGlobal(name, s.l.NewFunction(fn))
}

// DoFile runs a script file.
func (s *State) DoFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return s.run(func() error {
		return s.l.DoFile(path)
	})
}

// DoString runs a chunk of source.
func (s *State) DoString(src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return s.run(func() error {
		return s.l.DoString(src)
	})
}

// Call invokes fn with args converted to Lua values.
func (s *State) Call(fn *lua.LFunction, args ...any) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	L := s.l
	top := L.GetTop()
	largs := make([]lua.LValue, len(args))
	L.Push(fn)
	for i, arg := range args {
		largs[i] = toLua(L, arg)
		L.Push(largs[i])
	}

	err := s.run(func() error {
		return L.PCall(len(args), lua.MultRet, nil)
	})
	if err != nil {
		L.SetTop(top)
		return nil, err
	}

	n := L.GetTop() - top
	res := &Result{
		Returns: make([]any, n),
		Args:    make([]any, len(args)),
	}
	for i := 0; i < n; i++ {
		res.Returns[i] = toGo(L.Get(top + i + 1))
	}
	L.Pop(n)
	for i, lv := range largs {
		if _, ok := lv.(*lua.LTable); ok {
			res.Args[i] = toGo(lv)
		} else {
			res.Args[i] = args[i]
		}
	}
	return res, nil
}

// run executes fn under the call timeout with panic recovery.
// Callers hold mu.
func (s *State) run(fn func() error) (err error) {
	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.l.SetContext(ctx)
		defer s.l.RemoveContext()
		defer func() {
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
			}
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// IsClosed reports whether Close was called.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. Later calls return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.l.Close()
	s.closed = true
	return nil
}
