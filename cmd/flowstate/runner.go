package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/dshills/flowstate/internal/script"
	"github.com/dshills/flowstate/internal/store"
)

var (
	errUsage          = errors.New("expected: <module> <type> [json] or state <module>")
	errUnknownModule  = errors.New("unknown module")
	errReservedAction = errors.New("lifecycle actions cannot be dispatched")
)

// runner applies input lines to a registry.
type runner struct {
	registry     *store.Registry
	loader       *script.Loader
	out          io.Writer
	flushTimeout time.Duration
	logger       zerolog.Logger
}

// output is one line written per input line.
type output struct {
	Module string `json:"module,omitempty"`
	Action string `json:"action,omitempty"`
	State  any    `json:"state,omitempty"`
	Error  string `json:"error,omitempty"`
}

// run reads lines from in until EOF or until ctx is done. Failing lines
// are reported on the output and do not stop the loop.
func (r *runner) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	enc := json.NewEncoder(r.out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			text = strings.TrimSpace(text)
			if text == "" || strings.HasPrefix(text, "#") {
				continue
			}
			out := r.line(ctx, text)
			if out.Error != "" {
				r.logger.Warn().Str("input", text).Str("error", out.Error).Msg("input rejected")
			}
			if err := enc.Encode(out); err != nil {
				return err
			}
		}
	}
}

// line handles one "<module> <type> [json]" or "state <module>" line.
func (r *runner) line(ctx context.Context, text string) output {
	fields := splitLine(text)
	if len(fields) < 2 {
		return output{Error: errUsage.Error()}
	}

	if fields[0] == "state" && len(fields) == 2 {
		return r.state(fields[1], "")
	}

	m, ok := r.loader.Module(fields[0])
	if !ok {
		return output{Module: fields[0], Error: fmt.Sprintf("%v: %s", errUnknownModule, fields[0])}
	}
	typ, err := m.Type(fields[1])
	if err != nil {
		return output{Module: m.Name(), Error: err.Error()}
	}
	if typ.IsLifecycle() {
		return output{Module: m.Name(), Error: errReservedAction.Error()}
	}

	var payload any
	if len(fields) == 3 {
		if err := json.Unmarshal([]byte(strings.TrimSpace(fields[2])), &payload); err != nil {
			return output{Module: m.Name(), Error: fmt.Sprintf("payload: %v", err)}
		}
	}

	if err := r.registry.Dispatch(typ.New(payload)); err != nil {
		return output{Module: m.Name(), Action: typ.String(), Error: err.Error()}
	}

	flushCtx, cancel := context.WithTimeout(ctx, r.flushTimeout)
	defer cancel()
	if err := r.registry.Flush(flushCtx); err != nil {
		r.logger.Warn().Err(err).Str("action", typ.String()).Msg("effects still running")
	}
	return r.state(m.Name(), typ.String())
}

// splitLine returns the first two whitespace separated fields of text and,
// if present, the remainder as a third field.
func splitLine(text string) []string {
	var fields []string
	rest := strings.TrimSpace(text)
	for len(fields) < 2 && rest != "" {
		i := strings.IndexFunc(rest, unicode.IsSpace)
		if i < 0 {
			return append(fields, rest)
		}
		fields = append(fields, rest[:i])
		rest = strings.TrimLeftFunc(rest[i:], unicode.IsSpace)
	}
	if rest != "" {
		fields = append(fields, rest)
	}
	return fields
}

func (r *runner) state(name, act string) output {
	m, ok := r.loader.Module(name)
	if !ok {
		return output{Module: name, Error: fmt.Sprintf("%v: %s", errUnknownModule, name)}
	}
	s, err := r.registry.State(m.ID())
	if err != nil {
		return output{Module: name, Action: act, Error: err.Error()}
	}
	return output{Module: name, Action: act, State: s}
}
