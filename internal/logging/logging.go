// Package logging builds zerolog loggers and attaches them to a registry.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/flowstate/internal/action"
	"github.com/dshills/flowstate/internal/store"
)

// Format selects the log encoding.
type Format string

const (
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
	// FormatConsole writes human-readable lines.
	FormatConsole Format = "console"
)

// Config configures a logger.
type Config struct {
	// Level is the minimum level: debug, info, warn, error. Defaults to info.
	Level string
	// Format is json or console. Defaults to json.
	Format Format
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Component, when set, is added to every entry.
	Component string
}

// New creates a logger from cfg. An unparsable level falls back to info.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	return ctx.Logger()
}

// ErrorListener returns an error channel listener logging every event.
func ErrorListener(logger zerolog.Logger) func(store.ErrorEvent) {
	return func(ev store.ErrorEvent) {
		e := logger.Error().Err(ev.Err).Str("kind", ev.Kind.String())
		if !ev.Module.IsZero() {
			e = e.Str("module", ev.Module.String())
		}
		if !ev.Action.Type.IsZero() {
			e = e.Str("action", ev.Action.Type.String())
		}
		e.Msg("dispatch error")
	}
}

// ActionLogger returns a stream observer logging every action at debug level.
func ActionLogger(logger zerolog.Logger) func(action.Action) {
	return func(a action.Action) {
		e := logger.Debug()
		if !e.Enabled() {
			return
		}
		e = e.Str("action", a.Type.String())
		if a.Payload != nil {
			e = e.Interface("payload", a.Payload)
		}
		e.Msg("action")
	}
}

// Attach wires ErrorListener and, when debug is enabled on logger,
// ActionLogger into r. The returned function detaches both.
func Attach(r *store.Registry, logger zerolog.Logger) (detach func()) {
	removeErr := r.OnError(ErrorListener(logger))
	stopActions := func() {}
	if logger.GetLevel() <= zerolog.DebugLevel {
		stopActions = r.Observe(ActionLogger(logger))
	}
	return func() {
		removeErr()
		stopActions()
	}
}
