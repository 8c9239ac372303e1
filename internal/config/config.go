package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/flowstate/internal/config/loader"
)

// Config is the resolved runner configuration.
type Config struct {
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
	Scripts ScriptsConfig `toml:"scripts" yaml:"scripts"`
	Engine  EngineConfig  `toml:"engine" yaml:"engine"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn or error.
	Level string `toml:"level" yaml:"level"`
	// Format is json or console.
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	// Enabled serves /metrics on Addr.
	Enabled bool `toml:"enabled" yaml:"enabled"`
	// Addr is the listen address of the metrics endpoint.
	Addr string `toml:"addr" yaml:"addr"`
	// Namespace prefixes every metric name.
	Namespace string `toml:"namespace" yaml:"namespace"`
}

// ScriptsConfig contains scripted module settings.
type ScriptsConfig struct {
	// Dir is the directory holding *.lua module files.
	Dir string `toml:"dir" yaml:"dir"`
	// Watch reloads modules when their files change.
	Watch bool `toml:"watch" yaml:"watch"`
	// Debounce coalesces bursts of file events.
	Debounce Duration `toml:"debounce" yaml:"debounce"`
}

// EngineConfig contains dispatch engine settings.
type EngineConfig struct {
	// FlushTimeout bounds how long the runner waits for effects after
	// each input line.
	FlushTimeout Duration `toml:"flush_timeout" yaml:"flush_timeout"`
	// ShutdownTimeout bounds Close on exit.
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr:      ":9090",
			Namespace: "flowstate",
		},
		Scripts: ScriptsConfig{
			Dir:      "modules",
			Debounce: Duration(100 * time.Millisecond),
		},
		Engine: EngineConfig{
			FlushTimeout:    Duration(5 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
		},
	}
}

// Options configures Load.
type Options struct {
	// FS reads the config file. Defaults to the OS file system.
	FS loader.FileSystem
	// Env supplies environment overrides. Defaults to the process
	// environment with the FLOWSTATE_ prefix.
	Env *loader.EnvLoader
	// Strict rejects unknown keys in the file.
	Strict bool
}

// Load resolves the configuration from defaults, the file at path and the
// environment, then validates it. An empty path skips the file layer; a
// missing file is not an error.
func Load(path string) (*Config, error) {
	return LoadWith(path, Options{})
}

// LoadWith is Load with explicit sources.
func LoadWith(path string, opts Options) (*Config, error) {
	cfg := Default()

	if path != "" {
		fl, err := loader.NewFileLoader(path, loader.WithFS(opts.FS), loader.WithStrict(opts.Strict))
		if err != nil {
			return nil, err
		}
		if _, err := fl.Decode(cfg); err != nil {
			return nil, err
		}
	}

	env := opts.Env
	if env == nil {
		env = loader.NewEnvLoader(loader.DefaultPrefix)
	}
	if err := cfg.Apply(env.Load()); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type setter func(c *Config, raw string) error

var setters = map[string]setter{
	"logging.level":           func(c *Config, v string) error { c.Logging.Level = v; return nil },
	"logging.format":          func(c *Config, v string) error { c.Logging.Format = v; return nil },
	"metrics.enabled":         boolSetter(func(c *Config) *bool { return &c.Metrics.Enabled }),
	"metrics.addr":            func(c *Config, v string) error { c.Metrics.Addr = v; return nil },
	"metrics.namespace":       func(c *Config, v string) error { c.Metrics.Namespace = v; return nil },
	"scripts.dir":             func(c *Config, v string) error { c.Scripts.Dir = v; return nil },
	"scripts.watch":           boolSetter(func(c *Config) *bool { return &c.Scripts.Watch }),
	"scripts.debounce":        durationSetter(func(c *Config) *Duration { return &c.Scripts.Debounce }),
	"engine.flush_timeout":    durationSetter(func(c *Config) *Duration { return &c.Engine.FlushTimeout }),
	"engine.shutdown_timeout": durationSetter(func(c *Config) *Duration { return &c.Engine.ShutdownTimeout }),
}

func boolSetter(field func(*Config) *bool) setter {
	return func(c *Config, raw string) error {
		switch strings.ToLower(raw) {
		case "yes", "on":
			*field(c) = true
			return nil
		case "no", "off":
			*field(c) = false
			return nil
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func durationSetter(field func(*Config) *Duration) setter {
	return func(c *Config, raw string) error {
		return field(c).UnmarshalText([]byte(raw))
	}
}

// Apply sets each path in values from its raw string form.
// Unknown paths and unparsable values are returned as joined SettingErrors.
func (c *Config) Apply(values map[string]string) error {
	var errs []error
	for path, raw := range values {
		set, ok := setters[path]
		if !ok {
			errs = append(errs, &SettingError{Path: path, Value: raw, Err: ErrUnknownSetting})
			continue
		}
		if err := set(c, raw); err != nil {
			errs = append(errs, &SettingError{Path: path, Value: raw, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Validate checks every setting and returns the joined ValidationErrors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil || c.Logging.Level == "" {
		errs = append(errs, &ValidationError{Path: "logging.level", Value: c.Logging.Level, Message: "must be debug, info, warn or error"})
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, &ValidationError{Path: "logging.format", Value: c.Logging.Format, Message: "must be json or console"})
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, &ValidationError{Path: "metrics.addr", Value: c.Metrics.Addr, Message: "required when metrics are enabled"})
	}
	if c.Scripts.Watch && c.Scripts.Dir == "" {
		errs = append(errs, &ValidationError{Path: "scripts.dir", Value: c.Scripts.Dir, Message: "required when watching"})
	}
	for path, d := range map[string]Duration{
		"scripts.debounce":        c.Scripts.Debounce,
		"engine.flush_timeout":    c.Engine.FlushTimeout,
		"engine.shutdown_timeout": c.Engine.ShutdownTimeout,
	} {
		if d < 0 {
			errs = append(errs, &ValidationError{Path: path, Value: d, Message: "must not be negative"})
		}
	}
	if c.Engine.FlushTimeout == 0 {
		errs = append(errs, &ValidationError{Path: "engine.flush_timeout", Value: c.Engine.FlushTimeout, Message: "must be positive"})
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
