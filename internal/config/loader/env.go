package loader

import (
	"os"
	"strings"
)

// DefaultPrefix is the prefix of flowstate environment variables.
const DefaultPrefix = "FLOWSTATE_"

// EnvLoader collects configuration overrides from environment variables.
type EnvLoader struct {
	prefix  string            // Environment variable prefix (e.g., "FLOWSTATE_")
	mapping map[string]string // Env var -> config path
	lookup  func() []string
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "FLOWSTATE_").
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(prefix),
		lookup:  os.Environ,
	}
}

// NewEnvLoaderFrom creates a loader reading "KEY=value" pairs from environ
// instead of the process environment.
func NewEnvLoaderFrom(prefix string, environ []string) *EnvLoader {
	l := NewEnvLoader(prefix)
	l.lookup = func() []string { return environ }
	return l
}

// defaultEnvMapping returns the short aliases for common settings.
func defaultEnvMapping(prefix string) map[string]string {
	return map[string]string{
		prefix + "LOG_LEVEL":    "logging.level",
		prefix + "LOG_FORMAT":   "logging.format",
		prefix + "METRICS":      "metrics.enabled",
		prefix + "METRICS_ADDR": "metrics.addr",
		prefix + "SCRIPTS":      "scripts.dir",
		prefix + "WATCH":        "scripts.watch",
	}
}

// Load returns the raw value of every prefixed variable, keyed by
// setting path. Empty values are kept; they are valid values, not unset.
func (l *EnvLoader) Load() map[string]string {
	out := make(map[string]string)
	for _, env := range l.lookup() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		if path, mapped := l.mapping[name]; mapped {
			out[path] = value
			continue
		}
		out[l.envToPath(name)] = value
	}
	return out
}

// AddMapping adds a custom environment variable mapping.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	if l.mapping == nil {
		l.mapping = make(map[string]string)
	}
	l.mapping[envVar] = configPath
}

// envToPath converts FLOWSTATE_ENGINE_FLUSH_TIMEOUT to engine.flush_timeout.
func (l *EnvLoader) envToPath(env string) string {
	name := strings.ToLower(strings.TrimPrefix(env, l.prefix))
	section, setting, ok := strings.Cut(name, "_")
	if !ok {
		return section
	}
	return section + "." + setting
}
