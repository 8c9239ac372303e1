package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileLoader decodes one configuration file.
type FileLoader struct {
	fs     FileSystem
	path   string
	format Format
	strict bool
}

// FileOption configures a FileLoader.
type FileOption func(*FileLoader)

// WithFS sets the file system the loader reads from.
func WithFS(fs FileSystem) FileOption {
	return func(l *FileLoader) {
		if fs != nil {
			l.fs = fs
		}
	}
}

// WithStrict rejects keys that do not map to a field.
func WithStrict(strict bool) FileOption {
	return func(l *FileLoader) {
		l.strict = strict
	}
}

// NewFileLoader creates a loader for path. The format follows the extension.
func NewFileLoader(path string, opts ...FileOption) (*FileLoader, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	l := &FileLoader{
		fs:     DefaultFS(),
		path:   path,
		format: format,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the file path.
func (l *FileLoader) Path() string {
	return l.path
}

// Format returns the file format.
func (l *FileLoader) Format() Format {
	return l.format
}

// Decode reads the file into v, leaving fields missing from the file
// untouched. It reports false without error if the file does not exist.
func (l *FileLoader) Decode(v any) (bool, error) {
	data, err := l.fs.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil // File doesn't exist, not an error
		}
		return false, fmt.Errorf("reading config file %s: %w", l.path, err)
	}
	return true, l.DecodeBytes(l.path, data, v)
}

// DecodeReader decodes configuration from r.
func (l *FileLoader) DecodeReader(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return l.DecodeBytes("<reader>", data, v)
}

// DecodeBytes decodes data into v; source names the data in errors.
func (l *FileLoader) DecodeBytes(source string, data []byte, v any) error {
	switch l.format {
	case FormatTOML:
		return l.decodeTOML(source, data, v)
	case FormatYAML:
		return l.decodeYAML(source, data, v)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, l.format)
	}
}

func (l *FileLoader) decodeTOML(source string, data []byte, v any) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	if l.strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			pe.Line, pe.Column = de.Position()
		}
		return pe
	}
	return nil
}

func (l *FileLoader) decodeYAML(source string, data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(l.strict)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &ParseError{Path: source, Message: err.Error(), Err: err}
	}
	return nil
}
