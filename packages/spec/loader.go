package spec

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Error categories produced while loading a specification. Callers classify
// with errors.Is; everything returned by a Loader wraps exactly one of these.
var (
	// ErrIo means the specification file could not be read.
	ErrIo = errors.New("spec: io error")
	// ErrParse means the file is not well-formed YAML/JSON.
	ErrParse = errors.New("spec: parse error")
	// ErrInvalid means the file parsed but is semantically invalid.
	ErrInvalid = errors.New("spec: invalid specification")
)

// Loader yields a typed specification from a source path. The file loader
// below is the standard implementation; tests substitute their own.
type Loader interface {
	Load(path string) (*Specification, error)
}

// FileLoader reads YAML or JSON specification files from disk.
type FileLoader struct{}

// NewFileLoader returns a Loader over the local filesystem.
func NewFileLoader() *FileLoader {
	return &FileLoader{}
}

// Load reads, parses, and semantically validates the specification at path.
func (l *FileLoader) Load(path string) (*Specification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrIo, path, err)
	}

	s := &Specification{}
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
		}
	default:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
