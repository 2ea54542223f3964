// Package feeders reads configuration documents into the nested
// mapping the Manager's ConfigStore consumes. The file extension
// selects the format: .toml is TOML, everything else (.cfg, .yaml,
// .yml) is YAML.
package feeders

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for file types no feeder handles.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Feeder reads one configuration document.
type Feeder interface {
	Feed() (map[string]any, error)
}

// ForFile returns the feeder responsible for the given path.
func ForFile(path string) (Feeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return TomlFeeder{Path: path}, nil
	case ".yaml", ".yml", ".cfg", "":
		return YamlFeeder{Path: path}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Load reads the configuration document at path.
func Load(path string) (map[string]any, error) {
	f, err := ForFile(path)
	if err != nil {
		return nil, err
	}
	return f.Feed()
}

func dirOf(path string) string {
	return filepath.Dir(path)
}
