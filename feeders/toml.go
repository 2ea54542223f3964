package feeders

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// TomlFeeder reads TOML configuration files.
type TomlFeeder struct {
	Path string
}

// Feed reads the whole document into a nested string-keyed mapping.
func (f TomlFeeder) Feed() (map[string]any, error) {
	var doc map[string]any
	if _, err := toml.DecodeFile(f.Path, &doc); err != nil {
		return nil, fmt.Errorf("failed to read toml %s: %w", f.Path, err)
	}
	return doc, nil
}

// FeedKey reads the document and extracts a single top-level key into
// target, remarshalling to handle type conversion.
func (f TomlFeeder) FeedKey(key string, target any) error {
	doc, err := f.Feed()
	if err != nil {
		return err
	}
	value, exists := doc[key]
	if !exists {
		return nil
	}
	valueBytes, err := toml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err := toml.Unmarshal(valueBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}
