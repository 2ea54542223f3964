package feeders

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YamlFeeder reads YAML configuration files.
type YamlFeeder struct {
	Path string
}

// Feed reads the whole document into a nested string-keyed mapping.
func (f YamlFeeder) Feed() (map[string]any, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read YAML: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML %s: %w", f.Path, err)
	}
	return doc, nil
}

// FeedKey reads the document and extracts a single top-level key into
// target, remarshalling to handle type conversion.
func (f YamlFeeder) FeedKey(key string, target any) error {
	doc, err := f.Feed()
	if err != nil {
		return err
	}
	value, exists := doc[key]
	if !exists {
		return nil
	}
	valueBytes, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err := yaml.Unmarshal(valueBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}

// Save writes data to path as YAML, creating parent directories.
func Save(path string, data map[string]any) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
