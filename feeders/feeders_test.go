package feeders

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestForFile(t *testing.T) {
	tests := []struct {
		path string
		want Feeder
	}{
		{"config.yaml", YamlFeeder{Path: "config.yaml"}},
		{"config.yml", YamlFeeder{Path: "config.yml"}},
		{"default.cfg", YamlFeeder{Path: "default.cfg"}},
		{"noext", YamlFeeder{Path: "noext"}},
		{"config.TOML", TomlFeeder{Path: "config.TOML"}},
	}
	for _, tt := range tests {
		f, err := ForFile(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, f)
	}

	_, err := ForFile("config.json")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestYamlFeeder(t *testing.T) {
	path := writeFile(t, "default.cfg", `
hardware:
  pump:
    module: hardware.edwards
    interface: /dev/ttyUSB0
    baud: 9600
global:
  storageDir: /data
`)
	doc, err := Load(path)
	require.NoError(t, err)

	hw, ok := doc["hardware"].(map[string]any)
	require.True(t, ok)
	pump, ok := hw["pump"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hardware.edwards", pump["module"])
	assert.Equal(t, 9600, pump["baud"])
}

func TestYamlFeederFeedKey(t *testing.T) {
	path := writeFile(t, "default.cfg", "server:\n  port: 8040\n  host: lab\n")

	var server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	}
	require.NoError(t, YamlFeeder{Path: path}.FeedKey("server", &server))
	assert.Equal(t, 8040, server.Port)
	assert.Equal(t, "lab", server.Host)

	// missing keys leave the target untouched
	require.NoError(t, YamlFeeder{Path: path}.FeedKey("absent", &server))
	assert.Equal(t, 8040, server.Port)
}

func TestTomlFeeder(t *testing.T) {
	path := writeFile(t, "config.toml", `
[hardware.pump]
module = "hardware.edwards"
baud = 9600
`)
	doc, err := Load(path)
	require.NoError(t, err)

	hw, ok := doc["hardware"].(map[string]any)
	require.True(t, ok)
	pump, ok := hw["pump"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hardware.edwards", pump["module"])
	assert.Equal(t, int64(9600), pump["baud"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.cfg"))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.cfg")
	data := map[string]any{
		"hardware": map[string]any{
			"pump": map[string]any{"module": "hardware.edwards"},
		},
	}
	require.NoError(t, Save(path, data))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
