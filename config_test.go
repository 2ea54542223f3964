package labcore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureMergeIsAdditive(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Configure(map[string]any{
		"hardware": map[string]any{
			"pump":  map[string]any{"module": "test.source", "interface": "COM1"},
			"laser": map[string]any{"module": "test.source"},
		},
	})
	mgr.Configure(map[string]any{
		"hardware": map[string]any{
			// overlapping name: later definition wins
			"pump":   map[string]any{"module": "test.source", "interface": "COM2"},
			"camera": map[string]any{"module": "test.source"},
		},
	})

	// union of instance names
	var names []string
	for _, st := range mgr.Snapshot() {
		names = append(names, st.Name)
	}
	assert.ElementsMatch(t, []string{"pump", "laser", "camera"}, names)

	spec, ok := mgr.DefinedModule(CategoryHardware, "pump")
	require.True(t, ok)
	iface, _ := spec.Options.String("interface")
	assert.Equal(t, "COM2", iface, "later value overwrites")
}

func TestConfigureSkipsEntriesWithoutModule(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Configure(map[string]any{
		"hardware": map[string]any{
			"pump":     map[string]any{"module": "test.source"},
			"nomodule": map[string]any{"interface": "COM9"},
			"scalar":   "not a mapping",
		},
	})

	_, ok := mgr.DefinedModule(CategoryHardware, "pump")
	assert.True(t, ok)
	_, ok = mgr.DefinedModule(CategoryHardware, "nomodule")
	assert.False(t, ok, "entry without module key is skipped, not fatal")
	_, ok = mgr.DefinedModule(CategoryHardware, "scalar")
	assert.False(t, ok)
}

func TestConfigureStartupSection(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Configure(map[string]any{
		"startup": map[string]any{
			"logic": map[string]any{
				"mon": map[string]any{"module": "test.sink"},
			},
			"gui": map[string]any{
				"status": map[string]any{"module": "test.sink"},
			},
		},
	})

	// startup entries are also defined modules
	_, ok := mgr.DefinedModule(CategoryLogic, "mon")
	assert.True(t, ok)
	_, ok = mgr.DefinedModule(CategoryGUI, "status")
	assert.True(t, ok)
}

func TestConfigureDisabledDevices(t *testing.T) {
	cfg := map[string]any{
		"hardware": map[string]any{
			"pump":  map[string]any{"module": "test.source"},
			"laser": map[string]any{"module": "test.source"},
		},
		"logic": map[string]any{
			"mon": map[string]any{"module": "test.sink"},
		},
	}

	t.Run("disable list", func(t *testing.T) {
		mgr := newTestManager(t, WithDisabledDevices("laser"))
		mgr.Configure(cfg)
		_, ok := mgr.DefinedModule(CategoryHardware, "pump")
		assert.True(t, ok)
		_, ok = mgr.DefinedModule(CategoryHardware, "laser")
		assert.False(t, ok)
	})

	t.Run("disable all", func(t *testing.T) {
		mgr := newTestManager(t, WithAllDevicesDisabled())
		mgr.Configure(cfg)
		_, ok := mgr.DefinedModule(CategoryHardware, "pump")
		assert.False(t, ok)
		// only hardware is filtered
		_, ok = mgr.DefinedModule(CategoryLogic, "mon")
		assert.True(t, ok)
	})
}

func TestConfigBagMerge(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Configure(map[string]any{
		"colors": map[string]any{"red": 1, "green": 2},
		"label":  "first",
	})
	mgr.Configure(map[string]any{
		"colors": map[string]any{"green": 20, "blue": 3},
		"label":  "second",
	})

	v, ok := mgr.ConfigValue("colors")
	require.True(t, ok)
	colors, ok := v.(map[string]any)
	require.True(t, ok)
	// mappings are extended key by key
	assert.Equal(t, 1, colors["red"])
	assert.Equal(t, 20, colors["green"])
	assert.Equal(t, 3, colors["blue"])

	// scalars are overwritten
	v, ok = mgr.ConfigValue("label")
	require.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestGlobalSection(t *testing.T) {
	mgr := newTestManager(t)
	dir := filepath.Join(t.TempDir(), "data")
	logs := filepath.Join(t.TempDir(), "logs")
	mgr.Configure(map[string]any{
		"global": map[string]any{
			"storageDir": dir,
			"logDir":     logs,
			"extra":      "kept",
		},
	})

	assert.Equal(t, dir, mgr.BaseDir())
	assert.DirExists(t, dir)
	assert.Equal(t, logs, mgr.LogDir())
	assert.DirExists(t, logs)

	v, ok := mgr.ConfigValue("global")
	require.True(t, ok)
	global, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "kept", global["extra"])
}

func TestNamedConfigurations(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Configure(map[string]any{
		"configurations": map[string]any{
			"vacuum": map[string]any{
				"hardware": map[string]any{
					"pump": map[string]any{"module": "test.source"},
				},
			},
			"alignment": map[string]any{},
		},
	})

	assert.Equal(t, []string{"alignment", "vacuum"}, mgr.ListConfigurations())

	require.NoError(t, mgr.LoadDefinedConfig("vacuum"))
	_, ok := mgr.DefinedModule(CategoryHardware, "pump")
	assert.True(t, ok)

	err := mgr.LoadDefinedConfig("nosuch")
	assert.ErrorIs(t, err, ErrNamedConfigMissing)
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "default.cfg")
	doc := `
hardware:
  pump:
    module: test.source
    interface: COM3
logic:
  mon:
    module: test.sink
    connect:
      in: pump.out
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	mgr := newTestManager(t)
	require.NoError(t, mgr.ReadConfig(path))

	assert.Equal(t, path, mgr.ConfigFile())
	assert.Equal(t, filepath.Join(dir, "other.cfg"), mgr.ConfigFileName("other.cfg"))

	spec, ok := mgr.DefinedModule(CategoryLogic, "mon")
	require.True(t, ok)
	assert.Equal(t, "pump.out", spec.Connect["in"])

	err := mgr.ReadConfig(filepath.Join(dir, "missing.cfg"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestReadWriteConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "default.cfg")
	require.NoError(t, os.WriteFile(path, []byte("hardware: {}\n"), 0o644))

	mgr := newTestManager(t)
	require.NoError(t, mgr.ReadConfig(path))

	data := map[string]any{"threshold": 0.5, "labels": map[string]any{"a": "b"}}
	require.NoError(t, mgr.WriteConfigFile(data, "derived.cfg"))

	got, err := mgr.ReadConfigFile("derived.cfg", false)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got["threshold"], 1e-9)

	_, err = mgr.ReadConfigFile("missing.cfg", false)
	assert.ErrorIs(t, err, ErrConfigNotFound)

	got, err = mgr.ReadConfigFile("missing.cfg", true)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSetBaseDir(t *testing.T) {
	mgr := newTestManager(t)
	dir := filepath.Join(t.TempDir(), "nested", "data")
	mgr.SetBaseDir(dir)
	assert.Equal(t, dir, mgr.BaseDir())
	assert.DirExists(t, dir)
}
