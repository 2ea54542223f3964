package labcore

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/openlabkit/labcore/feeders"
)

// ReadConfig reads the configuration document at path and applies it.
// The file's directory becomes the config directory for relative
// config file access.
func (m *Manager) ReadConfig(path string) error {
	m.logger.Info("Starting Manager configuration", "file", path)
	cfg, err := feeders.Load(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfigNotFound, path, err)
	}

	m.mu.Lock()
	m.configFile = path
	m.configDir = filepath.Dir(path)
	m.mu.Unlock()

	m.Configure(cfg)
	m.logger.Info("Manager configuration complete", "file", path)
	return nil
}

// Configure sorts a configuration document into the module tree.
//
// Recognized top-level keys are the three category sections, `startup`
// (with nested gui/logic subsections) and `global`. Everything else is
// merged into the generic config bag: mappings are extended key by key
// (shallow), all other values are overwritten. Configure is additive:
// re-invoking it merges categories by instance name, later entries
// winning. A configuration-changed notification is emitted afterwards.
func (m *Manager) Configure(cfg map[string]any) {
	for key, val := range cfg {
		switch key {
		case "hardware", "logic", "gui":
			cat := Category(key)
			entries, ok := toOptions(val)
			if !ok {
				m.logger.Warn("Ignoring category section: not a mapping", "category", key)
				continue
			}
			for name, raw := range entries {
				if cat == CategoryHardware && m.deviceDisabled(name) {
					m.logger.Info("Ignoring device: disabled by request", "name", name)
					continue
				}
				m.defineModule(cat, name, raw, false)
			}

		case "startup":
			sub, ok := toOptions(val)
			if !ok {
				m.logger.Warn("Ignoring startup section: not a mapping")
				continue
			}
			for _, skey := range []Category{CategoryGUI, CategoryLogic} {
				entries, ok := sub.Sub(string(skey))
				if !ok {
					continue
				}
				for name, raw := range entries {
					m.defineModule(skey, name, raw, true)
				}
			}

		case "global":
			sub, ok := toOptions(val)
			if !ok {
				m.logger.Warn("Ignoring global section: not a mapping")
				continue
			}
			for gk, gv := range sub {
				switch gk {
				case "storageDir":
					if dir, ok := sub.String(gk); ok {
						m.logger.Info("Setting base directory", "dir", dir)
						m.SetBaseDir(dir)
					}
				case "logDir":
					if dir, ok := sub.String(gk); ok {
						m.SetLogDir(dir)
					}
				default:
					m.mergeConfigKey("global", map[string]any{gk: gv})
				}
			}

		default:
			m.mergeConfigKey(key, val)
		}
	}
	m.emit(EventTypeConfigChanged, nil)
}

// defineModule places one category entry in the defined (and
// optionally startup) tree. Entries without a module reference are
// skipped with a warning, never fatally.
func (m *Manager) defineModule(cat Category, name string, raw any, startup bool) {
	opts, ok := toOptions(raw)
	if !ok {
		m.logger.Warn("Ignoring module entry: not a mapping", "category", cat, "name", name)
		return
	}
	ref, _ := opts.String("module")
	if ref == "" {
		m.logger.Warn("Ignoring module entry: no module specified", "category", cat, "name", name)
		return
	}

	spec := &ModuleSpec{
		Category:  cat,
		Name:      name,
		ModuleRef: ref,
		Options:   opts,
		Connect:   make(map[string]any),
	}
	if conn, ok := opts.Sub("connect"); ok {
		for k, v := range conn {
			spec.Connect[k] = v
		}
	}

	m.mu.Lock()
	if _, exists := m.defined[cat][name]; !exists {
		m.definedOrder[cat] = append(m.definedOrder[cat], name)
	}
	m.defined[cat][name] = spec
	if startup {
		m.start[cat][name] = spec
	}
	m.mu.Unlock()
}

// mergeConfigKey merges one top-level key into the config bag.
func (m *Manager) mergeConfigKey(key string, val any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	newMap, newIsMap := toOptions(val)
	if existing, ok := m.config[key]; ok && newIsMap {
		if oldMap, oldIsMap := toOptions(existing); oldIsMap {
			for k, v := range newMap {
				oldMap[k] = v
			}
			m.config[key] = map[string]any(oldMap)
			return
		}
	}
	if newIsMap {
		m.config[key] = map[string]any(newMap)
		return
	}
	m.config[key] = val
}

// ConfigValue returns a value from the generic config bag.
func (m *Manager) ConfigValue(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.config[key]
	return v, ok
}

// ListConfigurations returns the available named configuration sets,
// sorted.
func (m *Manager) ListConfigurations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sets, ok := toOptions(m.config["configurations"])
	if !ok {
		return nil
	}
	names := make([]string, 0, len(sets))
	for name := range sets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LoadDefinedConfig applies the named configuration set from the
// config bag's `configurations` key.
func (m *Manager) LoadDefinedConfig(name string) error {
	m.mu.RLock()
	sets, ok := toOptions(m.config["configurations"])
	var cfg Options
	if ok {
		cfg, ok = sets.Sub(name)
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNamedConfigMissing, name)
	}
	m.Configure(cfg)
	return nil
}

// ConfigFileName resolves a file name relative to the configuration
// directory.
func (m *Manager) ConfigFileName(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filepath.Join(m.configDir, name)
}

// ConfigFile returns the path of the last loaded configuration file.
func (m *Manager) ConfigFile() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configFile
}

// ReadConfigFile reads a configuration document from the config
// directory. With missingOk a missing file yields an empty document.
func (m *Manager) ReadConfigFile(name string, missingOk bool) (map[string]any, error) {
	path := m.ConfigFileName(name)
	if _, err := os.Stat(path); err != nil {
		if missingOk {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}
	return feeders.Load(path)
}

// WriteConfigFile writes a configuration document into the config
// directory, creating it if necessary.
func (m *Manager) WriteConfigFile(data map[string]any, name string) error {
	return feeders.Save(m.ConfigFileName(name), data)
}

// SetBaseDir sets the base directory for stored data, creating it on
// demand. A base-directory-changed notification fires when the value
// actually changes.
func (m *Manager) SetBaseDir(path string) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		m.logger.Error("Cannot create base directory", "dir", path, "error", err)
		return
	}
	m.mu.Lock()
	changed := m.baseDir != path
	m.baseDir = path
	m.mu.Unlock()
	if changed {
		m.emit(EventTypeBaseDirChanged, map[string]any{"dir": path})
	}
}

// BaseDir returns the base data directory.
func (m *Manager) BaseDir() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.baseDir
}

// SetLogDir sets the log directory, with a log-directory-changed
// notification on change.
func (m *Manager) SetLogDir(path string) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		m.logger.Error("Cannot create log directory", "dir", path, "error", err)
		return
	}
	m.mu.Lock()
	changed := m.logDir != path
	m.logDir = path
	m.mu.Unlock()
	if changed {
		m.emit(EventTypeLogDirChanged, map[string]any{"dir": path})
	}
}

// LogDir returns the log directory.
func (m *Manager) LogDir() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logDir
}

func (m *Manager) deviceDisabled(name string) bool {
	return m.disableAll || m.disabledDevs[name]
}
