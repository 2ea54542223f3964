package labcore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Manager owns the module tree: the configuration-declared (defined)
// modules per category, the loaded instances, the startup subset and
// the generic config bag. It instantiates modules through a
// TypeRegistry, wires declared connectors and drives activation.
//
// A single coarse RWMutex guards tree mutation. Module hooks run
// outside the lock so a stalled driver cannot block registry access.
type Manager struct {
	mu     sync.RWMutex
	logger Logger
	types  *TypeRegistry
	obs    observerSet
	runner *runner

	config  map[string]any
	defined map[Category]map[string]*ModuleSpec
	start   map[Category]map[string]*ModuleSpec
	loaded  map[Category]map[string]*Instance

	// definition/load order per category, for reproducible bulk
	// operations (maps alone would randomize it)
	definedOrder map[Category][]string
	loadedOrder  map[Category][]string

	configFile string
	configDir  string
	baseDir    string
	logDir     string

	disabledDevs map[string]bool
	disableAll   bool
}

// ManagerOption adjusts Manager construction.
type ManagerOption func(*Manager)

// WithDisabledDevices marks hardware instance names to be ignored
// during configuration.
func WithDisabledDevices(names ...string) ManagerOption {
	return func(m *Manager) {
		for _, n := range names {
			m.disabledDevs[n] = true
		}
	}
}

// WithAllDevicesDisabled ignores every hardware entry during
// configuration.
func WithAllDevicesDisabled() ManagerOption {
	return func(m *Manager) { m.disableAll = true }
}

// NewManager creates a Manager resolving module types through types
// and logging through logger.
func NewManager(types *TypeRegistry, logger Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:       logger,
		types:        types,
		runner:       newRunner(),
		config:       make(map[string]any),
		defined:      make(map[Category]map[string]*ModuleSpec),
		start:        make(map[Category]map[string]*ModuleSpec),
		loaded:       make(map[Category]map[string]*Instance),
		definedOrder: make(map[Category][]string),
		loadedOrder:  make(map[Category][]string),
		disabledDevs: make(map[string]bool),
	}
	m.obs.observers = make(map[string]*observerRegistration)
	for _, cat := range Categories {
		m.defined[cat] = make(map[string]*ModuleSpec)
		m.start[cat] = make(map[string]*ModuleSpec)
		m.loaded[cat] = make(map[string]*Instance)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Logger returns the Manager's logger for use by modules.
func (m *Manager) Logger() Logger { return m.logger }

// Types returns the module type registry.
func (m *Manager) Types() *TypeRegistry { return m.types }

// ModuleContext returns the execution context handed to a logic module
// at load time.
func (m *Manager) ModuleContext(name string) (context.Context, bool) {
	return m.runner.context(name)
}

// DefinedModule returns a module's configuration spec.
func (m *Manager) DefinedModule(cat Category, name string) (*ModuleSpec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spec, ok := m.defined[cat][name]
	return spec, ok
}

// LoadedModule returns a loaded instance.
func (m *Manager) LoadedModule(cat Category, name string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.loaded[cat][name]
	return inst, ok
}

// ModuleStatus is a point-in-time view of one module for monitoring
// surfaces.
type ModuleStatus struct {
	Category  Category `json:"category"`
	Name      string   `json:"name"`
	ModuleRef string   `json:"module,omitempty"`
	State     State    `json:"state"`
}

// Snapshot reports every defined module with its current state,
// hardware first, in definition order. Defined-but-unloaded modules
// report StateUnloaded.
func (m *Manager) Snapshot() []ModuleStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ModuleStatus
	for _, cat := range Categories {
		for _, name := range m.definedOrder[cat] {
			st := ModuleStatus{Category: cat, Name: name, State: StateUnloaded}
			if spec, ok := m.defined[cat][name]; ok {
				st.ModuleRef = spec.ModuleRef
			}
			if inst, ok := m.loaded[cat][name]; ok {
				st.State = inst.State()
			}
			out = append(out, st)
		}
	}
	return out
}

// ConfigureModule registers a constructed module instance under
// loaded[cat][name]. It fails if the category is unknown, if the
// instance name is already in use in any category (wiring resolves
// targets by bare instance name, so names are globally unique), or if
// the module exposes no connector surface. On success a
// modules-changed notification is emitted.
func (m *Manager) ConfigureModule(cat Category, name string, mod Module) (*Instance, error) {
	if !cat.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, cat)
	}
	if mod == nil || mod.Connectors() == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoConnectorSurface, cat, name)
	}
	m.logger.Info("Configuring module", "category", cat, "name", name)

	m.mu.Lock()
	for _, c := range Categories {
		if _, exists := m.loaded[c][name]; exists {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s already loaded in %s", ErrDuplicateInstanceName, name, c)
		}
	}
	inst := &Instance{Category: cat, Name: name, Module: mod, state: StateLoaded}
	m.loaded[cat][name] = inst
	m.loadedOrder[cat] = append(m.loadedOrder[cat], name)
	m.mu.Unlock()

	m.emit(EventTypeModulesChanged, map[string]any{
		"category": string(cat), "name": name, "state": string(StateLoaded),
	})
	return inst, nil
}

// LoadConfigureModule instantiates the defined module cat/name through
// the type registry and registers it. Configuration problems are
// logged and returned; the caller decides whether to continue (bulk
// loads do).
func (m *Manager) LoadConfigureModule(cat Category, name string) error {
	m.mu.RLock()
	spec, ok := m.defined[cat][name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrModuleNotDefined, cat, name)
	}
	if spec.ModuleRef == "" {
		m.logger.Error("Not a loadable module", "category", cat, "name", name)
		return fmt.Errorf("%w: %s/%s", ErrNoModuleRef, cat, name)
	}

	m.logger.Info("Loading module", "category", cat, "name", name, "module", spec.ModuleRef)
	ctor, ok := m.types.Lookup(spec.ModuleRef)
	if !ok {
		m.logger.Error("Module type not registered", "category", cat, "name", name, "module", spec.ModuleRef)
		return fmt.Errorf("%w: %s", ErrModuleTypeUnknown, spec.ModuleRef)
	}
	mod, err := ctor(m, name, spec.Options)
	if err != nil {
		m.logger.Error("Error while loading module", "category", cat, "name", name, "error", err)
		return fmt.Errorf("constructing %s/%s: %w", cat, name, err)
	}
	if _, err := m.ConfigureModule(cat, name, mod); err != nil {
		m.logger.Error("Error while registering module", "category", cat, "name", name, "error", err)
		return err
	}
	// logic modules get their own execution context
	if cat == CategoryLogic {
		m.runner.adopt(name)
	}
	return nil
}

// ConnectModule resolves the declared connect entries of cat/name.
// Every failure is reported through the logger and returned, never
// raised further: bulk wiring of many modules continues past
// individual failures. The first failing connector aborts the
// remaining connections of this module.
func (m *Manager) ConnectModule(cat Category, name string) error {
	m.mu.RLock()
	spec, defined := m.defined[cat][name]
	inst := m.loaded[cat][name]
	m.mu.RUnlock()

	if !defined {
		return m.wireError(cat, name, "", fmt.Errorf("%w: %s/%s", ErrModuleNotDefined, cat, name))
	}
	if inst == nil {
		return m.wireError(cat, name, "", fmt.Errorf("%w: loading was not successful, not connecting", ErrModuleNotLoaded))
	}
	if len(spec.Connect) == 0 {
		return nil
	}
	table := inst.Module.Connectors()
	if table == nil || len(table.In) == 0 {
		return m.wireError(cat, name, "", fmt.Errorf("%w: connect declared but nothing to bind", ErrNoInConnectors))
	}

	for local, rawTarget := range spec.Connect {
		in, ok := table.In[local]
		if !ok {
			return m.wireError(cat, name, local, fmt.Errorf("%w: IN connector %q", ErrConnectorNotDeclared, local))
		}
		if in.Bound() {
			return m.wireError(cat, name, local, fmt.Errorf("%w: IN connector %q", ErrConnectorAlreadyBound, local))
		}
		ref, ok := rawTarget.(string)
		if !ok {
			return m.wireError(cat, name, local, fmt.Errorf("%w: value is not a string", ErrConnectTargetMalformed))
		}
		parts := strings.Split(ref, ".")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return m.wireError(cat, name, local, fmt.Errorf("%w: %q does not contain a dot", ErrConnectTargetMalformed, ref))
		}
		destMod, destCon := parts[0], parts[1]

		// resolve the target by bare instance name, hardware first
		m.mu.RLock()
		hw, inHW := m.loaded[CategoryHardware][destMod]
		lg, inLG := m.loaded[CategoryLogic][destMod]
		m.mu.RUnlock()

		var target *Instance
		switch {
		case inHW && inLG:
			return m.wireError(cat, name, local, fmt.Errorf("%w: %q", ErrTargetAmbiguous, destMod))
		case inHW:
			target = hw
		case inLG:
			target = lg
		default:
			return m.wireError(cat, name, local, fmt.Errorf("%w: %q", ErrTargetNotFound, destMod))
		}

		outs := target.Module.Connectors()
		if outs == nil || len(outs.Out) == 0 {
			return m.wireError(cat, name, local, fmt.Errorf("%w: target %q", ErrNoOutConnectors, destMod))
		}
		outCap, ok := outs.Out[destCon]
		if !ok {
			return m.wireError(cat, name, local, fmt.Errorf("%w: OUT connector %q of %q", ErrConnectorNotDeclared, destCon, destMod))
		}
		if outCap.Class == "" {
			return m.wireError(cat, name, local, fmt.Errorf("%w: OUT connector %q of %q declares no capability class", ErrConnectTargetMalformed, destCon, destMod))
		}

		if err := in.bind(target.Module); err != nil {
			return m.wireError(cat, name, local, err)
		}
		m.logger.Info("Connected module",
			"category", cat, "name", name, "in", local,
			"target", destMod, "out", destCon, "class", outCap.Class)
	}
	return nil
}

func (m *Manager) wireError(cat Category, name, connector string, err error) error {
	m.logger.Error("Wiring error", "category", cat, "name", name, "connector", connector, "error", err)
	return err
}

// ActivateModule invokes the module's activation hook. A module that
// is already running and belongs to the startup set is left alone; one
// outside the startup set in a non-activatable state is a reported
// error. Hook failures are trapped and logged so a single bad module
// cannot halt a startup sequence; the module keeps its prior state.
func (m *Manager) ActivateModule(ctx context.Context, cat Category, name string) error {
	m.mu.RLock()
	inst, ok := m.loaded[cat][name]
	_, inStart := m.start[cat][name]
	m.mu.RUnlock()
	if !ok {
		m.logger.Error("Cannot activate: module not loaded", "category", cat, "name", name)
		return fmt.Errorf("%w: %s/%s", ErrModuleNotLoaded, cat, name)
	}

	st := inst.State()
	if !st.activatable() {
		if inStart {
			return nil
		}
		m.logger.Error("Module not deactivated anymore", "category", cat, "name", name, "state", st)
		return fmt.Errorf("%w: %s/%s in state %s", ErrNotActivatable, cat, name, st)
	}

	if err := inst.Module.OnActivate(ctx); err != nil {
		m.logger.Error("Error during activation", "category", cat, "name", name, "error", err)
		return nil
	}
	inst.setState(StateActivated)
	m.emit(EventTypeModulesChanged, map[string]any{
		"category": string(cat), "name": name, "state": string(StateActivated),
	})
	m.logger.Info("Activated module", "category", cat, "name", name)
	return nil
}

// DeactivateModule invokes the module's deactivation hook. Hook
// failures are trapped and logged; the state still moves to
// deactivated so the module can be reactivated after the operator
// clears the fault.
func (m *Manager) DeactivateModule(ctx context.Context, cat Category, name string) error {
	m.mu.RLock()
	inst, ok := m.loaded[cat][name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrModuleNotLoaded, cat, name)
	}
	if st := inst.State(); st != StateActivated {
		m.logger.Warn("Module not active, nothing to deactivate", "category", cat, "name", name, "state", st)
		return nil
	}
	if err := inst.Module.OnDeactivate(ctx); err != nil {
		m.logger.Error("Error during deactivation", "category", cat, "name", name, "error", err)
	}
	inst.setState(StateDeactivated)
	if cat == CategoryLogic {
		m.runner.release(name)
	}
	m.emit(EventTypeModuleQuit, map[string]any{"category": string(cat), "name": name})
	return nil
}

// StartAllConfiguredModules loads, wires and activates every defined
// module. Categories run in the fixed hardware, logic, gui order; the
// order inside a category is definition order. Individual failures are
// logged and skipped so one broken device does not prevent the others
// from loading.
func (m *Manager) StartAllConfiguredModules(ctx context.Context) {
	for _, cat := range Categories {
		for _, name := range m.definedNames(cat) {
			_ = m.LoadConfigureModule(cat, name)
		}
	}

	m.logger.Info("Connecting all configured modules")
	for _, cat := range []Category{CategoryLogic, CategoryGUI} {
		for _, name := range m.definedNames(cat) {
			_ = m.ConnectModule(cat, name)
		}
	}

	m.logger.Info("Activation starting")
	for _, cat := range Categories {
		for _, name := range m.loadedNames(cat) {
			_ = m.ActivateModule(ctx, cat, name)
		}
	}
	m.logger.Info("Activation finished")
}

// ActivationOrder computes a dependency-resolved order over all
// defined modules: each module depends on the instances its connect
// entries reference. A `cost` option on a module weights its branch.
// StartAllConfiguredModules intentionally keeps the fixed category
// order instead; this is for callers that want dependency ordering.
func (m *Manager) ActivationOrder() ([]string, error) {
	m.mu.RLock()
	deps := make(map[string][]string)
	cost := make(map[string]float64)
	haveCost := false
	for _, cat := range Categories {
		for name, spec := range m.defined[cat] {
			deps[name] = nil
			for _, raw := range spec.Connect {
				ref, ok := raw.(string)
				if !ok {
					continue
				}
				if i := strings.IndexByte(ref, '.'); i > 0 {
					deps[name] = append(deps[name], ref[:i])
				}
			}
			slices.Sort(deps[name])
			if c, ok := spec.Options.Float("cost"); ok {
				cost[name] = c
				haveCost = true
			}
		}
	}
	m.mu.RUnlock()

	if !haveCost {
		return Toposort(deps, nil)
	}
	return Toposort(deps, cost)
}

// AbortAll broadcasts the abort-all notification to listening modules.
func (m *Manager) AbortAll() {
	m.emit(EventTypeAbortAll, nil)
}

// Quit deactivates all loaded modules in reverse category order (gui,
// logic, hardware), shuts down the logic runner and emits the
// manager-quit notification.
func (m *Manager) Quit(ctx context.Context) {
	for i := len(Categories) - 1; i >= 0; i-- {
		cat := Categories[i]
		names := m.loadedNames(cat)
		slices.Reverse(names)
		for _, name := range names {
			_ = m.DeactivateModule(ctx, cat, name)
		}
	}
	m.runner.shutdown()
	m.emit(EventTypeManagerQuit, nil)
}

func (m *Manager) definedNames(cat Category) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.definedOrder[cat])
}

func (m *Manager) loadedNames(cat Category) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.loadedOrder[cat])
}
