// Package labcore provides the core of a laboratory instrument-control
// framework: a Manager that loads configuration-declared hardware, logic
// and gui modules, wires their declared connectors together and drives
// them through their lifecycle in a controlled order.
//
// A module is a loadable unit belonging to one of three categories.
// Hardware modules talk to instruments, logic modules coordinate them,
// gui modules expose them. Modules declare named IN and OUT connectors;
// the Manager resolves "instance.connector" references from the
// configuration and binds them before activation.
//
// Basic usage:
//
//	mgr := labcore.NewManager(types, logger)
//	cfg, _ := feeders.Load("default.cfg")
//	mgr.Configure(cfg)
//	mgr.StartAllConfiguredModules(ctx)
package labcore

import (
	"context"
	"sync"
)

// Category identifies the base package a module belongs to.
type Category string

const (
	CategoryHardware Category = "hardware"
	CategoryLogic    Category = "logic"
	CategoryGUI      Category = "gui"
)

// Categories lists the recognized categories in their fixed
// load/activation order.
var Categories = []Category{CategoryHardware, CategoryLogic, CategoryGUI}

// Valid reports whether c is one of the three recognized categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryHardware, CategoryLogic, CategoryGUI:
		return true
	}
	return false
}

// Module is the contract every loadable unit implements.
// Instances are created by a Constructor registered in a TypeRegistry
// and are driven through their lifecycle by the Manager; the Manager
// never calls OnActivate twice without an intervening OnDeactivate.
type Module interface {
	// Name returns the instance name the module was configured under.
	Name() string

	// Connectors returns the module's declared connector table.
	// The table is inspected during wiring; modules without
	// connectors return an empty (non-nil) table.
	Connectors() *ConnectorTable

	// OnActivate is the activation hook. Failures are logged by the
	// Manager and leave the module in its prior state.
	OnActivate(ctx context.Context) error

	// OnDeactivate is the deactivation hook.
	OnDeactivate(ctx context.Context) error
}

// Constructor builds a module instance from its configured name and
// option map. The Manager handle gives modules access to the logger
// and to notification emission.
type Constructor func(mgr *Manager, name string, opts Options) (Module, error)

// ModuleSpec is a module as declared in configuration: present in the
// defined tree but not necessarily loaded. It is immutable between
// Configure calls.
type ModuleSpec struct {
	Category Category
	Name     string
	// ModuleRef is the declared module-type identifier, e.g.
	// "hardware.awg", resolved through the TypeRegistry at load time.
	ModuleRef string
	// Options carries the raw per-instance configuration mapping.
	Options Options
	// Connect maps local IN connector names to
	// "otherInstance.otherConnector" references. Values are kept raw
	// so wiring can report malformed (non-string, dotless) entries
	// instead of dropping them at parse time.
	Connect map[string]any
}

// Instance is a loaded module together with its lifecycle state.
type Instance struct {
	Category Category
	Name     string
	Module   Module

	mu    sync.RWMutex
	state State
}

// State returns the instance's current lifecycle state.
func (inst *Instance) State() State {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return inst.state
}

func (inst *Instance) setState(s State) {
	inst.mu.Lock()
	inst.state = s
	inst.mu.Unlock()
}
