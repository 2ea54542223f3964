package labcore

import (
	"errors"
)

// Framework errors
var (
	// Structural errors: fatal to the specific operation, returned to
	// the caller.
	ErrUnknownCategory       = errors.New("unknown module category")
	ErrDuplicateInstanceName = errors.New("instance name already in use")
	ErrDependencyCycle       = errors.New("cannot resolve configure/start order: dependency cycle")
	ErrModuleTypeUnknown     = errors.New("module type not registered")
	ErrModuleTypeRegistered  = errors.New("module type already registered")
	ErrNoConnectorSurface    = errors.New("module does not expose a connector table")

	// Configuration errors: skipped with a warning, never fatal to a
	// bulk load.
	ErrNoModuleRef        = errors.New("no module specified")
	ErrModuleNotDefined   = errors.New("module not present in configuration")
	ErrConfigNotFound     = errors.New("configuration file not found")
	ErrNamedConfigMissing = errors.New("named configuration not found")

	// Wiring errors: reported per connection, never fatal.
	ErrModuleNotLoaded        = errors.New("module was not loaded")
	ErrNoInConnectors         = errors.New("module declares no IN connectors")
	ErrConnectorNotDeclared   = errors.New("connector not declared by module")
	ErrConnectTargetMalformed = errors.New("connect target is malformed")
	ErrConnectorAlreadyBound  = errors.New("connector is already bound")
	ErrTargetAmbiguous        = errors.New("target name exists in both hardware and logic")
	ErrTargetNotFound         = errors.New("target name not found in hardware or logic")
	ErrNoOutConnectors        = errors.New("target declares no OUT connectors")
	ErrCapabilityMismatch     = errors.New("target does not satisfy connector capability")

	// Lifecycle errors.
	ErrNotActivatable = errors.New("module is not in an activatable state")
)
