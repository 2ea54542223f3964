package labcore

import (
	"fmt"
	"slices"
	"sync"
)

// TypeRegistry maps declared module-type identifiers (the `module:`
// value in configuration, e.g. "hardware.awg") to constructor
// functions. It replaces dynamic class lookup with an explicit table
// populated at startup from a static manifest.
type TypeRegistry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewTypeRegistry creates an empty type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{ctors: make(map[string]Constructor)}
}

// Register adds a constructor under the given type identifier.
func (r *TypeRegistry) Register(ref string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[ref]; exists {
		return fmt.Errorf("%w: %s", ErrModuleTypeRegistered, ref)
	}
	r.ctors[ref] = ctor
	return nil
}

// MustRegister is Register for static manifests; it panics on a
// duplicate identifier, which is a programming error.
func (r *TypeRegistry) MustRegister(ref string, ctor Constructor) {
	if err := r.Register(ref, ctor); err != nil {
		panic(err)
	}
}

// Lookup resolves a type identifier to its constructor.
func (r *TypeRegistry) Lookup(ref string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[ref]
	return ctor, ok
}

// Types returns the registered type identifiers, sorted.
func (r *TypeRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.ctors))
	for ref := range r.ctors {
		refs = append(refs, ref)
	}
	slices.Sort(refs)
	return refs
}
