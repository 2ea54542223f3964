package labcore

import (
	"fmt"
	"reflect"
)

// Capability describes what flows through a connector. Class is the
// capability identifier used in configuration and log output; Iface,
// when non-nil, is the Go interface a bound target must implement.
// Interface checking replaces the loose class-name string comparison
// the framework historically relied on: a bind either succeeds with a
// usable typed target or is rejected with an error.
type Capability struct {
	Class string
	Iface reflect.Type
}

// CapabilityOf builds a Capability from an interface pointer, e.g.
//
//	CapabilityOf("Pump", reflect.TypeOf((*edwards.Pump)(nil)).Elem())
func CapabilityOf(class string, iface reflect.Type) Capability {
	return Capability{Class: class, Iface: iface}
}

// InConnector is a named input slot. It is bound at most once; the
// bound target is the other module's instance object.
type InConnector struct {
	Capability Capability
	target     Module
}

// Bound reports whether the connector has been bound.
func (c *InConnector) Bound() bool { return c.target != nil }

// Target returns the bound module, or nil if the connector is unbound.
func (c *InConnector) Target() Module { return c.target }

// bind attaches target to the connector after checking the capability
// shape. A second bind attempt is rejected.
func (c *InConnector) bind(target Module) error {
	if c.target != nil {
		return fmt.Errorf("%w: already bound to %s", ErrConnectorAlreadyBound, c.target.Name())
	}
	if c.Capability.Iface != nil {
		t := reflect.TypeOf(target)
		if !t.Implements(c.Capability.Iface) {
			return fmt.Errorf("%w: %T does not implement %s (capability %s)",
				ErrCapabilityMismatch, target, c.Capability.Iface, c.Capability.Class)
		}
	}
	c.target = target
	return nil
}

// ConnectorTable is a module's declared connector surface.
type ConnectorTable struct {
	In  map[string]*InConnector
	Out map[string]Capability
}

// NewConnectorTable returns an empty connector table.
func NewConnectorTable() *ConnectorTable {
	return &ConnectorTable{
		In:  make(map[string]*InConnector),
		Out: make(map[string]Capability),
	}
}

// DeclareIn adds a named input connector and returns it so modules can
// keep a handle for later Target() access.
func (t *ConnectorTable) DeclareIn(name string, cap Capability) *InConnector {
	c := &InConnector{Capability: cap}
	t.In[name] = c
	return c
}

// DeclareOut adds a named output connector.
func (t *ConnectorTable) DeclareOut(name string, cap Capability) {
	t.Out[name] = cap
}
