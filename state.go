package labcore

// State is a module instance's lifecycle state. The normal progression
// is unloaded -> loaded -> activated -> deactivated, with
// deactivated -> activated allowed for reactivation.
type State string

const (
	StateUnloaded    State = "unloaded"
	StateLoaded      State = "loaded"
	StateActivated   State = "activated"
	StateDeactivated State = "deactivated"
)

// activatable reports whether a module in state s may have its
// activation hook invoked. A freshly loaded module has never run its
// hook and counts the same as a deactivated one.
func (s State) activatable() bool {
	return s == StateLoaded || s == StateDeactivated
}
