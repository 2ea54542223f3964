package labcore

import (
	"context"
	"sync"
)

// runner hands each logic module its own execution context when it is
// loaded, the way the original thread manager gave each logic module
// its own thread. The context is cancelled when the module is released
// or the Manager quits; modules use it to bound background work.
type runner struct {
	mu   sync.Mutex
	base context.Context
	stop context.CancelFunc
	ctxs map[string]context.Context
	cans map[string]context.CancelFunc
}

func newRunner() *runner {
	base, stop := context.WithCancel(context.Background())
	return &runner{
		base: base,
		stop: stop,
		ctxs: make(map[string]context.Context),
		cans: make(map[string]context.CancelFunc),
	}
}

// adopt creates (or returns) the execution context for a module.
func (r *runner) adopt(name string) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx, ok := r.ctxs[name]; ok {
		return ctx
	}
	ctx, cancel := context.WithCancel(r.base)
	r.ctxs[name] = ctx
	r.cans[name] = cancel
	return ctx
}

// context returns the module's execution context, if it has one.
func (r *runner) context(name string) (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.ctxs[name]
	return ctx, ok
}

// release cancels and forgets a module's context.
func (r *runner) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cans[name]; ok {
		cancel()
		delete(r.cans, name)
		delete(r.ctxs, name)
	}
}

// shutdown cancels every module context.
func (r *runner) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stop()
	r.ctxs = make(map[string]context.Context)
	r.cans = make(map[string]context.CancelFunc)
}
