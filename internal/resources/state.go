package resources

import (
	"fmt"
	"sync"

	"testbed/internal/api"
)

// StateChangeCallback is notified about every resource state transition.
type StateChangeCallback func(name string, oldState, newState api.ResourceState, err error)

// transitions lists the legal successor states.
var transitions = map[api.ResourceState][]api.ResourceState{
	api.ResourceDeclared:    {api.ResourceConfiguring},
	api.ResourceConfiguring: {api.ResourceStarting, api.ResourceError},
	api.ResourceStarting:    {api.ResourceStarted, api.ResourceError},
	api.ResourceStarted:     {api.ResourceStopping},
	api.ResourceStopping:    {api.ResourceStopped, api.ResourceError},
}

// Resource tracks one declaration through its lifecycle.
type Resource struct {
	mu        sync.RWMutex
	decl      api.ResourceDeclaration
	rendered  api.ResourceDeclaration
	provider  api.ResourceProvider
	strategy  api.StartStrategy
	state     api.ResourceState
	history   []api.ResourceState
	lastError error
	config    any
	instance  *api.ResourceInstance
	cb        StateChangeCallback
}

func newResource(decl api.ResourceDeclaration, p api.ResourceProvider, strategy api.StartStrategy, cb StateChangeCallback) *Resource {
	return &Resource{
		decl:     decl,
		rendered: decl,
		provider: p,
		strategy: strategy,
		state:    api.ResourceDeclared,
		history:  []api.ResourceState{api.ResourceDeclared},
		cb:       cb,
	}
}

// Declaration returns a copy of the resource declaration.
func (r *Resource) Declaration() api.ResourceDeclaration { return r.decl.Clone() }

// Name returns the logical resource name.
func (r *Resource) Name() string { return r.decl.Name }

// Strategy is the effective start strategy after inheritance.
func (r *Resource) Strategy() api.StartStrategy { return r.strategy }

// ProviderName returns the name of the provider that owns the resource.
func (r *Resource) ProviderName() string { return r.provider.ProviderName() }

// State returns the current state.
func (r *Resource) State() api.ResourceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// History returns every state the resource went through, in order.
func (r *Resource) History() []api.ResourceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]api.ResourceState(nil), r.history...)
}

// LastError returns the error that moved the resource into Error, if any.
func (r *Resource) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastError
}

// Instance returns the started instance, nil before Started.
func (r *Resource) Instance() *api.ResourceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instance
}

// Config returns the frozen provider configuration.
func (r *Resource) Config() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// updateState moves the resource to newState. Illegal transitions are
// programming errors in the provisioner and panic.
func (r *Resource) updateState(newState api.ResourceState, err error) {
	r.mu.Lock()
	oldState := r.state
	legal := false
	for _, s := range transitions[oldState] {
		if s == newState {
			legal = true
			break
		}
	}
	if !legal {
		r.mu.Unlock()
		panic(fmt.Sprintf("resource %s: illegal transition %s -> %s", r.decl.Name, oldState, newState))
	}
	r.state = newState
	r.history = append(r.history, newState)
	if err != nil {
		r.lastError = err
	}
	callback := r.cb
	r.mu.Unlock()

	// Call the callback outside of the lock to avoid deadlocks
	if callback != nil {
		callback(r.decl.Name, oldState, newState, err)
	}
}

// Rendered returns the declaration with its properties as the provider
// received them, after overrides and template rendering.
func (r *Resource) Rendered() api.ResourceDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rendered.Clone()
}

func (r *Resource) setConfig(rendered api.ResourceDeclaration, cfg any) {
	r.mu.Lock()
	r.rendered = rendered
	r.config = cfg
	r.mu.Unlock()
}

func (r *Resource) setInstance(inst *api.ResourceInstance) {
	r.mu.Lock()
	r.instance = inst
	r.mu.Unlock()
}
