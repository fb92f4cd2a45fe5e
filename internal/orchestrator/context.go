package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"testbed/internal/api"
	"testbed/internal/descriptor"
	"testbed/internal/instrumentation"
	"testbed/internal/resolution"
	"testbed/internal/resources"
	"testbed/internal/substitution"
	"testbed/pkg/logging"
)

// transitions lists the legal successor states of a test context.
var transitions = map[api.ContextState][]api.ContextState{
	api.StateCreated:              {api.StateAnalyzed, api.StateFailed},
	api.StateAnalyzed:             {api.StateServiceResolved, api.StateFailed},
	api.StateServiceResolved:      {api.StateResourcesProvisioned, api.StateSubstitutionsApplied, api.StateFailed},
	api.StateResourcesProvisioned: {api.StateSubstitutionsApplied, api.StateFailed},
	api.StateSubstitutionsApplied: {api.StateReady, api.StateFailed},
	api.StateReady:                {api.StateRunning, api.StateTearingDown},
	api.StateRunning:              {api.StateTearingDown},
	api.StateTearingDown:          {api.StateDestroyed},
}

// CanTransition reports whether a context may move from one state to another.
func CanTransition(from, to api.ContextState) bool {
	return slices.Contains(transitions[from], to)
}

// TestContext is one assembled test environment: a service instance, its
// resources, substitutes and instrumentation. It is owned by a single test
// and not reused.
type TestContext struct {
	o       *Orchestrator
	id      string
	fixture any

	mu           sync.Mutex
	state        api.ContextState
	history      []api.ContextState
	teardownErrs []error
	teardownErr  error
	tornDown     bool

	model            *descriptor.Model
	plan             *substitution.Plan
	backend          api.ServiceResolutionProvider
	mocks            api.MockProvider
	instrumentations []api.InstrumentationProvider

	layer   *instrumentation.Layer
	service *resolution.Service
	prov    *resources.Provisioner
	subs    *substitution.Result
}

// ID returns the unique id of the context.
func (tc *TestContext) ID() string { return tc.id }

// Name returns the fixture name, or its Go type before analysis.
func (tc *TestContext) Name() string {
	if tc.model != nil {
		return tc.model.Name()
	}
	return fmt.Sprintf("%T", tc.fixture)
}

// Fixture returns the injected fixture.
func (tc *TestContext) Fixture() any { return tc.fixture }

// Descriptor returns the analyzed fixture, nil if analysis failed.
func (tc *TestContext) Descriptor() api.Descriptor {
	if tc.model == nil {
		return nil
	}
	return tc.model
}

// State returns the current state.
func (tc *TestContext) State() api.ContextState {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.state
}

// History returns every state the context went through, in order.
func (tc *TestContext) History() []api.ContextState {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return slices.Clone(tc.history)
}

func (tc *TestContext) setState(newState api.ContextState) {
	tc.mu.Lock()
	old := tc.state
	if !CanTransition(old, newState) {
		tc.mu.Unlock()
		panic(fmt.Sprintf("test context %s: illegal transition %s -> %s", tc.id, old, newState))
	}
	tc.state = newState
	tc.history = append(tc.history, newState)
	tc.mu.Unlock()

	logging.Debug("Orchestrator", "Test context %s: %s -> %s", tc.id, old, newState)
	if cb := tc.o.cfg.OnStateChange; cb != nil {
		cb(tc.id, old, newState)
	}
}

// Context returns a context that carries the instrumentation layer, for
// code under test that goes through instrumentation.Call.
func (tc *TestContext) Context() context.Context {
	return tc.withLayer(context.Background())
}

func (tc *TestContext) withLayer(ctx context.Context) context.Context {
	return instrumentation.WithLayer(ctx, tc.layer)
}

// Instrumentation returns the layer of the context.
func (tc *TestContext) Instrumentation() *instrumentation.Layer { return tc.layer }

// Service returns the service instance, nil before StateServiceResolved.
func (tc *TestContext) Service() *resolution.Service { return tc.service }

// Resolve returns the instance bound to key.
func (tc *TestContext) Resolve(key api.BindingKey) (any, error) {
	if tc.service == nil {
		return nil, fmt.Errorf("test context %s has no service instance", tc.id)
	}
	return tc.service.Resolve(key)
}

// Resolve returns the instance bound to (T, name).
func Resolve[T any](tc *TestContext, name string) (T, error) {
	var zero T
	v, err := tc.Resolve(api.KeyOf[T](name))
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("binding %s holds %T", api.KeyOf[T](name), v)
	}
	return t, nil
}

// Resource returns the named resource instance. A lazy resource is started
// by the first call.
func (tc *TestContext) Resource(ctx context.Context, name string) (*api.ResourceInstance, error) {
	if tc.prov == nil {
		return nil, fmt.Errorf("test context %s has no resources", tc.id)
	}
	return tc.prov.Start(tc.withLayer(ctx), name)
}

// Resources returns the started resource instances in start order.
func (tc *TestContext) Resources() []*api.ResourceInstance {
	if tc.prov == nil {
		return nil
	}
	return tc.prov.Instances()
}

// Provisioner returns the resource provisioner of the context.
func (tc *TestContext) Provisioner() *resources.Provisioner { return tc.prov }

// Substitute returns the substitution of the named field.
func (tc *TestContext) Substitute(field string) (*substitution.Substitution, bool) {
	if tc.subs == nil {
		return nil, false
	}
	return tc.subs.Get(field)
}

// TeardownErrors returns the failures of rollback or teardown.
func (tc *TestContext) TeardownErrors() []error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return slices.Clone(tc.teardownErrs)
}

// Teardown destroys the service instance, stops the resources and removes
// the instrumentation. Failures are logged and aggregated in the returned
// error, every step still runs. Calling it again returns the first result.
func (tc *TestContext) Teardown(ctx context.Context) error {
	tc.mu.Lock()
	if tc.tornDown {
		err := tc.teardownErr
		tc.mu.Unlock()
		return err
	}
	tc.tornDown = true
	state := tc.state
	tc.mu.Unlock()

	if state == api.StateFailed {
		return nil
	}
	tc.setState(api.StateTearingDown)
	errs := tc.release(ctx)
	for _, err := range errs {
		logging.Error("Orchestrator", err, "Teardown of test context %s", tc.id)
	}
	tc.o.cfg.Metrics.TeardownFailed(len(errs))
	err := api.NewTeardownError(tc.Name(), errs)

	tc.mu.Lock()
	tc.teardownErrs = append(tc.teardownErrs, errs...)
	tc.teardownErr = err
	tc.mu.Unlock()
	tc.setState(api.StateDestroyed)
	logging.Info("Orchestrator", "Test context %s destroyed", tc.id)
	return err
}

// Verify checks that no fake saw uninspected interactions, if the fixture
// asked for it.
func (tc *TestContext) Verify() error {
	if tc.model == nil || tc.subs == nil || !tc.model.VerifyInteractions() {
		return nil
	}
	if err := tc.subs.Verify(); err != nil {
		tc.o.cfg.Metrics.VerificationFailed()
		return err
	}
	return nil
}
