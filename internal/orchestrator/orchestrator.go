package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"testbed/internal/analyzer"
	"testbed/internal/api"
	"testbed/internal/config"
	"testbed/internal/instrumentation"
	"testbed/internal/metrics"
	"testbed/internal/registry"
	"testbed/internal/resolution"
	"testbed/internal/resources"
	"testbed/internal/substitution"
	"testbed/pkg/logging"
)

// Config holds the configuration for the orchestrator. It is fixed at
// construction and shared by every test context the orchestrator runs.
type Config struct {
	// Registry is the provider registry. Nil means registry.Default().
	Registry *registry.Registry
	// Analyzer caches descriptors. Nil means a new analyzer on Registry.
	Analyzer *analyzer.Analyzer

	Level api.TestLevel
	// Strategy overrides the level default. Fixture and declaration
	// strategies still win over it.
	Strategy api.StartStrategy
	// Backend and MockProvider select providers when the fixture does not.
	Backend      string
	MockProvider string

	StartTimeout time.Duration
	StopTimeout  time.Duration
	// Parallel bounds RunSuite concurrency.
	Parallel int

	// Overrides replace declared resource properties by resource name.
	Overrides map[string]map[string]string
	Env       map[string]string

	Metrics *metrics.Recorder
	// OnStateChange observes every context state transition.
	OnStateChange func(id string, oldState, newState api.ContextState)
	// OnResourceStateChange observes every resource state transition.
	OnResourceStateChange resources.StateChangeCallback
}

// FromFile maps a loaded configuration onto an orchestrator Config.
func FromFile(cfg config.Config) Config {
	return Config{
		Level:        cfg.Level,
		Strategy:     cfg.Strategy,
		Backend:      cfg.Backend,
		MockProvider: cfg.MockProvider,
		StartTimeout: cfg.Timeouts.Start,
		StopTimeout:  cfg.Timeouts.Stop,
		Parallel:     cfg.Parallel,
		Overrides:    cfg.Resources,
		Env:          cfg.Env,
	}
}

// Orchestrator assembles, runs and tears down test contexts.
type Orchestrator struct {
	cfg      Config
	registry *registry.Registry
	analyzer *analyzer.Analyzer
}

// New creates a new orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	reg := cfg.Registry
	if reg == nil {
		var err error
		if reg, err = registry.Default(); err != nil {
			return nil, fmt.Errorf("building provider registry: %w", err)
		}
	}
	if cfg.Level == "" {
		cfg.Level = api.LevelUnit
	}
	if err := cfg.Level.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Strategy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	an := cfg.Analyzer
	if an == nil {
		an = analyzer.New(reg)
	}
	return &Orchestrator{cfg: cfg, registry: reg, analyzer: an}, nil
}

// Registry returns the provider registry in use.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// Analyzer returns the descriptor analyzer in use.
func (o *Orchestrator) Analyzer() *analyzer.Analyzer { return o.analyzer }

// Body is a test body run against an assembled context.
type Body func(ctx context.Context, tc *TestContext) error

// Result is the outcome of one Run.
type Result struct {
	Name    string
	Context *TestContext
	// Outcome is one of the metrics outcome labels.
	Outcome string
	// Err is the setup, body or verification failure.
	Err error
	// TeardownErr holds best-effort teardown failures. They do not change
	// Err.
	TeardownErr error
	Duration    time.Duration
}

// Run assembles a context for fixture, runs body in it and tears it down
// again, even when body fails or panics. Interaction verification runs
// after teardown. The returned error is Result.Err.
func (o *Orchestrator) Run(ctx context.Context, fixture any, body Body) (*Result, error) {
	start := time.Now()
	res := &Result{}
	defer func() {
		res.Duration = time.Since(start)
		o.cfg.Metrics.ContextFinished(res.Outcome)
	}()

	tc, err := o.Setup(ctx, fixture)
	res.Context = tc
	if err != nil {
		res.Outcome, res.Err = metrics.OutcomeSetupFailed, err
		return res, err
	}

	bodyErr := tc.run(ctx, body)
	res.TeardownErr = tc.Teardown(ctx)
	verifyErr := tc.Verify()

	switch {
	case bodyErr != nil:
		res.Outcome, res.Err = metrics.OutcomeBodyFailed, bodyErr
		if verifyErr != nil {
			res.Err = errors.Join(bodyErr, verifyErr)
		}
	case verifyErr != nil:
		res.Outcome, res.Err = metrics.OutcomeVerifyFailed, verifyErr
	case res.TeardownErr != nil:
		res.Outcome = metrics.OutcomeTeardownError
	default:
		res.Outcome = metrics.OutcomePassed
	}
	return res, res.Err
}

// Setup assembles a ready test context for fixture, a pointer to a
// struct. On failure everything already set up is torn down again, the
// context ends in StateFailed and a *api.SetupError is returned.
func (o *Orchestrator) Setup(ctx context.Context, fixture any) (*TestContext, error) {
	tc := newTestContext(o, fixture)
	logging.Debug("Orchestrator", "Setting up test context %s", tc.id)

	steps := []struct {
		state api.ContextState
		run   func(context.Context) error
		skip  func() bool
	}{
		{state: api.StateAnalyzed, run: tc.analyze},
		{state: api.StateServiceResolved, run: tc.resolveServices},
		{state: api.StateResourcesProvisioned, run: tc.provision, skip: tc.noEagerResources},
		{state: api.StateSubstitutionsApplied, run: tc.substitute},
		{state: api.StateReady, run: tc.ready},
	}
	for _, step := range steps {
		if step.skip != nil && step.skip() {
			continue
		}
		if err := tc.runStep(ctx, step.run); err != nil {
			return tc, tc.fail(ctx, step.state, err)
		}
		tc.setState(step.state)
	}
	logging.Info("Orchestrator", "Test context %s for %s ready", tc.id, tc.Name())
	return tc, nil
}

func newTestContext(o *Orchestrator, fixture any) *TestContext {
	return &TestContext{
		o:       o,
		id:      uuid.NewString(),
		fixture: fixture,
		state:   api.StateCreated,
		history: []api.ContextState{api.StateCreated},
		layer:   instrumentation.NewLayer(),
	}
}

// analyze builds the descriptor and resolves every provider the context
// needs. Nothing is created yet.
func (tc *TestContext) analyze(context.Context) error {
	v := reflect.ValueOf(tc.fixture)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return &api.AnalysisError{Fixture: fmt.Sprintf("%T", tc.fixture), Reason: "fixture must be a non-nil pointer to a struct"}
	}
	m, err := tc.o.analyzer.Analyze(tc.fixture)
	if err != nil {
		return err
	}
	tc.model = m

	cfg := tc.o.cfg
	reg := tc.o.registry
	if tc.backend, err = registry.LookupOne[api.ServiceResolutionProvider](reg, firstOf(m.Backend(), cfg.Backend)); err != nil {
		return err
	}

	if tc.plan, err = substitution.PlanFor(m); err != nil {
		return err
	}
	if tc.plan.NeedsMocks() {
		if tc.mocks, err = registry.LookupOne[api.MockProvider](reg, firstOf(m.MockProvider(), cfg.MockProvider)); err != nil {
			return err
		}
	}

	if names := m.Instrumentations(); names == nil {
		tc.instrumentations = registry.Lookup[api.InstrumentationProvider](reg)
	} else {
		for _, n := range names {
			p, err := registry.LookupOne[api.InstrumentationProvider](reg, n)
			if err != nil {
				return err
			}
			tc.instrumentations = append(tc.instrumentations, p)
		}
	}

	tc.prov, err = resources.New(tc.id, m.Name(), m.Resources(), resources.Options{
		Registry:       reg,
		Strategy:       tc.strategy(),
		Env:            cfg.Env,
		Overrides:      cfg.Overrides,
		ConfigHandlers: m.ConfigHandlers(),
		StartTimeout:   cfg.StartTimeout,
		StopTimeout:    cfg.StopTimeout,
		Metrics:        cfg.Metrics,
		OnStateChange:  cfg.OnResourceStateChange,
	})
	return err
}

// strategy is the context wide start strategy: the fixture's, else the
// configured one, else the level default.
func (tc *TestContext) strategy() api.StartStrategy {
	if s := tc.model.Strategy().Normalize(); s != api.StrategyUndefined {
		return s
	}
	if s := tc.o.cfg.Strategy.Normalize(); s != api.StrategyUndefined {
		return s
	}
	return tc.o.cfg.Level.DefaultStrategy()
}

// resolveServices installs instrumentation and creates the service
// instance.
func (tc *TestContext) resolveServices(ctx context.Context) error {
	for _, p := range tc.instrumentations {
		if err := tc.layer.InstallProvider(p); err != nil {
			return err
		}
	}
	// The container outlives setup and resolves lazy bindings later.
	svc, err := resolution.Create(context.WithoutCancel(ctx), tc.model, tc.backend, tc.layer)
	if err != nil {
		return err
	}
	tc.service = svc
	return nil
}

func (tc *TestContext) noEagerResources() bool {
	return len(tc.prov.Names(api.StrategyEager)) == 0
}

// provision starts every eager resource before any binding is added.
func (tc *TestContext) provision(ctx context.Context) error {
	return tc.prov.StartEager(ctx)
}

// substitute binds resources, materializes substitutions and injects the
// fixture fields.
func (tc *TestContext) substitute(ctx context.Context) error {
	for _, name := range tc.prov.Started() {
		bindings, err := tc.prov.Bindings(name)
		if err != nil {
			return err
		}
		for _, key := range sortedKeys(bindings) {
			if err := tc.service.AddBinding(key, bindings[key]); err != nil {
				return fmt.Errorf("resource %s: %w", name, err)
			}
		}
	}
	for _, lb := range tc.prov.LazyBindings() {
		if err := tc.service.AddLazyBinding(lb.Key, lb.Resolve); err != nil {
			return fmt.Errorf("lazy resource %s: %w", lb.Resource, err)
		}
	}

	subs, err := substitution.Materialize(tc.plan, tc.mocks, tc.service.Resolve)
	if err != nil {
		return err
	}
	tc.subs = subs
	if err := subs.Apply(tc.service.AddBinding); err != nil {
		return err
	}
	return tc.inject(ctx)
}

// ready checks that every installed interceptor can be reached.
func (tc *TestContext) ready(context.Context) error {
	return tc.layer.Verify(tc.service.Targets())
}

// fail rolls back whatever setup created and moves the context to
// StateFailed.
func (tc *TestContext) fail(ctx context.Context, stage api.ContextState, err error) error {
	logging.Error("Orchestrator", err, "Setup of test context %s failed in %s, rolling back", tc.id, stage)
	errs := tc.release(ctx)
	tc.mu.Lock()
	tc.teardownErrs = append(tc.teardownErrs, errs...)
	tc.mu.Unlock()
	tc.setState(api.StateFailed)
	return &api.SetupError{Fixture: tc.Name(), Stage: stage, Err: err}
}

// release destroys the service instance, stops every started resource in
// reverse start order and removes the instrumentation, in that order. It
// keeps going past failures and returns all of them.
func (tc *TestContext) release(ctx context.Context) []error {
	ctx = tc.withLayer(context.WithoutCancel(ctx))
	var errs []error
	if tc.service != nil {
		if err := tc.service.Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if tc.prov != nil {
		if err := tc.prov.StopAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	tc.layer.Uninstrument()
	return errs
}

// runStep runs one setup step. A panic becomes a *api.SetupPanicError so
// the context still rolls back.
func (tc *TestContext) runStep(ctx context.Context, step func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &api.SetupPanicError{Value: r, Stack: debug.Stack()}
			logging.Error("Orchestrator", err, "Setup of %s panicked", tc.id)
		}
	}()
	return step(tc.withLayer(ctx))
}

func (tc *TestContext) run(ctx context.Context, body Body) (err error) {
	tc.setState(api.StateRunning)
	defer func() {
		if r := recover(); r != nil {
			err = &api.BodyPanicError{Value: r, Stack: debug.Stack()}
			logging.Error("Orchestrator", err, "Test body of %s panicked", tc.id)
		}
	}()
	if body == nil {
		return nil
	}
	return body(tc.withLayer(ctx), tc)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
