package resources

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"sync"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"testbed/internal/api"
	"testbed/internal/dependency"
	"testbed/internal/metrics"
	"testbed/internal/registry"
	"testbed/internal/template"
	"testbed/pkg/logging"
)

// Options configures a Provisioner.
type Options struct {
	Registry *registry.Registry
	// Strategy is the context level strategy that declarations without
	// their own strategy inherit.
	Strategy api.StartStrategy
	// Env is visible to property templates as .Env.
	Env map[string]string
	// Overrides replace declared properties, per resource name.
	Overrides map[string]map[string]string
	// ConfigHandlers receive every provider configuration before it is
	// frozen. Handlers ignore configuration types they do not know.
	ConfigHandlers []api.ConfigHandler
	// StartTimeout and StopTimeout bound single provider calls. Zero
	// disables the bound.
	StartTimeout time.Duration
	StopTimeout  time.Duration
	Metrics      *metrics.Recorder
	// OnStateChange is notified about every resource state transition.
	OnStateChange StateChangeCallback
}

// Provisioner drives the resources of one test context.
type Provisioner struct {
	id        string
	fixture   string
	opts      Options
	templates *template.Engine
	graph     *dependency.Graph
	order     []string
	resources map[string]*Resource
	rc        *resourceContext

	// startMu serializes Start and StopAll.
	startMu sync.Mutex

	mu       sync.Mutex
	started  []string
	stopped  []string
	lateErrs []error
	orphans  sync.WaitGroup
}

// New validates decls, looks up their providers and computes the start
// order. Nothing is started.
func New(id, fixture string, decls []api.ResourceDeclaration, opts Options) (*Provisioner, error) {
	p := &Provisioner{
		id:        id,
		fixture:   fixture,
		opts:      opts,
		templates: template.New(),
		graph:     dependency.New(),
		resources: make(map[string]*Resource, len(decls)),
	}
	p.rc = &resourceContext{p: p}
	contextStrategy := opts.Strategy.Normalize()

	for _, decl := range decls {
		decl = decl.Clone()
		if _, dup := p.resources[decl.Name]; dup {
			return nil, api.NewAnalysisError(fixture, "", "resource %q declared twice", decl.Name)
		}
		strategy := decl.Strategy.Normalize()
		if strategy == api.StrategyUndefined {
			strategy = contextStrategy
		}
		if strategy == api.StrategyUndefined {
			return nil, api.NewAnalysisError(fixture, "", "resource %q declared but the start strategy is undefined; declare eager or lazy", decl.Name)
		}
		if opts.Registry == nil {
			return nil, &api.ProviderNotFoundError{Contract: reflect.TypeFor[api.ResourceProvider](), Selector: decl.Provider}
		}
		provider, err := opts.Registry.ResourceProvider(decl.Kind, decl.Provider)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", decl.Name, err)
		}
		p.resources[decl.Name] = newResource(decl, provider, strategy, opts.OnStateChange)
	}

	for _, decl := range decls {
		deps := make([]dependency.NodeID, 0, len(decl.DependsOn))
		seen := map[string]bool{}
		add := func(name string) {
			if !seen[name] {
				seen[name] = true
				deps = append(deps, dependency.NodeID(name))
			}
		}
		for _, d := range decl.DependsOn {
			add(d)
		}
		for _, ref := range p.templates.References(p.properties(decl)) {
			if _, ok := p.resources[ref]; !ok {
				return nil, api.NewAnalysisError(fixture, "", "resource %q properties reference undeclared resource %q", decl.Name, ref)
			}
			add(ref)
		}
		p.graph.AddNode(dependency.Node{
			ID:           dependency.NodeID(decl.Name),
			FriendlyName: decl.Provider,
			Kind:         nodeKind(decl.Kind),
			DependsOn:    deps,
		})
	}

	order, err := p.graph.TopologicalSort()
	if err != nil {
		a := api.NewAnalysisError(fixture, "", "invalid resource dependencies")
		a.Err = err
		return nil, a
	}
	for _, id := range order {
		p.order = append(p.order, string(id))
	}
	return p, nil
}

func nodeKind(k api.ResourceKind) dependency.NodeKind {
	switch k {
	case api.KindLocal:
		return dependency.KindLocal
	case api.KindVirtual:
		return dependency.KindVirtual
	case api.KindRemote:
		return dependency.KindRemote
	default:
		return dependency.KindUnknown
	}
}

func (p *Provisioner) properties(decl api.ResourceDeclaration) map[string]string {
	props := maps.Clone(decl.Properties)
	if props == nil {
		props = map[string]string{}
	}
	maps.Copy(props, p.opts.Overrides[decl.Name])
	return props
}

// Context is what providers see of the test context.
func (p *Provisioner) Context() api.ResourceContext { return p.rc }

// Order returns every resource name in start order.
func (p *Provisioner) Order() []string { return append([]string(nil), p.order...) }

// Get returns the named resource.
func (p *Provisioner) Get(name string) (*Resource, bool) {
	r, ok := p.resources[name]
	return r, ok
}

// Names returns the resources of the given effective strategy in start order.
func (p *Provisioner) Names(strategy api.StartStrategy) []string {
	var out []string
	for _, name := range p.order {
		if p.resources[name].strategy == strategy {
			out = append(out, name)
		}
	}
	return out
}

// Started returns the names of started resources in start order.
func (p *Provisioner) Started() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.started...)
}

// Stopped returns the names of stopped resources in stop order.
func (p *Provisioner) Stopped() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.stopped...)
}

// Instances returns the started instances in start order.
func (p *Provisioner) Instances() []*api.ResourceInstance {
	names := p.Started()
	out := make([]*api.ResourceInstance, 0, len(names))
	for _, name := range names {
		out = append(out, p.resources[name].Instance())
	}
	return out
}

// StartEager starts every eager resource, and whatever it depends on, in
// start order. If one fails, every resource that did start is stopped again
// in reverse start order and the start error is returned. Orphans of timed
// out starts are left to StopAll.
func (p *Provisioner) StartEager(ctx context.Context) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	for _, name := range p.order {
		if p.resources[name].strategy != api.StrategyEager {
			continue
		}
		if _, err := p.startLocked(ctx, name); err != nil {
			if rbErr := p.stopLocked(ctx, false); rbErr != nil {
				logging.Error("Provisioner", rbErr, "Rollback after failed start of %s incomplete", name)
			}
			return err
		}
	}
	return nil
}

// Start starts the named resource and its dependencies. Started resources
// are returned as they are, failed ones keep failing with their first error.
func (p *Provisioner) Start(ctx context.Context, name string) (*api.ResourceInstance, error) {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	return p.startLocked(ctx, name)
}

func (p *Provisioner) startLocked(ctx context.Context, name string) (*api.ResourceInstance, error) {
	if _, ok := p.resources[name]; !ok {
		return nil, fmt.Errorf("unknown resource %q", name)
	}
	ids, err := p.graph.StartOrder(dependency.NodeID(name))
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		r := p.resources[string(id)]
		switch state := r.State(); state {
		case api.ResourceStarted:
			continue
		case api.ResourceDeclared:
			if err := p.startOne(ctx, r); err != nil {
				return nil, err
			}
		case api.ResourceError:
			return nil, r.LastError()
		default:
			return nil, fmt.Errorf("resource %s can not be started from state %s", r.Name(), state)
		}
	}
	return p.resources[name].Instance(), nil
}

func (p *Provisioner) startOne(ctx context.Context, r *Resource) error {
	decl := r.Declaration()
	r.updateState(api.ResourceConfiguring, nil)

	props, err := p.templates.RenderMap(p.properties(decl), p.templateData())
	if err != nil {
		return p.fail(r, decl, api.ResourceConfiguring, err)
	}
	decl.Properties = props

	cfg, err := r.provider.Configure(ctx, p.rc, decl, props)
	if err != nil {
		return p.fail(r, decl, api.ResourceConfiguring, err)
	}
	for _, h := range p.opts.ConfigHandlers {
		if err := h(cfg); err != nil {
			return p.fail(r, decl, api.ResourceConfiguring, fmt.Errorf("config handler: %w", err))
		}
	}
	r.setConfig(decl, cfg)

	r.updateState(api.ResourceStarting, nil)
	began := time.Now()
	inst, err := p.callStart(ctx, r, decl, cfg)
	if err != nil {
		return p.fail(r, decl, api.ResourceStarting, err)
	}
	if inst == nil {
		return p.fail(r, decl, api.ResourceStarting, errors.New("provider returned no instance"))
	}
	r.setInstance(inst)
	r.updateState(api.ResourceStarted, nil)

	p.mu.Lock()
	p.started = append(p.started, decl.Name)
	p.mu.Unlock()
	p.opts.Metrics.ResourceStarted(decl, time.Since(began))
	logging.Info("Provisioner", "Started resource %s (%s/%s) at %s", decl.Name, decl.Kind, r.provider.ProviderName(), inst.Address())
	return nil
}

func (p *Provisioner) fail(r *Resource, decl api.ResourceDeclaration, stage api.ResourceState, err error) error {
	perr := &api.ResourceProvisioningError{Declaration: decl, Stage: stage, Err: err}
	r.updateState(api.ResourceError, perr)
	p.opts.Metrics.ResourceFailed(decl, stage)
	logging.Error("Provisioner", err, "Resource %s failed while %s", decl.Name, stage)
	return perr
}

type startResult struct {
	inst *api.ResourceInstance
	err  error
}

// callStart runs the provider's Start. When it does not return within the
// start timeout the resource fails; an instance that still arrives later is
// stopped as an orphan.
func (p *Provisioner) callStart(ctx context.Context, r *Resource, decl api.ResourceDeclaration, cfg any) (*api.ResourceInstance, error) {
	done := make(chan startResult, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- startResult{err: fmt.Errorf("provider panicked: %v", v)}
			}
		}()
		inst, err := r.provider.Start(ctx, p.rc, decl, cfg)
		done <- startResult{inst: inst, err: err}
	}()

	timeout := p.opts.StartTimeout
	if timeout <= 0 {
		res := <-done
		return res.inst, res.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.inst, res.err
	case <-timer.C:
		p.orphans.Add(1)
		go p.reapOrphan(r, decl, done)
		return nil, fmt.Errorf("%w (%s)", api.ErrStartTimeout, timeout)
	}
}

func (p *Provisioner) reapOrphan(r *Resource, decl api.ResourceDeclaration, done <-chan startResult) {
	defer p.orphans.Done()
	res := <-done
	if res.err != nil || res.inst == nil {
		return
	}
	logging.Warn("Provisioner", "Resource %s started after its timeout, stopping the orphaned instance", decl.Name)
	if err := p.callStop(context.Background(), r, decl, res.inst); err != nil {
		p.mu.Lock()
		p.lateErrs = append(p.lateErrs, fmt.Errorf("stopping orphaned %s: %w", decl.Name, err))
		p.mu.Unlock()
	}
}

func (p *Provisioner) callStop(ctx context.Context, r *Resource, decl api.ResourceDeclaration, inst *api.ResourceInstance) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- fmt.Errorf("provider panicked: %v", v)
			}
		}()
		done <- r.provider.Stop(ctx, p.rc, decl, inst)
	}()

	timeout := p.opts.StopTimeout
	if timeout <= 0 {
		return <-done
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("stop did not return within %s", timeout)
	}
}

// StopAll stops every started resource in reverse start order. A failing
// stop is recorded and the remaining resources are still stopped. Orphaned
// instances of timed out starts are awaited.
func (p *Provisioner) StopAll(ctx context.Context) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	return p.stopLocked(ctx, true)
}

func (p *Provisioner) stopLocked(ctx context.Context, awaitOrphans bool) error {
	p.mu.Lock()
	started := p.started
	p.started = nil
	p.mu.Unlock()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		name := started[i]
		r := p.resources[name]
		r.updateState(api.ResourceStopping, nil)
		if err := p.callStop(ctx, r, r.Rendered(), r.Instance()); err != nil {
			err = fmt.Errorf("stopping resource %s: %w", name, err)
			r.updateState(api.ResourceError, err)
			logging.Error("Provisioner", err, "Best-effort stop of %s failed", name)
			errs = append(errs, err)
		} else {
			r.updateState(api.ResourceStopped, nil)
			logging.Debug("Provisioner", "Stopped resource %s", name)
		}
		p.mu.Lock()
		p.stopped = append(p.stopped, name)
		p.mu.Unlock()
	}

	if awaitOrphans {
		errs = append(errs, p.waitOrphans()...)
	}
	return utilerrors.NewAggregate(errs)
}

func (p *Provisioner) waitOrphans() []error {
	done := make(chan struct{})
	go func() {
		p.orphans.Wait()
		close(done)
	}()
	if p.opts.StopTimeout > 0 {
		select {
		case <-done:
		case <-time.After(p.opts.StopTimeout):
			return []error{errors.New("orphaned resource starts did not return before the stop timeout")}
		}
	} else {
		<-done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	errs := p.lateErrs
	p.lateErrs = nil
	return errs
}

// Bindings returns what a started resource contributes to the service
// instance: the instance itself under (*api.ResourceInstance, name) and,
// unless the provider exports its own bindings, every value under
// (type, "name.key") plus (type, name) when no other value shares the type.
func (p *Provisioner) Bindings(name string) (map[api.BindingKey]any, error) {
	r, ok := p.resources[name]
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", name)
	}
	inst := r.Instance()
	if inst == nil || r.State() != api.ResourceStarted {
		return nil, fmt.Errorf("resource %s is %s", name, r.State())
	}

	out := map[api.BindingKey]any{InstanceKey(name): inst}
	if exp, ok := r.provider.(api.BindingExporter); ok {
		maps.Copy(out, exp.Bindings(r.Rendered(), inst))
		return out, nil
	}

	byType := map[reflect.Type][]any{}
	for _, k := range inst.Keys() {
		v, _ := inst.Value(k)
		if v == nil {
			continue
		}
		t := reflect.TypeOf(v)
		out[api.BindingKey{Type: t, Name: name + "." + k}] = v
		byType[t] = append(byType[t], v)
	}
	for t, vs := range byType {
		if len(vs) == 1 {
			out[api.BindingKey{Type: t, Name: name}] = vs[0]
		}
	}
	return out, nil
}

// InstanceKey is the binding key of the named resource instance.
func InstanceKey(name string) api.BindingKey {
	return api.BindingKey{Type: reflect.TypeFor[*api.ResourceInstance](), Name: name}
}

// LazyBinding defers starting a lazy resource until Key is first resolved.
type LazyBinding struct {
	Resource string
	Key      api.BindingKey
	Resolve  api.LazyResolver
}

// LazyBindings returns the deferred bindings of every lazy resource: its
// instance key plus the keys an api.ExposingProvider advertises.
func (p *Provisioner) LazyBindings() []LazyBinding {
	var out []LazyBinding
	for _, name := range p.Names(api.StrategyLazy) {
		r := p.resources[name]
		out = append(out, LazyBinding{Resource: name, Key: InstanceKey(name), Resolve: func(ctx context.Context) (any, error) {
			return p.Start(ctx, name)
		}})
		exp, ok := r.provider.(api.ExposingProvider)
		if !ok {
			continue
		}
		for _, key := range exp.Exposes(r.Declaration()) {
			out = append(out, LazyBinding{Resource: name, Key: key, Resolve: func(ctx context.Context) (any, error) {
				if _, err := p.Start(ctx, name); err != nil {
					return nil, err
				}
				b, err := p.Bindings(name)
				if err != nil {
					return nil, err
				}
				v, ok := b[key]
				if !ok {
					return nil, fmt.Errorf("resource %s did not expose %s", name, key)
				}
				return v, nil
			}})
		}
	}
	return out
}

func (p *Provisioner) templateData() template.Data {
	views := map[string]template.ResourceView{}
	for name, r := range p.resources {
		if r.State() == api.ResourceStarted {
			views[name] = template.ViewOf(r.Instance())
		}
	}
	return template.Data{
		Resources: views,
		Env:       template.MergeEnv(p.opts.Env),
		Context:   template.ContextView{ID: p.id, Fixture: p.fixture},
	}
}

type resourceContext struct {
	p *Provisioner
}

var _ api.ResourceContext = (*resourceContext)(nil)

func (c *resourceContext) ID() string      { return c.p.id }
func (c *resourceContext) Fixture() string { return c.p.fixture }

func (c *resourceContext) Resource(name string) (*api.ResourceInstance, bool) {
	r, ok := c.p.resources[name]
	if !ok || r.State() != api.ResourceStarted {
		return nil, false
	}
	return r.Instance(), true
}
