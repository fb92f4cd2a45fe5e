package resolution

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"testbed/internal/api"
	"testbed/internal/instrumentation"
	"testbed/pkg/logging"
)

// Service is the live service instance of one test context: a configured
// backend container plus the bindings the orchestrator replaced.
type Service struct {
	descriptor string
	provider   string
	container  api.Container
	layer      *instrumentation.Layer

	replaced    map[api.BindingKey]any
	intercepted map[api.BindingKey]bool
	destroyed   bool
}

// Create builds the service instance for d with backend p. Constructor
// calls and binding lookups of the backend are routed through layer.
// Config handlers of d receive the backend configuration before the
// container is built.
func Create(ctx context.Context, d api.Descriptor, p api.ServiceResolutionProvider, layer *instrumentation.Layer) (*Service, error) {
	if layer == nil {
		layer = instrumentation.NewLayer()
	}
	backend, err := p.Create(d, layer.Hooks())
	if err != nil {
		return nil, fmt.Errorf("backend %s: create: %w", p.ProviderName(), err)
	}
	for i, h := range d.ConfigHandlers() {
		if err := h(backend); err != nil {
			return nil, fmt.Errorf("config handler %d: %w", i, err)
		}
	}
	c, err := p.Configure(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("backend %s: configure: %w", p.ProviderName(), err)
	}
	logging.Debug("Resolution", "Created service instance for %s with backend %s", d.Name(), p.ProviderName())
	return &Service{
		descriptor:  d.Name(),
		provider:    p.ProviderName(),
		container:   c,
		layer:       layer,
		replaced:    make(map[api.BindingKey]any),
		intercepted: make(map[api.BindingKey]bool),
	}, nil
}

// Backend returns the name of the backend provider.
func (s *Service) Backend() string { return s.provider }

// AddBinding adds or replaces the binding for key. When the backend can
// not replace an existing binding the lookup is intercepted instead.
func (s *Service) AddBinding(key api.BindingKey, instance any) error {
	if s.destroyed {
		return errors.New("service instance destroyed")
	}
	err := s.container.Bind(key, instance)
	switch {
	case err == nil:
	case errors.Is(err, api.ErrRebindUnsupported):
		if _, lazy := instance.(api.LazyResolver); lazy {
			return fmt.Errorf("binding %s: lazy rebinding needs backend support: %w", key, err)
		}
		if ierr := s.layer.Instrument(instrumentation.BindingTarget(key), instrumentation.Replace(instrumentation.MaxPriority, instance)); ierr != nil {
			return fmt.Errorf("binding %s: %w", key, ierr)
		}
		s.intercepted[key] = true
		logging.Debug("Resolution", "Backend %s can not rebind %s, intercepting lookups", s.provider, key)
	default:
		return fmt.Errorf("binding %s: %w", key, err)
	}
	s.replaced[key] = instance
	return nil
}

// AddLazyBinding binds key to a value computed on first resolution and
// memoized afterwards.
func (s *Service) AddLazyBinding(key api.BindingKey, resolve api.LazyResolver) error {
	var (
		once  sync.Once
		value any
		err   error
	)
	memo := api.LazyResolver(func(ctx context.Context) (any, error) {
		once.Do(func() { value, err = resolve(ctx) })
		return value, err
	})
	return s.AddBinding(key, memo)
}

// Resolve returns the instance bound to key.
func (s *Service) Resolve(key api.BindingKey) (any, error) {
	if s.destroyed {
		return nil, errors.New("service instance destroyed")
	}
	v, err := s.container.Resolve(key)
	if err != nil {
		if api.IsUnsatisfiedDependency(err) {
			return nil, err
		}
		return nil, &api.UnsatisfiedDependencyError{Key: key, Err: err}
	}
	if lazy, ok := v.(api.LazyResolver); ok {
		// Backends without lazy support hand the resolver back.
		if v, err = lazy(context.Background()); err != nil {
			return nil, &api.UnsatisfiedDependencyError{Key: key, Err: err}
		}
	}
	return v, nil
}

// Replaced returns the instance the orchestrator bound for key, if any.
func (s *Service) Replaced(key api.BindingKey) (any, bool) {
	v, ok := s.replaced[key]
	return v, ok
}

// ReplacedKeys lists the keys bound through AddBinding, sorted.
func (s *Service) ReplacedKeys() []api.BindingKey {
	keys := make([]api.BindingKey, 0, len(s.replaced))
	for k := range s.replaced {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b api.BindingKey) int { return strings.Compare(a.String(), b.String()) })
	return keys
}

// Intercepted reports whether key is overridden through the
// instrumentation layer rather than the backend.
func (s *Service) Intercepted(key api.BindingKey) bool { return s.intercepted[key] }

// Keys lists every key the container can satisfy.
func (s *Service) Keys() []api.BindingKey { return s.container.Keys() }

// Targets lists the instrumentation targets reachable through this
// service instance.
func (s *Service) Targets() []string {
	if tr, ok := s.container.(api.TargetReporter); ok {
		return tr.InstrumentationTargets()
	}
	var out []string
	for _, k := range s.container.Keys() {
		out = append(out, instrumentation.BindingTarget(k))
	}
	return out
}

// Destroy closes the container. It is safe to call more than once.
func (s *Service) Destroy(ctx context.Context) error {
	if s.destroyed {
		return nil
	}
	s.destroyed = true
	s.replaced = nil
	if err := s.container.Close(ctx); err != nil {
		return fmt.Errorf("destroying service instance of %s: %w", s.descriptor, err)
	}
	logging.Debug("Resolution", "Destroyed service instance of %s", s.descriptor)
	return nil
}

// Destroyed reports whether Destroy was called.
func (s *Service) Destroyed() bool { return s.destroyed }
