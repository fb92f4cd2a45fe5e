package api

import (
	"context"
	"errors"
	"reflect"
)

// Descriptor is the read-only view of an analyzed fixture.
// It is implemented by descriptor.Model.
type Descriptor interface {
	// Name is the fully-qualified fixture name (package path + type name).
	Name() string
	Type() reflect.Type

	Modules() []Module
	ScanTargets() []reflect.Type
	Resources() []ResourceDeclaration
	Fields() []FieldDeclaration
	ConfigHandlers() []ConfigHandler

	// Strategy is the fixture level start strategy, StrategyUndefined if
	// the fixture did not declare one.
	Strategy() StartStrategy
	// Backend and MockProvider are explicit provider selectors, empty when
	// the highest ranked provider should be used.
	Backend() string
	MockProvider() string
	// Instrumentations names the instrumentation providers to install. Nil
	// means all registered providers.
	Instrumentations() []string
	VerifyInteractions() bool
}

// Provider is implemented by every pluggable unit. The name is what
// selectors on a descriptor match against.
type Provider interface {
	ProviderName() string
}

// MockProvider creates substitutes for collaborator fields.
type MockProvider interface {
	Provider

	// CreateFake returns a substitute of typ with no real behavior.
	CreateFake(typ reflect.Type) (any, error)
	// CreateVirtual returns a substitute of typ that delegates unstubbed
	// calls to delegate.
	CreateVirtual(typ reflect.Type, delegate any) (any, error)
	// IsMock reports whether instance was created by this provider.
	IsMock(instance any) bool
	// VerifyNoMoreInteractions fails if any of the instances saw calls
	// nobody inspected, or missed calls that were expected.
	VerifyNoMoreInteractions(instances ...any) error
}

// ResourceContext is the view of the running test context a resource
// provider gets during configure, start and stop.
type ResourceContext interface {
	// ID is the unique test context id.
	ID() string
	// Fixture is the descriptor name of the fixture being assembled.
	Fixture() string
	// Resource returns an already started resource of the same context.
	Resource(name string) (*ResourceInstance, bool)
}

// ResourceProvider provisions one kind of resource.
type ResourceProvider interface {
	Provider

	Kind() ResourceKind
	// Configure builds the provider specific configuration from raw
	// properties. The result is frozen before Start is called.
	Configure(ctx context.Context, rc ResourceContext, decl ResourceDeclaration, props map[string]string) (any, error)
	Start(ctx context.Context, rc ResourceContext, decl ResourceDeclaration, config any) (*ResourceInstance, error)
	Stop(ctx context.Context, rc ResourceContext, decl ResourceDeclaration, instance *ResourceInstance) error
}

// ExposingProvider is an optional interface for resource providers that can
// tell ahead of start which bindings a resource will expose. Lazy resources
// are bound under these keys.
type ExposingProvider interface {
	Exposes(decl ResourceDeclaration) []BindingKey
}

// BindingExporter is an optional interface for resource providers that want to
// control which bindings a started instance contributes. Without it every
// exposed value is bound under (its dynamic type, resource name).
type BindingExporter interface {
	Bindings(decl ResourceDeclaration, instance *ResourceInstance) map[BindingKey]any
}

// Container is a configured dependency injection container of one backend.
type Container interface {
	// Bind adds or replaces the binding for key. Backends that cannot
	// replace an existing binding return ErrRebindUnsupported.
	Bind(key BindingKey, instance any) error
	// Resolve returns the instance bound to key, constructing it if the
	// backend knows how.
	Resolve(key BindingKey) (any, error)
	// Keys lists every key the container can currently satisfy.
	Keys() []BindingKey
	Close(ctx context.Context) error
}

// TargetReporter is an optional Container interface listing the
// instrumentation targets (ctor:<type>, binding:<key>) the container routes
// through its BackendHooks.
type TargetReporter interface {
	InstrumentationTargets() []string
}

// LazyResolver lets the service layer defer construction of a binding
// until it is first resolved.
type LazyResolver func(ctx context.Context) (any, error)

// ServiceResolutionProvider plugs a dependency injection backend in.
type ServiceResolutionProvider interface {
	Provider

	// Create returns the backend specific configuration object for d.
	// Config handlers declared by the fixture receive it before Configure.
	Create(d Descriptor, hooks BackendHooks) (any, error)
	// Configure builds the container from the configuration object.
	Configure(ctx context.Context, backend any) (Container, error)
}

// BackendHooks are passed to a backend on Create so that constructor calls
// can be routed through the instrumentation layer.
type BackendHooks struct {
	// Invoke calls fn with args on behalf of target. Backends must use it for
	// every constructor call.
	Invoke func(target string, fn reflect.Value, args []reflect.Value) ([]reflect.Value, error)
}

// Interceptor takes over an instrumented call.
type Interceptor interface {
	// Priority orders interceptors on the same target. Highest wins.
	Priority() int
	Intercept(inv *Invocation) ([]reflect.Value, error)
}

// Instrumentation pairs a target selector with its interceptor.
type Instrumentation struct {
	Target      string
	Interceptor Interceptor
}

// InstrumentationProvider contributes interceptors to every test context.
type InstrumentationProvider interface {
	Provider
	Instrumentations() []Instrumentation
}

// Invocation is one intercepted call.
type Invocation struct {
	Target string
	Args   []reflect.Value

	proceed func(args []reflect.Value) ([]reflect.Value, error)
}

// NewInvocation is used by the instrumentation layer.
func NewInvocation(target string, args []reflect.Value, proceed func([]reflect.Value) ([]reflect.Value, error)) *Invocation {
	return &Invocation{Target: target, Args: args, proceed: proceed}
}

// Proceed invokes the original call with args, which may differ from the
// intercepted ones.
func (i *Invocation) Proceed(args []reflect.Value) ([]reflect.Value, error) {
	if i.proceed == nil {
		return nil, errors.New("invocation has no original call")
	}
	return i.proceed(args)
}
