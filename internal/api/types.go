package api

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"
)

// ResourceKind classifies where a declared resource lives.
type ResourceKind string

const (
	// KindLocal is an in-process resource (listener, embedded server).
	KindLocal ResourceKind = "Local"
	// KindVirtual is a virtualized or containerized resource owned by the test.
	KindVirtual ResourceKind = "Virtual"
	// KindRemote is an already running resource the test only connects to.
	KindRemote ResourceKind = "Remote"
)

// Validate reports whether k is one of the known resource kinds.
func (k ResourceKind) Validate() error {
	switch k {
	case KindLocal, KindVirtual, KindRemote:
		return nil
	default:
		return fmt.Errorf("unknown resource kind %q", string(k))
	}
}

// StartStrategy governs when declared resources are started.
type StartStrategy string

const (
	// StrategyUndefined means no resources are expected. On a single
	// declaration it means "inherit the test level strategy".
	StrategyUndefined StartStrategy = "undefined"
	// StrategyEager starts every resource before any binding is added.
	StrategyEager StartStrategy = "eager"
	// StrategyLazy starts a resource on its first resolution.
	StrategyLazy StartStrategy = "lazy"
)

// Normalize maps the zero value onto StrategyUndefined and lower-cases the name.
func (s StartStrategy) Normalize() StartStrategy {
	if s == "" {
		return StrategyUndefined
	}
	return StartStrategy(strings.ToLower(string(s)))
}

// Validate reports whether s is a known strategy.
func (s StartStrategy) Validate() error {
	switch s.Normalize() {
	case StrategyUndefined, StrategyEager, StrategyLazy:
		return nil
	default:
		return fmt.Errorf("unknown start strategy %q", string(s))
	}
}

// SubstitutionKind is the requested treatment of a collaborator field.
type SubstitutionKind string

const (
	SubstitutionFake    SubstitutionKind = "fake"
	SubstitutionVirtual SubstitutionKind = "virtual"
	SubstitutionReal    SubstitutionKind = "real"
)

// Validate reports whether k is a known substitution kind.
func (k SubstitutionKind) Validate() error {
	switch k {
	case SubstitutionFake, SubstitutionVirtual, SubstitutionReal:
		return nil
	default:
		return fmt.Errorf("unknown substitution kind %q", string(k))
	}
}

// TestLevel selects orchestration defaults for a whole run.
type TestLevel string

const (
	LevelUnit        TestLevel = "unit"
	LevelIntegration TestLevel = "integration"
	LevelSystem      TestLevel = "system"
)

// DefaultStrategy returns the start strategy implied by the level.
func (l TestLevel) DefaultStrategy() StartStrategy {
	switch l {
	case LevelIntegration, LevelSystem:
		return StrategyEager
	default:
		return StrategyUndefined
	}
}

// Validate reports whether l is a known level.
func (l TestLevel) Validate() error {
	switch l {
	case LevelUnit, LevelIntegration, LevelSystem:
		return nil
	default:
		return fmt.Errorf("unknown test level %q", string(l))
	}
}

// ResourceState is the lifecycle state of a single resource declaration.
type ResourceState string

const (
	ResourceDeclared    ResourceState = "Declared"
	ResourceConfiguring ResourceState = "Configuring"
	ResourceStarting    ResourceState = "Starting"
	ResourceStarted     ResourceState = "Started"
	ResourceStopping    ResourceState = "Stopping"
	ResourceStopped     ResourceState = "Stopped"
	ResourceError       ResourceState = "Error"
)

// ContextState is the lifecycle state of a test context.
type ContextState string

const (
	StateCreated              ContextState = "Created"
	StateAnalyzed             ContextState = "Analyzed"
	StateServiceResolved      ContextState = "ServiceResolved"
	StateResourcesProvisioned ContextState = "ResourcesProvisioned"
	StateSubstitutionsApplied ContextState = "SubstitutionsApplied"
	StateReady                ContextState = "Ready"
	StateRunning              ContextState = "Running"
	StateTearingDown          ContextState = "TearingDown"
	StateDestroyed            ContextState = "Destroyed"
	StateFailed               ContextState = "Failed"
)

// BindingKey identifies a binding inside a service instance.
// An empty Name addresses the unnamed binding of Type.
type BindingKey struct {
	Type reflect.Type
	Name string
}

// KeyOf returns the binding key for T with the given name.
func KeyOf[T any](name string) BindingKey {
	return BindingKey{Type: reflect.TypeFor[T](), Name: name}
}

// String renders the key as "type" or "type#name".
func (k BindingKey) String() string {
	typ := "<nil>"
	if k.Type != nil {
		typ = k.Type.String()
	}
	if k.Name == "" {
		return typ
	}
	return typ + "#" + k.Name
}

// ResourceDeclaration is one declared external dependency of a fixture.
type ResourceDeclaration struct {
	Kind       ResourceKind
	Name       string
	Provider   string
	Properties map[string]string
	Strategy   StartStrategy
	DependsOn  []string
}

// Clone returns a deep copy so callers cannot mutate a frozen descriptor.
func (d ResourceDeclaration) Clone() ResourceDeclaration {
	out := d
	out.Properties = maps.Clone(d.Properties)
	out.DependsOn = slices.Clone(d.DependsOn)
	return out
}

// ResourceInstance is what a started resource exposes to the rest of the
// test context. Only the owning provider creates it; everything downstream
// reads it.
type ResourceInstance struct {
	name      string
	kind      ResourceKind
	provider  string
	address   string
	values    map[string]any
	startedAt time.Time
}

// NewResourceInstance is called by resource providers from Start.
func NewResourceInstance(decl ResourceDeclaration, address string, values map[string]any) *ResourceInstance {
	return &ResourceInstance{
		name:      decl.Name,
		kind:      decl.Kind,
		provider:  decl.Provider,
		address:   address,
		values:    maps.Clone(values),
		startedAt: time.Now(),
	}
}

func (r *ResourceInstance) Name() string         { return r.name }
func (r *ResourceInstance) Kind() ResourceKind   { return r.kind }
func (r *ResourceInstance) Provider() string     { return r.provider }
func (r *ResourceInstance) Address() string      { return r.address }
func (r *ResourceInstance) StartedAt() time.Time { return r.startedAt }

// Value returns a host-visible object by key (e.g. "client", "pool").
func (r *ResourceInstance) Value(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Values returns a copy of all exposed objects.
func (r *ResourceInstance) Values() map[string]any {
	return maps.Clone(r.values)
}

// Keys returns the exposed value keys in sorted order.
func (r *ResourceInstance) Keys() []string {
	return slices.Sorted(maps.Keys(r.values))
}

// Module is a named unit of DI configuration: constructor functions and
// ready-made values the service backend registers before resolution.
type Module struct {
	Name         string
	Constructors []any
	Values       []any
}

// FieldDeclaration describes one fixture field the orchestrator populates.
type FieldDeclaration struct {
	Name  string
	Index []int
	Type  reflect.Type

	// Substitution is set for collaborator fields.
	Substitution SubstitutionKind
	// Binding optionally names the binding the field maps to.
	Binding string

	// Resource is set for fields that receive a resource instance or one
	// of its values (ResourceKey).
	Resource    string
	ResourceKey string
}

// IsResource reports whether the field receives a resource rather than a collaborator.
func (f FieldDeclaration) IsResource() bool {
	return f.Resource != ""
}

// Key returns the binding key the field resolves against.
func (f FieldDeclaration) Key() BindingKey {
	return BindingKey{Type: f.Type, Name: f.Binding}
}

// ConfigHandler is invoked with the backend specific configuration object
// before the service container is built.
type ConfigHandler func(backend any) error
