package descriptor

import (
	"fmt"
	"reflect"
	"slices"

	"testbed/internal/api"
)

// NameOf returns the fully-qualified descriptor name of typ: package path
// and type name. Pointer types are dereferenced.
func NameOf(typ reflect.Type) string {
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.PkgPath() == "" {
		return typ.String()
	}
	return typ.PkgPath() + "." + typ.Name()
}

// Model is the immutable result of analyzing one fixture type.
// All accessors return copies.
type Model struct {
	name             string
	typ              reflect.Type
	modules          []api.Module
	scans            []reflect.Type
	resources        []api.ResourceDeclaration
	fields           []api.FieldDeclaration
	handlers         []api.ConfigHandler
	strategy         api.StartStrategy
	backend          string
	mockProvider     string
	instrumentations []string
	verify           bool
}

var _ api.Descriptor = (*Model)(nil)

func (m *Model) Name() string       { return m.name }
func (m *Model) Type() reflect.Type { return m.typ }

func (m *Model) Modules() []api.Module {
	out := make([]api.Module, len(m.modules))
	for i, mod := range m.modules {
		out[i] = api.Module{
			Name:         mod.Name,
			Constructors: slices.Clone(mod.Constructors),
			Values:       slices.Clone(mod.Values),
		}
	}
	return out
}

func (m *Model) ScanTargets() []reflect.Type { return slices.Clone(m.scans) }

func (m *Model) Resources() []api.ResourceDeclaration {
	out := make([]api.ResourceDeclaration, len(m.resources))
	for i, r := range m.resources {
		out[i] = r.Clone()
	}
	return out
}

// Resource returns the declaration with the given name.
func (m *Model) Resource(name string) (api.ResourceDeclaration, bool) {
	for _, r := range m.resources {
		if r.Name == name {
			return r.Clone(), true
		}
	}
	return api.ResourceDeclaration{}, false
}

func (m *Model) Fields() []api.FieldDeclaration {
	out := make([]api.FieldDeclaration, len(m.fields))
	for i, f := range m.fields {
		out[i] = f
		out[i].Index = slices.Clone(f.Index)
	}
	return out
}

// Field returns the declaration of the named field.
func (m *Model) Field(name string) (api.FieldDeclaration, bool) {
	for _, f := range m.fields {
		if f.Name == name {
			f.Index = slices.Clone(f.Index)
			return f, true
		}
	}
	return api.FieldDeclaration{}, false
}

func (m *Model) ConfigHandlers() []api.ConfigHandler { return slices.Clone(m.handlers) }
func (m *Model) Strategy() api.StartStrategy         { return m.strategy }
func (m *Model) Backend() string                     { return m.backend }
func (m *Model) MockProvider() string                { return m.mockProvider }
func (m *Model) VerifyInteractions() bool            { return m.verify }

func (m *Model) Instrumentations() []string {
	if m.instrumentations == nil {
		return nil
	}
	return slices.Clone(m.instrumentations)
}

// Builder accumulates metadata while a fixture is analyzed. Inspectors
// write into it; Build freezes the result. A Builder is not safe for
// concurrent use.
type Builder struct {
	m          Model
	fieldIndex map[string]int
	built      bool
}

// NewBuilder starts a descriptor for the fixture type typ.
func NewBuilder(typ reflect.Type) *Builder {
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return &Builder{
		m: Model{
			name:     NameOf(typ),
			typ:      typ,
			strategy: api.StrategyUndefined,
		},
		fieldIndex: make(map[string]int),
	}
}

// Name returns the descriptor name being built.
func (b *Builder) Name() string { return b.m.name }

// Type returns the fixture type being analyzed.
func (b *Builder) Type() reflect.Type { return b.m.typ }

func (b *Builder) fail(field, format string, args ...any) error {
	return api.NewAnalysisError(b.m.name, field, format, args...)
}

// AddModule appends a module. Every constructor must be a function.
func (b *Builder) AddModule(mod api.Module) error {
	for i, c := range mod.Constructors {
		if c == nil || reflect.TypeOf(c).Kind() != reflect.Func {
			return b.fail("", "module %q constructor %d is %T, not a function", mod.Name, i, c)
		}
	}
	b.m.modules = append(b.m.modules, api.Module{
		Name:         mod.Name,
		Constructors: slices.Clone(mod.Constructors),
		Values:       slices.Clone(mod.Values),
	})
	return nil
}

// AddScanTarget registers a struct type (or pointer to one) for
// auto-wiring. It reports whether the type was new.
func (b *Builder) AddScanTarget(typ reflect.Type) (bool, error) {
	if typ == nil {
		return false, b.fail("", "scan target is nil")
	}
	base := typ
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base.Kind() != reflect.Struct {
		return false, b.fail("", "scan target %s is not a struct type", typ)
	}
	if slices.Contains(b.m.scans, base) {
		return false, nil
	}
	b.m.scans = append(b.m.scans, base)
	return true, nil
}

// ScanTargets returns the scan targets registered so far.
func (b *Builder) ScanTargets() []reflect.Type { return slices.Clone(b.m.scans) }

// AddResource appends a resource declaration. The name defaults to the
// provider selector; names must be unique within a fixture.
func (b *Builder) AddResource(decl api.ResourceDeclaration) error {
	decl = decl.Clone()
	if err := decl.Kind.Validate(); err != nil {
		return b.fail("", "resource %q: %v", decl.Name, err)
	}
	if decl.Name == "" {
		decl.Name = decl.Provider
	}
	if decl.Name == "" {
		return b.fail("", "%s resource needs a name or a provider", decl.Kind)
	}
	if err := decl.Strategy.Validate(); err != nil {
		return b.fail("", "resource %q: %v", decl.Name, err)
	}
	decl.Strategy = decl.Strategy.Normalize()
	for _, r := range b.m.resources {
		if r.Name == decl.Name {
			return b.fail("", "resource %q declared twice; name one of them explicitly", decl.Name)
		}
	}
	if decl.Properties == nil {
		decl.Properties = map[string]string{}
	}
	b.m.resources = append(b.m.resources, decl)
	return nil
}

// MergeField records a field declaration. Repeated declarations of the
// same field must agree.
func (b *Builder) MergeField(f api.FieldDeclaration) error {
	if f.Substitution != "" && f.Resource != "" {
		return b.fail(f.Name, "field is declared both %s substitution and resource %q", f.Substitution, f.Resource)
	}
	if f.Substitution == "" && f.Resource == "" {
		return b.fail(f.Name, "field declares neither a substitution kind nor a resource")
	}
	if f.Substitution != "" {
		if err := f.Substitution.Validate(); err != nil {
			return b.fail(f.Name, "%v", err)
		}
	}

	idx, exists := b.fieldIndex[f.Name]
	if !exists {
		f.Index = slices.Clone(f.Index)
		b.fieldIndex[f.Name] = len(b.m.fields)
		b.m.fields = append(b.m.fields, f)
		return nil
	}

	prev := &b.m.fields[idx]
	if prev.Substitution != f.Substitution {
		if prev.Substitution != "" && f.Substitution != "" {
			return b.fail(f.Name, "conflicting substitution kinds %s and %s", prev.Substitution, f.Substitution)
		}
		return b.fail(f.Name, "field is declared both as substitution and as resource")
	}
	if prev.Resource != f.Resource || prev.ResourceKey != f.ResourceKey {
		return b.fail(f.Name, "conflicting resource references %q and %q", prev.Resource, f.Resource)
	}
	if f.Binding != "" {
		if prev.Binding != "" && prev.Binding != f.Binding {
			return b.fail(f.Name, "conflicting binding names %q and %q", prev.Binding, f.Binding)
		}
		prev.Binding = f.Binding
	}
	return nil
}

// AddConfigHandler appends a configuration handler.
func (b *Builder) AddConfigHandler(h api.ConfigHandler) error {
	if h == nil {
		return b.fail("", "nil config handler")
	}
	b.m.handlers = append(b.m.handlers, h)
	return nil
}

// SetStrategy sets the fixture start strategy. Declaring two different
// strategies is an error.
func (b *Builder) SetStrategy(s api.StartStrategy) error {
	if err := s.Validate(); err != nil {
		return b.fail("", "%v", err)
	}
	s = s.Normalize()
	if b.m.strategy != api.StrategyUndefined && s != b.m.strategy {
		return b.fail("", "conflicting start strategies %s and %s", b.m.strategy, s)
	}
	b.m.strategy = s
	return nil
}

// SetBackend selects the service resolution provider.
func (b *Builder) SetBackend(name string) error {
	return setSelector(b, &b.m.backend, "backend", name)
}

// SetMockProvider selects the mock provider.
func (b *Builder) SetMockProvider(name string) error {
	return setSelector(b, &b.m.mockProvider, "mock provider", name)
}

func setSelector(b *Builder, dst *string, what, name string) error {
	if name == "" {
		return b.fail("", "empty %s selector", what)
	}
	if *dst != "" && *dst != name {
		return b.fail("", "conflicting %s selectors %q and %q", what, *dst, name)
	}
	*dst = name
	return nil
}

// AddInstrumentations restricts instrumentation to the named providers.
func (b *Builder) AddInstrumentations(names ...string) {
	if b.m.instrumentations == nil {
		b.m.instrumentations = []string{}
	}
	for _, n := range names {
		if !slices.Contains(b.m.instrumentations, n) {
			b.m.instrumentations = append(b.m.instrumentations, n)
		}
	}
}

// EnableVerification requests post-run interaction verification.
func (b *Builder) EnableVerification() {
	b.m.verify = true
}

// Validate checks cross references that can only be judged once all
// metadata has been collected.
func (b *Builder) Validate() error {
	names := make(map[string]bool, len(b.m.resources))
	for _, r := range b.m.resources {
		names[r.Name] = true
	}
	for _, r := range b.m.resources {
		for _, dep := range r.DependsOn {
			if dep == r.Name {
				return b.fail("", "resource %q depends on itself", r.Name)
			}
			if !names[dep] {
				return b.fail("", "resource %q depends on undeclared resource %q", r.Name, dep)
			}
		}
	}
	for _, f := range b.m.fields {
		if f.Resource != "" && !names[f.Resource] {
			return b.fail(f.Name, "references undeclared resource %q", f.Resource)
		}
	}
	return nil
}

// Build freezes the model. The builder must not be used afterwards.
func (b *Builder) Build() (*Model, error) {
	if b.built {
		return nil, fmt.Errorf("descriptor %s already built", b.m.name)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	b.built = true
	m := b.m
	return &m, nil
}
