package analyzer

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/singleflight"

	"testbed/internal/api"
	"testbed/internal/descriptor"
	"testbed/internal/registry"
	"testbed/pkg/logging"
)

// Analyzer turns fixture types into descriptor models. Results are cached
// per type; concurrent analyses of the same type share one run.
type Analyzer struct {
	inspectors map[string]Inspector

	cache sync.Map // reflect.Type -> *descriptor.Model
	group singleflight.Group
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithInspector registers (or replaces) the inspector for a metadata kind.
func WithInspector(kind string, in Inspector) Option {
	return func(a *Analyzer) { a.inspectors[kind] = in }
}

// New returns an analyzer with the built-in inspectors. When reg is not
// nil, providers referenced by metadata are checked against it.
func New(reg *registry.Registry, opts ...Option) *Analyzer {
	a := &Analyzer{inspectors: builtinInspectors(reg)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze returns the descriptor of fixture, which may be a struct value,
// a pointer to one, or a reflect.Type.
func (a *Analyzer) Analyze(fixture any) (*descriptor.Model, error) {
	typ, err := fixtureType(fixture)
	if err != nil {
		return nil, err
	}
	if m, ok := a.cache.Load(typ); ok {
		return m.(*descriptor.Model), nil
	}

	v, err, shared := a.group.Do(typeKey(typ), func() (any, error) {
		if m, ok := a.cache.Load(typ); ok {
			return m, nil
		}
		m, err := a.analyze(typ)
		if err != nil {
			return nil, err
		}
		a.cache.Store(typ, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logging.Debug("Analyzer", "Shared analysis result for %s", typ)
	}
	return v.(*descriptor.Model), nil
}

// Evict drops the cached descriptor of the fixture type.
func (a *Analyzer) Evict(fixture any) {
	if typ, err := fixtureType(fixture); err == nil {
		a.cache.Delete(typ)
	}
}

// Reset drops every cached descriptor.
func (a *Analyzer) Reset() {
	a.cache.Clear()
}

// Cached reports whether the fixture type has a cached descriptor.
func (a *Analyzer) Cached(fixture any) bool {
	typ, err := fixtureType(fixture)
	if err != nil {
		return false
	}
	_, ok := a.cache.Load(typ)
	return ok
}

func (a *Analyzer) analyze(typ reflect.Type) (*descriptor.Model, error) {
	done := logging.Timed("Analyzer", "Analyzed %s", descriptor.NameOf(typ))
	defer done()

	b := descriptor.NewBuilder(typ)

	md, err := collect(b.Name(), typ)
	if err != nil {
		return nil, err
	}
	if err := a.dispatch(b, typ, md, true); err != nil {
		return nil, err
	}

	// Scanned types may declare metadata themselves, including further
	// scan targets. Each type is visited once.
	visited := map[reflect.Type]bool{typ: true}
	for i := 0; i < len(b.ScanTargets()); i++ {
		target := b.ScanTargets()[i]
		if visited[target] {
			continue
		}
		visited[target] = true
		if !declares(target) {
			continue
		}
		scanned, err := declared(b.Name(), target)
		if err != nil {
			return nil, err
		}
		if err := a.dispatch(b, target, scanned, false); err != nil {
			return nil, err
		}
	}

	return b.Build()
}

// dispatch hands every metadata value to the inspector of its kind.
// Unknown kinds are skipped. Field metadata is only honored on the fixture.
func (a *Analyzer) dispatch(b *descriptor.Builder, typ reflect.Type, md []descriptor.Metadata, root bool) error {
	for _, m := range md {
		kind := m.MetadataKind()
		if !root && kind == descriptor.KindField {
			logging.Debug("Analyzer", "Ignoring field metadata on scanned type %s", typ)
			continue
		}
		in, ok := a.inspectors[kind]
		if !ok {
			logging.Debug("Analyzer", "No inspector for metadata kind %q on %s, ignoring", kind, typ)
			continue
		}
		if err := in.Inspect(b, typ, m); err != nil {
			if api.IsAnalysisError(err) {
				return err
			}
			return &api.AnalysisError{Fixture: b.Name(), Reason: fmt.Sprintf("inspecting %s metadata", kind), Err: err}
		}
	}
	return nil
}

// collect gathers the fixture's struct tags followed by its declared metadata.
func collect(name string, typ reflect.Type) ([]descriptor.Metadata, error) {
	var out []descriptor.Metadata
	for sf := range fieldsOf(typ) {
		f, ok, err := parseTag(name, sf)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, f)
		}
	}
	if declares(typ) {
		more, err := declared(name, typ)
		if err != nil {
			return nil, err
		}
		out = append(out, more...)
	}
	return out, nil
}

func fieldsOf(typ reflect.Type) func(func(reflect.StructField) bool) {
	return func(yield func(reflect.StructField) bool) {
		for i := range typ.NumField() {
			if !yield(typ.Field(i)) {
				return
			}
		}
	}
}

var declarerType = reflect.TypeFor[descriptor.Declarer]()

func declares(typ reflect.Type) bool {
	return reflect.PointerTo(typ).Implements(declarerType)
}

// declared calls Declare on a zero value of typ. Values that are not
// Metadata are dropped.
func declared(name string, typ reflect.Type) (md []descriptor.Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Debug("Analyzer", "Declare of %s panicked: %v\n%s", typ, r, debug.Stack())
			err = api.NewAnalysisError(name, "", "Declare of %s panicked: %v", typ, r)
		}
	}()

	values := reflect.New(typ).Interface().(descriptor.Declarer).Declare()
	for _, v := range values {
		m, ok := v.(descriptor.Metadata)
		if !ok {
			logging.Debug("Analyzer", "Ignoring %T declared by %s: not metadata", v, typ)
			continue
		}
		md = append(md, m)
	}
	return md, nil
}

func fixtureType(fixture any) (reflect.Type, error) {
	typ, ok := fixture.(reflect.Type)
	if !ok {
		typ = reflect.TypeOf(fixture)
	}
	if typ == nil {
		return nil, api.NewAnalysisError("<nil>", "", "fixture is nil")
	}
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, api.NewAnalysisError(typ.String(), "", "fixture must be a struct, got %s", typ.Kind())
	}
	return typ, nil
}

func typeKey(typ reflect.Type) string {
	return descriptor.NameOf(typ) + "|" + typ.String()
}
