package reflectbackend

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"testbed/internal/api"
)

// ProviderName is the registry name of the reflection backend.
const ProviderName = "reflect"

// InjectTag marks fields of scanned types the backend fills in. The tag
// value is the binding name, empty for the unnamed binding.
const InjectTag = "inject"

// Config is the backend configuration object config handlers receive.
type Config struct {
	Modules     []api.Module
	ScanTargets []reflect.Type
	// AllowRebind lets Bind replace keys the container already knows.
	// When false the service layer falls back to binding interception.
	AllowRebind bool
	// Values are additional ready bindings.
	Values map[api.BindingKey]any

	hooks api.BackendHooks
}

// Provider is a constructor injection backend built on package reflect.
type Provider struct{}

// New returns the reflection backend.
func New() *Provider { return &Provider{} }

func (*Provider) ProviderName() string { return ProviderName }

// Create returns a *Config for d.
func (*Provider) Create(d api.Descriptor, hooks api.BackendHooks) (any, error) {
	return &Config{
		Modules:     d.Modules(),
		ScanTargets: d.ScanTargets(),
		AllowRebind: true,
		Values:      map[api.BindingKey]any{},
		hooks:       hooks,
	}, nil
}

// Configure builds a container from a *Config.
func (*Provider) Configure(ctx context.Context, backend any) (api.Container, error) {
	cfg, ok := backend.(*Config)
	if !ok {
		return nil, fmt.Errorf("reflect backend: unexpected configuration %T", backend)
	}

	c := &container{
		ctx:         ctx,
		hooks:       cfg.hooks,
		allowRebind: cfg.AllowRebind,
		bindings:    make(map[api.BindingKey]*binding),
	}
	for _, mod := range cfg.Modules {
		for _, ctor := range mod.Constructors {
			b, err := constructorBinding(reflect.ValueOf(ctor))
			if err != nil {
				return nil, fmt.Errorf("module %s: %w", mod.Name, err)
			}
			if err := c.register(b); err != nil {
				return nil, fmt.Errorf("module %s: %w", mod.Name, err)
			}
		}
		for _, v := range mod.Values {
			if v == nil {
				return nil, fmt.Errorf("module %s: nil value", mod.Name)
			}
			key := api.BindingKey{Type: reflect.TypeOf(v)}
			if err := c.register(&binding{key: key, value: v, resolved: true}); err != nil {
				return nil, fmt.Errorf("module %s: %w", mod.Name, err)
			}
		}
	}
	for _, typ := range cfg.ScanTargets {
		b, err := scanBinding(typ)
		if err != nil {
			return nil, err
		}
		if err := c.register(b); err != nil {
			return nil, err
		}
	}
	for _, key := range sortedKeys(cfg.Values) {
		if err := c.register(&binding{key: key, value: cfg.Values[key], resolved: true}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

var errorType = reflect.TypeFor[error]()

func constructorBinding(fn reflect.Value) (*binding, error) {
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, fmt.Errorf("constructor %v is not a function", fn)
	}
	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, fmt.Errorf("constructor %s is variadic", ft)
	}
	switch {
	case ft.NumOut() == 1 && ft.Out(0) != errorType:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
	default:
		return nil, fmt.Errorf("constructor %s must return T or (T, error)", ft)
	}
	deps := make([]api.BindingKey, ft.NumIn())
	for i := range deps {
		deps[i] = api.BindingKey{Type: ft.In(i)}
	}
	return &binding{key: api.BindingKey{Type: ft.Out(0)}, ctor: fn, deps: deps}, nil
}

// scanBinding turns a struct type into a constructor of *T whose
// parameters are the inject-tagged fields.
func scanBinding(typ reflect.Type) (*binding, error) {
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("scan target %s is not a struct", typ)
	}

	var (
		deps    []api.BindingKey
		indexes [][]int
		params  []reflect.Type
	)
	for i := range typ.NumField() {
		sf := typ.Field(i)
		name, ok := sf.Tag.Lookup(InjectTag)
		if !ok {
			continue
		}
		if !sf.IsExported() {
			return nil, fmt.Errorf("scan target %s: inject field %s is not exported", typ, sf.Name)
		}
		deps = append(deps, api.BindingKey{Type: sf.Type, Name: name})
		indexes = append(indexes, sf.Index)
		params = append(params, sf.Type)
	}

	out := reflect.PointerTo(typ)
	ft := reflect.FuncOf(params, []reflect.Type{out}, false)
	fn := reflect.MakeFunc(ft, func(args []reflect.Value) []reflect.Value {
		v := reflect.New(typ)
		for i, idx := range indexes {
			v.Elem().FieldByIndex(idx).Set(args[i])
		}
		return []reflect.Value{v}
	})
	return &binding{key: api.BindingKey{Type: out}, ctor: fn, deps: deps}, nil
}

func sortedKeys(m map[api.BindingKey]any) []api.BindingKey {
	keys := make([]api.BindingKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b api.BindingKey) int { return strings.Compare(a.String(), b.String()) })
	return keys
}
