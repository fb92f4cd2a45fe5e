package reflectbackend

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testbed/internal/api"
	"testbed/internal/descriptor"
	"testbed/internal/instrumentation"
)

type Store interface {
	Get(key string) string
}

type memStore struct{ data map[string]string }

func (m *memStore) Get(key string) string { return m.data[key] }

func newMemStore() *memStore { return &memStore{data: map[string]string{"a": "1"}} }

type Listener struct {
	Addr string
}

func NewListener() *Listener { return &Listener{Addr: "10.0.0.1:8080"} }

type Service struct {
	Store    Store
	Listener *Listener
}

func NewService(s Store, l *Listener) *Service { return &Service{Store: s, Listener: l} }

type Handler struct {
	Service *Service `inject:""`
	DSN     string   `inject:"dsn"`
	Other   int
}

type closeLog struct {
	name string
	log  *[]string
}

func (c *closeLog) Close() error {
	*c.log = append(*c.log, c.name)
	return nil
}

type fixture struct{}

func model(t *testing.T, mods []api.Module, scans ...reflect.Type) *descriptor.Model {
	t.Helper()
	b := descriptor.NewBuilder(reflect.TypeFor[fixture]())
	for _, m := range mods {
		require.NoError(t, b.AddModule(m))
	}
	for _, s := range scans {
		_, err := b.AddScanTarget(s)
		require.NoError(t, err)
	}
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func configure(t *testing.T, d api.Descriptor, hooks api.BackendHooks, adjust func(*Config)) api.Container {
	t.Helper()
	p := New()
	backend, err := p.Create(d, hooks)
	require.NoError(t, err)
	if adjust != nil {
		adjust(backend.(*Config))
	}
	c, err := p.Configure(context.Background(), backend)
	require.NoError(t, err)
	return c
}

func appModule() api.Module {
	return api.Module{Name: "app", Constructors: []any{newMemStore, NewListener, NewService}}
}

func TestContainer_ConstructorInjection(t *testing.T) {
	c := configure(t, model(t, []api.Module{appModule()}), api.BackendHooks{}, nil)

	v, err := c.Resolve(api.KeyOf[*Service](""))
	require.NoError(t, err)
	svc := v.(*Service)
	assert.Equal(t, "1", svc.Store.Get("a"))

	again, err := c.Resolve(api.KeyOf[*Service](""))
	require.NoError(t, err)
	assert.Same(t, svc, again, "bindings are singletons")

	st, err := c.Resolve(api.KeyOf[Store](""))
	require.NoError(t, err)
	assert.Same(t, svc.Store, st, "interface keys resolve to the single implementation")
}

func TestContainer_Unsatisfied(t *testing.T) {
	c := configure(t, model(t, []api.Module{{Name: "partial", Constructors: []any{NewService}}}), api.BackendHooks{}, nil)

	_, err := c.Resolve(api.KeyOf[*Service](""))
	var ude *api.UnsatisfiedDependencyError
	require.ErrorAs(t, err, &ude)
	assert.Equal(t, api.KeyOf[Store](""), ude.Key)
	assert.Equal(t, []api.BindingKey{api.KeyOf[*Service]("")}, ude.Path)
}

func TestContainer_ConstructorError(t *testing.T) {
	boom := errors.New("boom")
	failing := func() (*Listener, error) { return nil, boom }
	c := configure(t, model(t, []api.Module{{Name: "f", Constructors: []any{failing}}}), api.BackendHooks{}, nil)

	_, err := c.Resolve(api.KeyOf[*Listener](""))
	assert.ErrorIs(t, err, boom)
	assert.True(t, api.IsUnsatisfiedDependency(err))
}

func TestContainer_Ambiguous(t *testing.T) {
	other := func() *otherStore { return &otherStore{} }
	c := configure(t, model(t, []api.Module{{Name: "m", Constructors: []any{newMemStore, other}}}), api.BackendHooks{}, nil)

	_, err := c.Resolve(api.KeyOf[Store](""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

type otherStore struct{}

func (*otherStore) Get(string) string { return "" }

type cycA struct{}
type cycB struct{}

func TestContainer_Cycle(t *testing.T) {
	a := func(*cycB) *cycA { return &cycA{} }
	b := func(*cycA) *cycB { return &cycB{} }
	c := configure(t, model(t, []api.Module{{Name: "cyc", Constructors: []any{a, b}}}), api.BackendHooks{}, nil)

	_, err := c.Resolve(api.KeyOf[*cycA](""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle")
}

func TestContainer_ScanTargets(t *testing.T) {
	d := model(t, []api.Module{appModule()}, reflect.TypeFor[Handler]())
	c := configure(t, d, api.BackendHooks{}, func(cfg *Config) {
		cfg.Values[api.KeyOf[string]("dsn")] = "postgres://db"
	})

	v, err := c.Resolve(api.KeyOf[*Handler](""))
	require.NoError(t, err)
	h := v.(*Handler)
	assert.Equal(t, "postgres://db", h.DSN)
	assert.NotNil(t, h.Service)
	assert.Zero(t, h.Other)
}

func TestContainer_BindReplacesAutoDiscovered(t *testing.T) {
	c := configure(t, model(t, []api.Module{appModule()}), api.BackendHooks{}, nil)

	fake := &otherStore{}
	require.NoError(t, c.Bind(api.KeyOf[Store](""), fake))

	v, err := c.Resolve(api.KeyOf[*Service](""))
	require.NoError(t, err)
	assert.Same(t, fake, v.(*Service).Store)
}

func TestContainer_RebindUnsupported(t *testing.T) {
	c := configure(t, model(t, []api.Module{appModule()}), api.BackendHooks{}, func(cfg *Config) {
		cfg.AllowRebind = false
	})

	err := c.Bind(api.KeyOf[*Listener](""), &Listener{})
	assert.ErrorIs(t, err, api.ErrRebindUnsupported)
	assert.NoError(t, c.Bind(api.KeyOf[*Listener]("fresh"), &Listener{}), "new keys are always accepted")
}

func TestContainer_BindTypeMismatch(t *testing.T) {
	c := configure(t, model(t, nil), api.BackendHooks{}, nil)
	assert.Error(t, c.Bind(api.KeyOf[Store](""), "not a store"))
}

func TestContainer_LazyBinding(t *testing.T) {
	c := configure(t, model(t, nil), api.BackendHooks{}, nil)

	calls := 0
	require.NoError(t, c.Bind(api.KeyOf[string]("dsn"), api.LazyResolver(func(context.Context) (any, error) {
		calls++
		return "postgres://lazy", nil
	})))
	assert.Equal(t, 0, calls)

	for range 2 {
		v, err := c.Resolve(api.KeyOf[string]("dsn"))
		require.NoError(t, err)
		assert.Equal(t, "postgres://lazy", v)
	}
	assert.Equal(t, 1, calls)
}

func TestContainer_ConstructorInterception(t *testing.T) {
	layer := instrumentation.NewLayer()
	require.NoError(t, layer.Instrument(instrumentation.CtorTarget(reflect.TypeFor[*Listener]()),
		instrumentation.Results(0, func(_, results []reflect.Value) []reflect.Value {
			l := results[0].Interface().(*Listener)
			l.Addr = "127.0.0.1:0"
			return results
		})))

	c := configure(t, model(t, []api.Module{appModule()}), layer.Hooks(), nil)
	require.NoError(t, layer.Verify(c.(api.TargetReporter).InstrumentationTargets()))

	v, err := c.Resolve(api.KeyOf[*Service](""))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", v.(*Service).Listener.Addr)
}

func TestContainer_CloseReverseOrder(t *testing.T) {
	var log []string
	first := func() *closeLog { return &closeLog{name: "first", log: &log} }
	type second struct{ *closeLog }
	secondCtor := func(f *closeLog) *second { return &second{&closeLog{name: "second", log: &log}} }

	c := configure(t, model(t, []api.Module{{Name: "m", Constructors: []any{first, secondCtor}}}), api.BackendHooks{}, nil)
	_, err := c.Resolve(api.KeyOf[*second](""))
	require.NoError(t, err)

	bound := &closeLog{name: "bound", log: &log}
	require.NoError(t, c.Bind(api.KeyOf[*closeLog]("bound"), bound))

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, []string{"second", "first"}, log)

	_, err = c.Resolve(api.KeyOf[*second](""))
	assert.Error(t, err)
	assert.NoError(t, c.Close(context.Background()))
}

func TestConfigure_Rejects(t *testing.T) {
	tests := []struct {
		name string
		mod  api.Module
	}{
		{name: "no results", mod: api.Module{Name: "m", Constructors: []any{func() {}}}},
		{name: "error only", mod: api.Module{Name: "m", Constructors: []any{func() error { return nil }}}},
		{name: "variadic", mod: api.Module{Name: "m", Constructors: []any{func(...int) *Listener { return nil }}}},
		{name: "duplicate", mod: api.Module{Name: "m", Constructors: []any{NewListener, NewListener}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New()
			backend, err := p.Create(model(t, []api.Module{tt.mod}), api.BackendHooks{})
			require.NoError(t, err)
			_, err = p.Configure(context.Background(), backend)
			assert.Error(t, err)
		})
	}

	_, err := New().Configure(context.Background(), "not a config")
	assert.Error(t, err)
}
