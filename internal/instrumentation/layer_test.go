package instrumentation

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testbed/internal/api"
)

type server struct {
	Addr string
	Port int
}

func newServer(addr string, port int) *server {
	return &server{Addr: addr, Port: port}
}

func constant(prio int, label string, calls *[]string) api.Interceptor {
	return Func{Prio: prio, Fn: func(inv *api.Invocation) ([]reflect.Value, error) {
		*calls = append(*calls, label)
		return []reflect.Value{reflect.ValueOf(newServer(label, 0))}, nil
	}}
}

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		target  string
		wantErr bool
	}{
		{target: "ctor:*instrumentation.server"},
		{target: "binding:string#dsn"},
		{target: "call:net.Listen"},
		{target: "ctor:", wantErr: true},
		{target: "method:Foo", wantErr: true},
		{target: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			err := ValidateTarget(tt.target)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLayer_ConstructorOverride(t *testing.T) {
	l := NewLayer()
	target := CtorTarget(reflect.TypeFor[*server]())
	require.NoError(t, l.Instrument(target, Arguments(1, func(args []reflect.Value) []reflect.Value {
		return []reflect.Value{reflect.ValueOf("0.0.0.0"), reflect.ValueOf(0)}
	})))

	out, err := l.Invoke(target, reflect.ValueOf(newServer), []reflect.Value{
		reflect.ValueOf("10.1.2.3"), reflect.ValueOf(8443),
	})
	require.NoError(t, err)

	s := out[0].Interface().(*server)
	assert.Equal(t, &server{Addr: "0.0.0.0", Port: 0}, s)
	assert.Equal(t, 1, l.Hits(target))
}

func TestLayer_PriorityAndTieBreak(t *testing.T) {
	l := NewLayer()
	var calls []string
	target := "ctor:x"
	require.NoError(t, l.Instrument(target, constant(1, "low", &calls)))
	require.NoError(t, l.Instrument(target, constant(5, "first-high", &calls)))
	require.NoError(t, l.Instrument(target, constant(5, "second-high", &calls)))

	out, err := l.Invoke(target, reflect.ValueOf(newServer), []reflect.Value{reflect.ValueOf("a"), reflect.ValueOf(1)})
	require.NoError(t, err)
	assert.Equal(t, "first-high", out[0].Interface().(*server).Addr)
	assert.Equal(t, []string{"first-high"}, calls)
}

func TestLayer_ResultsRewrite(t *testing.T) {
	l := NewLayer()
	target := "call:sum"
	require.NoError(t, l.Instrument(target, Results(0, func(args, results []reflect.Value) []reflect.Value {
		return []reflect.Value{reflect.ValueOf(int(results[0].Int()) * 10)}
	})))

	sum := func(a, b int) int { return a + b }
	out, err := l.Invoke(target, reflect.ValueOf(sum), []reflect.Value{reflect.ValueOf(1), reflect.ValueOf(2)})
	require.NoError(t, err)
	assert.Equal(t, 30, out[0].Interface())
}

func TestLayer_InterceptorError(t *testing.T) {
	l := NewLayer()
	boom := errors.New("boom")
	require.NoError(t, l.Instrument("call:x", Func{Fn: func(*api.Invocation) ([]reflect.Value, error) {
		return nil, boom
	}}))
	_, err := l.Invoke("call:x", reflect.ValueOf(func() {}), nil)
	assert.ErrorIs(t, err, boom)
}

func TestLayer_Verify(t *testing.T) {
	DeclareSite("test.declared")

	l := NewLayer()
	require.NoError(t, l.Instrument("ctor:*instrumentation.server", Replace(0, nil)))
	require.NoError(t, l.Instrument("binding:string#dsn", Replace(0, "x")))
	require.NoError(t, l.Instrument("call:test.declared", Replace(0, nil)))
	require.NoError(t, l.Instrument("call:test.undeclared", Replace(0, nil)))

	err := l.Verify([]string{"ctor:*instrumentation.server"})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrUnreachableTarget)
	assert.Contains(t, err.Error(), "binding:string#dsn, call:test.undeclared")

	err = l.Verify([]string{"ctor:*instrumentation.server", "binding:string#dsn", "call:test.undeclared"})
	require.Error(t, err, "call targets are judged by declaration only")
	assert.Contains(t, err.Error(), ": call:test.undeclared")
}

func TestLayer_Uninstrument(t *testing.T) {
	l := NewLayer()
	var calls []string
	require.NoError(t, l.Instrument("ctor:x", constant(0, "intercepted", &calls)))
	l.Uninstrument()
	assert.True(t, l.Removed())
	assert.Empty(t, l.Targets())

	out, err := l.Invoke("ctor:x", reflect.ValueOf(newServer), []reflect.Value{reflect.ValueOf("real"), reflect.ValueOf(1)})
	require.NoError(t, err)
	assert.Equal(t, "real", out[0].Interface().(*server).Addr)
	assert.Empty(t, calls)

	assert.Error(t, l.Instrument("ctor:x", constant(0, "late", &calls)))
}

func TestReplace_BindingLookup(t *testing.T) {
	l := NewLayer()
	target := BindingTarget(api.KeyOf[string]("dsn"))
	require.NoError(t, l.Instrument(target, Replace(MaxPriority, "postgres://fake")))

	lookup := func() (any, error) { return "postgres://real", nil }
	out, err := l.Invoke(target, reflect.ValueOf(lookup), nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://fake", out[0].Interface())
	assert.True(t, out[1].IsNil())
}

func TestCall(t *testing.T) {
	DeclareSite("test.concat")
	concat := func(a, b string) string { return a + b }

	out, err := Call(context.Background(), "test.concat", concat, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, []any{"ab"}, out)

	l := NewLayer()
	require.NoError(t, l.Instrument(CallTarget("test.concat"), Arguments(0, func(args []reflect.Value) []reflect.Value {
		return []reflect.Value{args[1], args[0]}
	})))
	out, err = Call(WithLayer(context.Background(), l), "test.concat", concat, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, []any{"ba"}, out)

	_, err = Call(context.Background(), "test.never-declared", concat, "a", "b")
	assert.Error(t, err)
	_, err = Call(context.Background(), "test.concat", concat, "a")
	assert.Error(t, err)
}
