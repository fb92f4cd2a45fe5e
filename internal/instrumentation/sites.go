package instrumentation

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

var sites sync.Map // name -> struct{}

// DeclareSite makes a call site known so call:<name> targets can be
// verified. Call it from package initialization.
func DeclareSite(name string) string {
	sites.Store(name, struct{}{})
	return CallTarget(name)
}

// SiteDeclared reports whether name was declared.
func SiteDeclared(name string) bool {
	_, ok := sites.Load(name)
	return ok
}

type layerKey struct{}

// WithLayer returns ctx carrying l for call sites downstream.
func WithLayer(ctx context.Context, l *Layer) context.Context {
	return context.WithValue(ctx, layerKey{}, l)
}

// FromContext returns the layer carried by ctx, or nil.
func FromContext(ctx context.Context) *Layer {
	l, _ := ctx.Value(layerKey{}).(*Layer)
	return l
}

// Call runs fn(args...) through the declared call site name. Without a
// layer in ctx the function is called directly.
func Call(ctx context.Context, name string, fn any, args ...any) ([]any, error) {
	if !SiteDeclared(name) {
		return nil, fmt.Errorf("call site %q is not declared", name)
	}
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return nil, fmt.Errorf("call site %q: %T is not a function", name, fn)
	}
	in, err := ArgsOf(fv.Type(), args)
	if err != nil {
		return nil, fmt.Errorf("call site %q: %w", name, err)
	}

	var out []reflect.Value
	if l := FromContext(ctx); l != nil {
		out, err = l.Invoke(CallTarget(name), fv, in)
		if err != nil {
			return nil, err
		}
	} else {
		out = fv.Call(in)
	}
	return Interfaces(out), nil
}

// ArgsOf converts args to the parameter types of fnType. Nil arguments
// become zero values.
func ArgsOf(fnType reflect.Type, args []any) ([]reflect.Value, error) {
	if fnType.IsVariadic() {
		return nil, fmt.Errorf("variadic functions are not supported")
	}
	if fnType.NumIn() != len(args) {
		return nil, fmt.Errorf("want %d arguments, got %d", fnType.NumIn(), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		pt := fnType.In(i)
		if a == nil {
			in[i] = reflect.Zero(pt)
			continue
		}
		v := reflect.ValueOf(a)
		if !v.Type().AssignableTo(pt) {
			return nil, fmt.Errorf("argument %d: %s is not assignable to %s", i, v.Type(), pt)
		}
		in[i] = v
	}
	return in, nil
}

// Interfaces unwraps reflect values, keeping nil interfaces nil.
func Interfaces(vals []reflect.Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		if v.IsValid() && v.CanInterface() {
			out[i] = v.Interface()
		}
	}
	return out
}
