package instrumentation

import (
	"reflect"

	"testbed/internal/api"
)

// MaxPriority is used for binding overrides installed by the service layer.
const MaxPriority = int(^uint(0) >> 1)

// Func adapts a function to api.Interceptor.
type Func struct {
	Prio int
	Fn   func(inv *api.Invocation) ([]reflect.Value, error)
}

func (f Func) Priority() int { return f.Prio }

func (f Func) Intercept(inv *api.Invocation) ([]reflect.Value, error) {
	return f.Fn(inv)
}

// Arguments rewrites the arguments of the intercepted call and proceeds.
func Arguments(priority int, rewrite func(args []reflect.Value) []reflect.Value) api.Interceptor {
	return Func{Prio: priority, Fn: func(inv *api.Invocation) ([]reflect.Value, error) {
		return inv.Proceed(rewrite(inv.Args))
	}}
}

// Results proceeds with the original arguments and rewrites the results.
func Results(priority int, rewrite func(args, results []reflect.Value) []reflect.Value) api.Interceptor {
	return Func{Prio: priority, Fn: func(inv *api.Invocation) ([]reflect.Value, error) {
		out, err := inv.Proceed(inv.Args)
		if err != nil {
			return nil, err
		}
		return rewrite(inv.Args, out), nil
	}}
}

var errorType = reflect.TypeFor[error]()

// Replace answers binding lookups with instance without calling the
// original lookup. Binding lookups return (any, error).
func Replace(priority int, instance any) api.Interceptor {
	return Func{Prio: priority, Fn: func(*api.Invocation) ([]reflect.Value, error) {
		v := reflect.New(reflect.TypeFor[any]()).Elem()
		if instance != nil {
			v.Set(reflect.ValueOf(instance))
		}
		return []reflect.Value{v, reflect.Zero(errorType)}, nil
	}}
}
