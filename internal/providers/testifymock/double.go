package testifymock

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"
)

// Double is embedded (as a pointer) by hand-written test doubles. Stubbing
// uses the embedded testify mock:
//
//	type storeDouble struct{ *testifymock.Double }
//
//	func (s storeDouble) Get(key string) (string, error) {
//	    out := s.Invoke("Get", key)
//	    return out.String(0), out.Error(1)
//	}
//
// Calls that match an expectation return the stubbed values. Other calls
// are forwarded to the delegate of a virtual double, or answered with zero
// values by a fake and remembered as uninspected.
//
// Stubbed calls are matched and recorded one at a time, so a Run function
// must not call back into the same double.
type Double struct {
	mock.Mock

	typ      reflect.Type
	delegate reflect.Value
	owner    *Provider

	// calls serializes expectation matching with MethodCalled.
	calls sync.Mutex

	mu          sync.Mutex
	uninspected []string
	delegated   []string
}

// TestDouble returns d. Doubles embedding *Double inherit it, which is how
// the provider recognises its instances.
func (d *Double) TestDouble() *Double { return d }

// Type returns the substituted type.
func (d *Double) Type() reflect.Type { return d.typ }

// Virtual reports whether d delegates to a real instance.
func (d *Double) Virtual() bool { return d.delegate.IsValid() }

// Invoke dispatches one call of method.
func (d *Double) Invoke(method string, args ...any) mock.Arguments {
	if out, ok := d.callStubbed(method, args); ok {
		return out
	}

	call := callString(d.typ, method, args)
	if d.delegate.IsValid() {
		d.mu.Lock()
		d.delegated = append(d.delegated, call)
		d.mu.Unlock()
		return d.callDelegate(method, args)
	}

	d.mu.Lock()
	d.uninspected = append(d.uninspected, call)
	d.mu.Unlock()
	return d.zeroResults(method)
}

// Uninspected returns the calls on a fake no expectation covered.
func (d *Double) Uninspected() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.uninspected...)
}

// Delegated returns the calls a virtual double forwarded to its delegate.
func (d *Double) Delegated() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.delegated...)
}

// callStubbed records the call on the matching expectation, if any. The
// match and the record happen under one lock so a concurrent caller cannot
// use up a Times(n) expectation in between.
func (d *Double) callStubbed(method string, args []any) (mock.Arguments, bool) {
	d.calls.Lock()
	defer d.calls.Unlock()
	if !d.stubbed(method, args) {
		return nil, false
	}
	return d.MethodCalled(method, args...), true
}

// stubbed mirrors testify's own expectation matching, skipping
// expectations whose repeat count is used up. Callers hold d.calls.
func (d *Double) stubbed(method string, args []any) bool {
	for _, c := range d.ExpectedCalls {
		if c.Method != method || c.Repeatability < 0 {
			continue
		}
		if _, diffs := c.Arguments.Diff(args); diffs == 0 {
			return true
		}
	}
	return false
}

func (d *Double) callDelegate(method string, args []any) mock.Arguments {
	m := d.delegate.MethodByName(method)
	if !m.IsValid() {
		panic(fmt.Sprintf("testifymock: delegate %s has no method %s", d.delegate.Type(), method))
	}
	mt := m.Type()
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil {
			in[i] = reflect.Zero(mt.In(i))
		} else {
			in[i] = reflect.ValueOf(a)
		}
	}
	out := m.Call(in)
	res := make(mock.Arguments, len(out))
	for i, v := range out {
		res[i] = v.Interface()
	}
	return res
}

func (d *Double) zeroResults(method string) mock.Arguments {
	m, ok := d.typ.MethodByName(method)
	if !ok {
		panic(fmt.Sprintf("testifymock: %s has no method %s", d.typ, method))
	}
	ft := m.Type
	res := make(mock.Arguments, ft.NumOut())
	for i := range res {
		res[i] = reflect.Zero(ft.Out(i)).Interface()
	}
	return res
}

func callString(typ reflect.Type, method string, args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%#v", a)
	}
	return fmt.Sprintf("%s.%s(%s)", typ, method, strings.Join(parts, ", "))
}
