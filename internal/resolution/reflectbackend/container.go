package reflectbackend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"testbed/internal/api"
	"testbed/internal/instrumentation"
	"testbed/pkg/logging"
)

type binding struct {
	key  api.BindingKey
	ctor reflect.Value
	deps []api.BindingKey
	lazy api.LazyResolver

	value    any
	resolved bool
}

// container resolves bindings as singletons. It is used by a single test
// context and is not safe for concurrent use.
type container struct {
	ctx         context.Context
	hooks       api.BackendHooks
	allowRebind bool

	bindings map[api.BindingKey]*binding
	built    []any
	closed   bool
}

var _ api.TargetReporter = (*container)(nil)

func (c *container) register(b *binding) error {
	if _, exists := c.bindings[b.key]; exists {
		return fmt.Errorf("duplicate binding for %s", b.key)
	}
	c.bindings[b.key] = b
	return nil
}

func (c *container) Bind(key api.BindingKey, instance any) error {
	if c.closed {
		return errors.New("container is closed")
	}
	if key.Type == nil {
		return errors.New("binding key without type")
	}
	if _, exists := c.bindings[key]; exists && !c.allowRebind {
		return fmt.Errorf("%w: %s", api.ErrRebindUnsupported, key)
	}
	if lazy, ok := instance.(api.LazyResolver); ok {
		c.bindings[key] = &binding{key: key, lazy: lazy}
		return nil
	}
	if instance != nil && !reflect.TypeOf(instance).AssignableTo(key.Type) {
		return fmt.Errorf("%T can not be bound as %s", instance, key)
	}
	c.bindings[key] = &binding{key: key, value: instance, resolved: true}
	return nil
}

func (c *container) Resolve(key api.BindingKey) (any, error) {
	if c.closed {
		return nil, errors.New("container is closed")
	}
	return c.resolve(key, nil)
}

func (c *container) resolve(key api.BindingKey, path []api.BindingKey) (any, error) {
	lookup := func() (any, error) { return c.lookup(key, path) }
	if c.hooks.Invoke == nil {
		return lookup()
	}
	out, err := c.hooks.Invoke(instrumentation.BindingTarget(key), reflect.ValueOf(lookup), nil)
	if err != nil {
		return nil, &api.UnsatisfiedDependencyError{Key: key, Path: path, Err: err}
	}
	var v any
	if out[0].IsValid() && !out[0].IsNil() {
		v = out[0].Interface()
	}
	if e, _ := out[1].Interface().(error); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *container) lookup(key api.BindingKey, path []api.BindingKey) (any, error) {
	b, err := c.find(key, path)
	if err != nil {
		return nil, err
	}
	if b.key != key {
		// Interface fallback: resolve the implementation under its own key
		// so interceptors on it apply.
		return c.resolve(b.key, path)
	}
	if b.resolved {
		return b.value, nil
	}
	if slices.Contains(path, b.key) {
		return nil, &api.UnsatisfiedDependencyError{Key: key, Path: path, Err: errors.New("dependency cycle")}
	}

	if b.lazy != nil {
		v, err := b.lazy(c.ctx)
		if err != nil {
			return nil, &api.UnsatisfiedDependencyError{Key: key, Path: path, Err: err}
		}
		b.value, b.resolved = v, true
		return v, nil
	}

	inner := append(slices.Clone(path), b.key)
	args := make([]reflect.Value, len(b.deps))
	for i, dep := range b.deps {
		v, err := c.resolve(dep, inner)
		if err != nil {
			return nil, err
		}
		if v == nil {
			args[i] = reflect.Zero(dep.Type)
		} else {
			args[i] = reflect.ValueOf(v)
		}
	}

	out, err := c.construct(b, args)
	if err != nil {
		return nil, &api.UnsatisfiedDependencyError{Key: key, Path: path, Err: err}
	}
	b.value, b.resolved = out, true
	c.built = append(c.built, out)
	logging.Debug("Resolution", "Constructed %s", b.key)
	return out, nil
}

func (c *container) construct(b *binding, args []reflect.Value) (any, error) {
	var out []reflect.Value
	if c.hooks.Invoke != nil {
		var err error
		out, err = c.hooks.Invoke(instrumentation.CtorTarget(b.key.Type), b.ctor, args)
		if err != nil {
			return nil, err
		}
	} else {
		out = b.ctor.Call(args)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("constructor of %s returned nothing", b.key)
	}
	if len(out) == 2 {
		if err, _ := out[1].Interface().(error); err != nil {
			return nil, err
		}
	}
	return out[0].Interface(), nil
}

// find returns the binding for key. Unnamed interface keys fall back to
// the single unnamed binding whose type implements the interface.
func (c *container) find(key api.BindingKey, path []api.BindingKey) (*binding, error) {
	if b, ok := c.bindings[key]; ok {
		return b, nil
	}
	if key.Name == "" && key.Type != nil && key.Type.Kind() == reflect.Interface {
		var candidates []*binding
		for k, b := range c.bindings {
			if k.Name == "" && k.Type.Implements(key.Type) {
				candidates = append(candidates, b)
			}
		}
		switch len(candidates) {
		case 1:
			return candidates[0], nil
		case 0:
		default:
			names := make([]string, len(candidates))
			for i, b := range candidates {
				names[i] = b.key.String()
			}
			slices.Sort(names)
			return nil, &api.UnsatisfiedDependencyError{
				Key:  key,
				Path: path,
				Err:  fmt.Errorf("ambiguous: %s", strings.Join(names, ", ")),
			}
		}
	}
	return nil, &api.UnsatisfiedDependencyError{Key: key, Path: path}
}

func (c *container) Keys() []api.BindingKey {
	keys := make([]api.BindingKey, 0, len(c.bindings))
	for k := range c.bindings {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b api.BindingKey) int { return strings.Compare(a.String(), b.String()) })
	return keys
}

func (c *container) InstrumentationTargets() []string {
	var out []string
	for _, k := range c.Keys() {
		out = append(out, instrumentation.BindingTarget(k))
		if c.bindings[k].ctor.IsValid() {
			out = append(out, instrumentation.CtorTarget(k.Type))
		}
	}
	return out
}

type contextCloser interface {
	Close(ctx context.Context) error
}

// Close closes every constructed instance in reverse construction order.
// Bound instances belong to whoever bound them and are left alone.
func (c *container) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for i := len(c.built) - 1; i >= 0; i-- {
		var err error
		switch v := c.built[i].(type) {
		case contextCloser:
			err = v.Close(ctx)
		case io.Closer:
			err = v.Close()
		}
		if err != nil {
			logging.Warn("Resolution", "Closing %T failed: %v", c.built[i], err)
			errs = append(errs, err)
		}
	}
	c.built = nil
	c.bindings = nil
	return utilerrors.NewAggregate(errs)
}
