package orchestrator

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"testbed/internal/api"
)

var resourceInstanceType = reflect.TypeFor[*api.ResourceInstance]()

// inject assigns every declared fixture field. Substituted fields get their
// fake or virtual, resource fields their instance or one of its values and
// the rest are resolved from the service instance.
func (tc *TestContext) inject(ctx context.Context) error {
	target := reflect.ValueOf(tc.fixture).Elem()
	for _, f := range tc.model.Fields() {
		v, err := tc.fieldValue(ctx, f)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		if err := assign(target.FieldByIndex(f.Index), v); err != nil {
			return api.NewAnalysisError(tc.Name(), f.Name, "%v", err)
		}
	}
	return nil
}

func (tc *TestContext) fieldValue(ctx context.Context, f api.FieldDeclaration) (any, error) {
	if f.IsResource() {
		return tc.resourceValue(ctx, f)
	}
	switch f.Substitution {
	case api.SubstitutionFake, api.SubstitutionVirtual:
		s, ok := tc.subs.Get(f.Name)
		if !ok || s.Instance == nil {
			return nil, fmt.Errorf("no %s substitute for field %s", f.Substitution, f.Name)
		}
		return s.Instance, nil
	default:
		return tc.service.Resolve(f.Key())
	}
}

// resourceValue starts lazy resources on demand.
func (tc *TestContext) resourceValue(ctx context.Context, f api.FieldDeclaration) (any, error) {
	inst, err := tc.prov.Start(ctx, f.Resource)
	if err != nil {
		return nil, err
	}
	if f.ResourceKey != "" {
		v, ok := inst.Value(f.ResourceKey)
		if !ok {
			return nil, fmt.Errorf("resource %s has no value %q, available: %v", f.Resource, f.ResourceKey, inst.Keys())
		}
		return v, nil
	}
	if f.Type == resourceInstanceType {
		return inst, nil
	}
	bindings, err := tc.prov.Bindings(f.Resource)
	if err != nil {
		return nil, err
	}
	if v, ok := bindings[api.BindingKey{Type: f.Type, Name: f.Resource}]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("resource %s exposes no %s", f.Resource, f.Type)
}

func assign(dst reflect.Value, v any) error {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(dst.Type()) {
		return fmt.Errorf("cannot assign %s to field of type %s", rv.Type(), dst.Type())
	}
	dst.Set(rv)
	return nil
}

// sortedKeys orders bindings so that containers see them deterministically.
func sortedKeys(m map[api.BindingKey]any) []api.BindingKey {
	return slices.SortedFunc(maps.Keys(m), func(a, b api.BindingKey) int {
		return cmp.Compare(a.String(), b.String())
	})
}
