package substitution

import (
	"fmt"

	"testbed/internal/api"
	"testbed/pkg/logging"
)

// Decision is the planned treatment of one collaborator field.
type Decision struct {
	Field api.FieldDeclaration
	Kind  api.SubstitutionKind
	// Key is the binding the substitute replaces.
	Key api.BindingKey
}

// Plan lists the decisions for a descriptor in field order.
type Plan struct {
	decisions []Decision
}

// PlanFor decides, per collaborator field of d, which substitution applies.
// Resource fields are not collaborators and are skipped.
func PlanFor(d api.Descriptor) (*Plan, error) {
	p := &Plan{}
	seen := make(map[api.BindingKey]string)
	for _, f := range d.Fields() {
		if f.IsResource() {
			continue
		}
		if err := f.Substitution.Validate(); err != nil {
			return nil, api.NewAnalysisError(d.Name(), f.Name, "%v", err)
		}
		key := f.Key()
		if other, dup := seen[key]; dup && f.Substitution != api.SubstitutionReal {
			return nil, api.NewAnalysisError(d.Name(), f.Name, "substitutes binding %s already substituted by field %s", key, other)
		}
		if f.Substitution != api.SubstitutionReal {
			seen[key] = f.Name
		}
		p.decisions = append(p.decisions, Decision{Field: f, Kind: f.Substitution, Key: key})
	}
	return p, nil
}

// Decisions returns the planned decisions.
func (p *Plan) Decisions() []Decision {
	return append([]Decision(nil), p.decisions...)
}

// NeedsMocks reports whether any decision requires a mock provider.
func (p *Plan) NeedsMocks() bool {
	for _, d := range p.decisions {
		if d.Kind != api.SubstitutionReal {
			return true
		}
	}
	return false
}

// Substitution is the materialized decision of one field.
type Substitution struct {
	Decision
	// Instance is the fake or virtual instance, nil for real fields.
	Instance any
	// Delegate is the real instance behind a virtual.
	Delegate any
	// Provider names the mock provider that created Instance.
	Provider string
}

// Result holds the materialized substitutions of one test context.
type Result struct {
	order    []string
	subs     map[string]*Substitution
	provider api.MockProvider
}

// RealResolver resolves the real instance a virtual delegates to.
type RealResolver func(key api.BindingKey) (any, error)

// Materialize creates the substitutes of plan. mp may be nil when the plan
// needs no mocks.
func Materialize(plan *Plan, mp api.MockProvider, real RealResolver) (*Result, error) {
	if plan.NeedsMocks() && mp == nil {
		return nil, fmt.Errorf("substitutions requested but no mock provider available")
	}
	r := &Result{subs: make(map[string]*Substitution), provider: mp}
	for _, d := range plan.decisions {
		s := &Substitution{Decision: d}
		switch d.Kind {
		case api.SubstitutionFake:
			inst, err := mp.CreateFake(d.Field.Type)
			if err != nil {
				return nil, fmt.Errorf("field %s: fake: %w", d.Field.Name, err)
			}
			s.Instance, s.Provider = inst, mp.ProviderName()
		case api.SubstitutionVirtual:
			delegate, err := real(d.Key)
			if err != nil {
				return nil, fmt.Errorf("field %s: real instance for virtual: %w", d.Field.Name, err)
			}
			inst, err := mp.CreateVirtual(d.Field.Type, delegate)
			if err != nil {
				return nil, fmt.Errorf("field %s: virtual: %w", d.Field.Name, err)
			}
			s.Instance, s.Delegate, s.Provider = inst, delegate, mp.ProviderName()
		case api.SubstitutionReal:
		}
		r.order = append(r.order, d.Field.Name)
		r.subs[d.Field.Name] = s
		logging.Debug("Substitution", "Field %s: %s %s", d.Field.Name, d.Kind, d.Key)
	}
	return r, nil
}

// Apply binds every fake and virtual under its key.
func (r *Result) Apply(bind func(key api.BindingKey, instance any) error) error {
	for _, name := range r.order {
		s := r.subs[name]
		if s.Instance == nil {
			continue
		}
		if err := bind(s.Key, s.Instance); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
	return nil
}

// Get returns the substitution of the named field.
func (r *Result) Get(field string) (*Substitution, bool) {
	s, ok := r.subs[field]
	return s, ok
}

// All returns the substitutions in field order.
func (r *Result) All() []*Substitution {
	out := make([]*Substitution, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.subs[name])
	}
	return out
}

// Fakes returns the fake instances in field order.
func (r *Result) Fakes() []any {
	var out []any
	for _, s := range r.All() {
		if s.Kind == api.SubstitutionFake {
			out = append(out, s.Instance)
		}
	}
	return out
}

// Verify asks the mock provider to assert that no fake saw uninspected
// interactions.
func (r *Result) Verify() error {
	fakes := r.Fakes()
	if len(fakes) == 0 || r.provider == nil {
		return nil
	}
	return r.provider.VerifyNoMoreInteractions(fakes...)
}
