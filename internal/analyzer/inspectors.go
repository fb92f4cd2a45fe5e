package analyzer

import (
	"reflect"
	"strings"

	"testbed/internal/api"
	"testbed/internal/descriptor"
	"testbed/internal/registry"
)

// Inspector handles one metadata kind. It appends what it finds to the
// builder. typ is the type the metadata was found on: the fixture itself
// or a scanned type.
type Inspector interface {
	Inspect(b *descriptor.Builder, typ reflect.Type, md descriptor.Metadata) error
}

// InspectorFunc adapts a function to the Inspector interface.
type InspectorFunc func(b *descriptor.Builder, typ reflect.Type, md descriptor.Metadata) error

func (f InspectorFunc) Inspect(b *descriptor.Builder, typ reflect.Type, md descriptor.Metadata) error {
	return f(b, typ, md)
}

// builtinInspectors returns the inspectors for every kind in package
// descriptor. reg may be nil, which disables provider reachability checks.
func builtinInspectors(reg *registry.Registry) map[string]Inspector {
	return map[string]Inspector{
		descriptor.KindModule: InspectorFunc(func(b *descriptor.Builder, _ reflect.Type, md descriptor.Metadata) error {
			return b.AddModule(api.Module(md.(descriptor.Module)))
		}),
		descriptor.KindScan: InspectorFunc(func(b *descriptor.Builder, _ reflect.Type, md descriptor.Metadata) error {
			for _, t := range md.(descriptor.Scan).Types {
				if _, err := b.AddScanTarget(t); err != nil {
					return err
				}
			}
			return nil
		}),
		descriptor.KindResource: InspectorFunc(func(b *descriptor.Builder, _ reflect.Type, md descriptor.Metadata) error {
			r := md.(descriptor.Resource)
			if reg != nil {
				if _, err := reg.ResourceProvider(r.Kind, r.Provider); err != nil {
					name := r.Name
					if name == "" {
						name = r.Provider
					}
					return unreachable(b, "resource "+name, err)
				}
			}
			return b.AddResource(api.ResourceDeclaration{
				Kind:       r.Kind,
				Name:       r.Name,
				Provider:   r.Provider,
				Properties: r.Properties,
				Strategy:   r.Strategy,
				DependsOn:  r.DependsOn,
			})
		}),
		descriptor.KindField:         InspectorFunc(inspectField),
		descriptor.KindConfigHandler: InspectorFunc(inspectConfigHandler),
		descriptor.KindStrategy: InspectorFunc(func(b *descriptor.Builder, _ reflect.Type, md descriptor.Metadata) error {
			return b.SetStrategy(api.StartStrategy(md.(descriptor.Strategy)))
		}),
		descriptor.KindBackend: InspectorFunc(func(b *descriptor.Builder, _ reflect.Type, md descriptor.Metadata) error {
			name := string(md.(descriptor.Backend))
			if reg != nil {
				if _, err := registry.LookupOne[api.ServiceResolutionProvider](reg, name); err != nil {
					return unreachable(b, "backend", err)
				}
			}
			return b.SetBackend(name)
		}),
		descriptor.KindMockProvider: InspectorFunc(func(b *descriptor.Builder, _ reflect.Type, md descriptor.Metadata) error {
			name := string(md.(descriptor.MockProvider))
			if reg != nil {
				if _, err := registry.LookupOne[api.MockProvider](reg, name); err != nil {
					return unreachable(b, "mock provider", err)
				}
			}
			return b.SetMockProvider(name)
		}),
		descriptor.KindVerify: InspectorFunc(func(b *descriptor.Builder, _ reflect.Type, _ descriptor.Metadata) error {
			b.EnableVerification()
			return nil
		}),
		descriptor.KindInstrument: InspectorFunc(func(b *descriptor.Builder, _ reflect.Type, md descriptor.Metadata) error {
			names := md.(descriptor.Instrument).Providers
			if reg != nil {
				for _, n := range names {
					if _, err := registry.LookupOne[api.InstrumentationProvider](reg, n); err != nil {
						return unreachable(b, "instrumentation", err)
					}
				}
			}
			b.AddInstrumentations(names...)
			return nil
		}),
	}
}

func unreachable(b *descriptor.Builder, what string, err error) error {
	return &api.AnalysisError{Fixture: b.Name(), Reason: what + " references an unavailable provider", Err: err}
}

func inspectConfigHandler(b *descriptor.Builder, _ reflect.Type, md descriptor.Metadata) error {
	h := md.(descriptor.ConfigHandler)
	if h == nil {
		return b.AddConfigHandler(nil)
	}
	return b.AddConfigHandler(api.ConfigHandler(h))
}

func inspectField(b *descriptor.Builder, typ reflect.Type, md descriptor.Metadata) error {
	f := md.(descriptor.Field)
	fixture := b.Type()
	if typ != fixture {
		return api.NewAnalysisError(b.Name(), f.Name, "field metadata declared on scanned type %s", typ)
	}
	sf, ok := fixture.FieldByName(f.Name)
	if !ok {
		return api.NewAnalysisError(b.Name(), f.Name, "no such field")
	}
	if !sf.IsExported() {
		return api.NewAnalysisError(b.Name(), f.Name, "field is not exported")
	}
	return b.MergeField(api.FieldDeclaration{
		Name:         sf.Name,
		Index:        sf.Index,
		Type:         sf.Type,
		Substitution: f.Substitution,
		Binding:      f.Binding,
		Resource:     f.Resource,
		ResourceKey:  f.ResourceKey,
	})
}

// TagName is the struct tag key carrying field metadata.
const TagName = "testbed"

// parseTag turns a testbed struct tag into a Field. ok is false for
// untagged or "-" fields.
func parseTag(fixture string, sf reflect.StructField) (descriptor.Field, bool, error) {
	raw, ok := sf.Tag.Lookup(TagName)
	if !ok || raw == "-" {
		return descriptor.Field{}, false, nil
	}

	f := descriptor.Field{Name: sf.Name}
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		switch {
		case !hasValue && (key == string(api.SubstitutionFake) || key == string(api.SubstitutionVirtual) || key == string(api.SubstitutionReal)):
			kind := api.SubstitutionKind(key)
			if f.Substitution != "" && f.Substitution != kind {
				return f, false, api.NewAnalysisError(fixture, sf.Name, "conflicting substitution kinds %s and %s", f.Substitution, kind)
			}
			f.Substitution = kind
		case hasValue && key == "name":
			f.Binding = value
		case hasValue && key == "resource":
			f.Resource = value
		case hasValue && key == "key":
			f.ResourceKey = value
		default:
			return f, false, api.NewAnalysisError(fixture, sf.Name, "unknown tag option %q", part)
		}
	}
	if f.ResourceKey != "" && f.Resource == "" {
		return f, false, api.NewAnalysisError(fixture, sf.Name, "key option without resource")
	}
	return f, true, nil
}
