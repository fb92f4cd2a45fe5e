package analyzer

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testbed/internal/api"
	"testbed/internal/descriptor"
	"testbed/internal/registry"
)

type Store interface {
	Get(key string) (string, error)
}

type Clock interface{ Now() int64 }

type futureMetadata struct{}

func (futureMetadata) MetadataKind() string { return "from-the-future" }

type taggedFixture struct {
	Store   Store  `testbed:"fake"`
	Clock   Clock  `testbed:"virtual,name=wall"`
	Address string `testbed:"resource=grpc,key=address"`
	Plain   int
	Skipped Store `testbed:"-"`
}

func (*taggedFixture) Declare() []any {
	return []any{
		descriptor.Resource{Kind: api.KindLocal, Provider: "grpc"},
		descriptor.Verify{},
		futureMetadata{},
		"not metadata at all",
	}
}

type conflictingFixture struct {
	Store Store `testbed:"fake"`
}

func (*conflictingFixture) Declare() []any {
	return []any{descriptor.Field{Name: "Store", Substitution: api.SubstitutionVirtual}}
}

type unreachableFixture struct{}

func (*unreachableFixture) Declare() []any {
	return []any{descriptor.Resource{Kind: api.KindVirtual, Provider: "kafka"}}
}

type scanA struct{}

func (*scanA) Declare() []any {
	return []any{
		descriptor.ScanOf[scanB](),
		descriptor.Module{Name: "a"},
	}
}

type scanB struct{}

func (*scanB) Declare() []any {
	return []any{
		descriptor.ScanOf[scanA](),
		descriptor.Module{Name: "b"},
		descriptor.Field{Name: "Ignored", Substitution: api.SubstitutionFake},
	}
}

type scanningFixture struct{}

func (scanningFixture) Declare() []any {
	return []any{descriptor.ScanOf[*scanA]()}
}

type panickingFixture struct{}

func (*panickingFixture) Declare() []any { panic("boom") }

type stubResource struct {
	api.ResourceProvider
	name string
	kind api.ResourceKind
}

func (s *stubResource) ProviderName() string   { return s.name }
func (s *stubResource) Kind() api.ResourceKind { return s.kind }

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	b := registry.NewBuilder()
	registry.Provide[api.ResourceProvider](b, &stubResource{name: "grpc", kind: api.KindLocal})
	reg, err := b.Build()
	require.NoError(t, err)
	return reg
}

func TestAnalyze_TagsAndDeclarations(t *testing.T) {
	a := New(testRegistry(t))

	m, err := a.Analyze(&taggedFixture{})
	require.NoError(t, err)

	assert.Equal(t, "testbed/internal/analyzer.taggedFixture", m.Name())
	assert.True(t, m.VerifyInteractions())

	fields := m.Fields()
	require.Len(t, fields, 3)

	assert.Equal(t, "Store", fields[0].Name)
	assert.Equal(t, api.SubstitutionFake, fields[0].Substitution)
	assert.Equal(t, reflect.TypeFor[Store](), fields[0].Type)

	assert.Equal(t, api.SubstitutionVirtual, fields[1].Substitution)
	assert.Equal(t, "wall", fields[1].Binding)

	assert.True(t, fields[2].IsResource())
	assert.Equal(t, "grpc", fields[2].Resource)
	assert.Equal(t, "address", fields[2].ResourceKey)

	res := m.Resources()
	require.Len(t, res, 1)
	assert.Equal(t, "grpc", res[0].Name)
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fixture any
		reason  string
	}{
		{name: "conflicting kinds across tag and Declare", fixture: &conflictingFixture{}, reason: "conflicting substitution kinds"},
		{name: "unreachable resource provider", fixture: &unreachableFixture{}, reason: "unavailable provider"},
		{name: "not a struct", fixture: 42, reason: "must be a struct"},
		{name: "Declare panics", fixture: &panickingFixture{}, reason: "panicked: boom"},
		{name: "conflicting kinds in one tag", fixture: &struct {
			S Store `testbed:"fake,real"`
		}{}, reason: "conflicting substitution kinds fake and real"},
		{name: "unknown tag option", fixture: &struct {
			S Store `testbed:"fake,sometimes"`
		}{}, reason: `unknown tag option "sometimes"`},
		{name: "unexported tagged field", fixture: &struct {
			s Store `testbed:"fake"`
		}{}, reason: "not exported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(testRegistry(t))
			_, err := a.Analyze(tt.fixture)
			require.Error(t, err)
			assert.True(t, api.IsAnalysisError(err), "got %T", err)
			assert.Contains(t, err.Error(), tt.reason)
			assert.False(t, a.Cached(tt.fixture))
		})
	}
}

func TestAnalyze_RecursiveScanIsCycleSafe(t *testing.T) {
	a := New(nil)

	m, err := a.Analyze(scanningFixture{})
	require.NoError(t, err)

	assert.Equal(t, []reflect.Type{reflect.TypeFor[scanA](), reflect.TypeFor[scanB]()}, m.ScanTargets())
	var names []string
	for _, mod := range m.Modules() {
		names = append(names, mod.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Empty(t, m.Fields(), "field metadata on scanned types is ignored")
}

func TestAnalyze_CustomInspector(t *testing.T) {
	var seen []string
	a := New(nil, WithInspector("from-the-future", InspectorFunc(func(b *descriptor.Builder, typ reflect.Type, md descriptor.Metadata) error {
		seen = append(seen, typ.Name())
		return nil
	})))

	_, err := a.Analyze(&taggedFixture{})
	require.NoError(t, err)
	assert.Equal(t, []string{"taggedFixture"}, seen)
}

func TestAnalyze_CacheAndEvict(t *testing.T) {
	a := New(testRegistry(t))

	first, err := a.Analyze(&taggedFixture{})
	require.NoError(t, err)
	second, err := a.Analyze(reflect.TypeFor[taggedFixture]())
	require.NoError(t, err)
	assert.Same(t, first, second)

	a.Evict(taggedFixture{})
	assert.False(t, a.Cached(&taggedFixture{}))

	third, err := a.Analyze(&taggedFixture{})
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, first.Fields(), third.Fields())

	a.Reset()
	assert.False(t, a.Cached(&taggedFixture{}))
}

func TestAnalyze_ConcurrentCallersShareResult(t *testing.T) {
	a := New(testRegistry(t))

	const n = 16
	results := make([]*descriptor.Model, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := a.Analyze(&taggedFixture{})
			assert.NoError(t, err)
			results[i] = m
		}()
	}
	wg.Wait()

	for _, m := range results[1:] {
		assert.Same(t, results[0], m)
	}
}
