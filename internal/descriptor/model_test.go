package descriptor

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testbed/internal/api"
)

type sampleFixture struct {
	Store any
}

func newSampleBuilder() *Builder {
	return NewBuilder(reflect.TypeFor[*sampleFixture]())
}

func TestNameOf(t *testing.T) {
	assert.Equal(t, "testbed/internal/descriptor.sampleFixture", NameOf(reflect.TypeFor[*sampleFixture]()))
	assert.Equal(t, "int", NameOf(reflect.TypeFor[int]()))
}

func TestBuilder_ResourceDefaults(t *testing.T) {
	b := newSampleBuilder()
	require.NoError(t, b.AddResource(api.ResourceDeclaration{Kind: api.KindLocal, Provider: "grpc"}))

	m, err := b.Build()
	require.NoError(t, err)

	res := m.Resources()
	require.Len(t, res, 1)
	assert.Equal(t, "grpc", res[0].Name)
	assert.Equal(t, api.StrategyUndefined, res[0].Strategy)
	assert.NotNil(t, res[0].Properties)
}

func TestBuilder_ResourceErrors(t *testing.T) {
	tests := []struct {
		name  string
		decls []api.ResourceDeclaration
	}{
		{
			name:  "unknown kind",
			decls: []api.ResourceDeclaration{{Kind: "Cloud", Name: "x"}},
		},
		{
			name:  "no name and no provider",
			decls: []api.ResourceDeclaration{{Kind: api.KindRemote}},
		},
		{
			name: "duplicate name",
			decls: []api.ResourceDeclaration{
				{Kind: api.KindRemote, Provider: "postgres"},
				{Kind: api.KindRemote, Provider: "postgres"},
			},
		},
		{
			name:  "bad strategy",
			decls: []api.ResourceDeclaration{{Kind: api.KindLocal, Name: "a", Strategy: "whenever"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newSampleBuilder()
			var err error
			for _, d := range tt.decls {
				if err = b.AddResource(d); err != nil {
					break
				}
			}
			require.Error(t, err)
			assert.True(t, api.IsAnalysisError(err))
		})
	}
}

func TestBuilder_MergeField(t *testing.T) {
	t.Run("conflicting substitution kinds", func(t *testing.T) {
		b := newSampleBuilder()
		require.NoError(t, b.MergeField(api.FieldDeclaration{Name: "Store", Substitution: api.SubstitutionFake}))
		err := b.MergeField(api.FieldDeclaration{Name: "Store", Substitution: api.SubstitutionVirtual})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "conflicting substitution kinds fake and virtual")
	})

	t.Run("repeated agreeing declaration fills the binding name", func(t *testing.T) {
		b := newSampleBuilder()
		require.NoError(t, b.MergeField(api.FieldDeclaration{Name: "Store", Substitution: api.SubstitutionFake}))
		require.NoError(t, b.MergeField(api.FieldDeclaration{Name: "Store", Substitution: api.SubstitutionFake, Binding: "primary"}))

		m, err := b.Build()
		require.NoError(t, err)
		f, ok := m.Field("Store")
		require.True(t, ok)
		assert.Equal(t, "primary", f.Binding)
	})

	t.Run("substitution and resource", func(t *testing.T) {
		b := newSampleBuilder()
		err := b.MergeField(api.FieldDeclaration{Name: "Store", Substitution: api.SubstitutionReal, Resource: "db"})
		assert.True(t, api.IsAnalysisError(err))
	})
}

func TestBuilder_ValidateReferences(t *testing.T) {
	b := newSampleBuilder()
	require.NoError(t, b.AddResource(api.ResourceDeclaration{Kind: api.KindRemote, Name: "db", DependsOn: []string{"pg"}}))
	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `depends on undeclared resource "pg"`)

	b = newSampleBuilder()
	require.NoError(t, b.MergeField(api.FieldDeclaration{Name: "Store", Resource: "db"}))
	_, err = b.Build()
	assert.Contains(t, err.Error(), `references undeclared resource "db"`)
}

func TestBuilder_Selectors(t *testing.T) {
	b := newSampleBuilder()
	require.NoError(t, b.SetBackend("reflect"))
	require.NoError(t, b.SetBackend("reflect"))
	assert.Error(t, b.SetBackend("other"))

	require.NoError(t, b.SetStrategy("Lazy"))
	assert.Error(t, b.SetStrategy(api.StrategyEager))
}

func TestModel_IsImmutable(t *testing.T) {
	b := newSampleBuilder()
	require.NoError(t, b.AddResource(api.ResourceDeclaration{
		Kind:       api.KindRemote,
		Name:       "db",
		Properties: map[string]string{"url": "postgres://x"},
	}))
	require.NoError(t, b.AddModule(api.Module{Name: "app", Constructors: []any{func() int { return 1 }}}))
	m, err := b.Build()
	require.NoError(t, err)

	res := m.Resources()
	res[0].Properties["url"] = "mutated"
	mods := m.Modules()
	mods[0].Constructors[0] = nil

	again, _ := m.Resource("db")
	assert.Equal(t, "postgres://x", again.Properties["url"])
	assert.NotNil(t, m.Modules()[0].Constructors[0])

	_, err = b.Build()
	assert.Error(t, err, "a builder can only be built once")
}

func TestBuilder_AddModuleRejectsNonFunctions(t *testing.T) {
	b := newSampleBuilder()
	err := b.AddModule(api.Module{Name: "bad", Constructors: []any{42}})
	assert.True(t, api.IsAnalysisError(err))
}

func TestBuilder_Instrumentations(t *testing.T) {
	b := newSampleBuilder()
	m, _ := b.Build()
	assert.Nil(t, m.Instrumentations(), "nil means every registered provider")

	b = newSampleBuilder()
	b.AddInstrumentations()
	m, _ = b.Build()
	assert.NotNil(t, m.Instrumentations())
	assert.Empty(t, m.Instrumentations())
}
