package registry

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"testbed/internal/api"
)

type fakeMock struct {
	api.MockProvider
	name string
}

func (f *fakeMock) ProviderName() string { return f.name }

type fakeResource struct {
	api.ResourceProvider
	name string
	kind api.ResourceKind
}

func (f *fakeResource) ProviderName() string   { return f.name }
func (f *fakeResource) Kind() api.ResourceKind { return f.kind }
func (f *fakeResource) Stop(context.Context, api.ResourceContext, api.ResourceDeclaration, *api.ResourceInstance) error {
	return nil
}

func TestLookupOne(t *testing.T) {
	b := NewBuilder()
	Provide[api.MockProvider](b, &fakeMock{name: "low"})
	Provide[api.MockProvider](b, &fakeMock{name: "high"}, Rank(5))
	Provide[api.MockProvider](b, &fakeMock{name: "also-high"}, Rank(5))
	reg, err := b.Build()
	require.NoError(t, err)

	tests := []struct {
		name     string
		selector string
		want     string
		wantErr  bool
	}{
		{name: "highest rank, first registered", selector: "", want: "high"},
		{name: "explicit selector beats rank", selector: "low", want: "low"},
		{name: "unknown selector", selector: "gomock", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := LookupOne[api.MockProvider](reg, tt.selector)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, api.IsProviderNotFound(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.ProviderName())
		})
	}
}

func TestLookup_EmptyContract(t *testing.T) {
	reg, err := NewBuilder().Build()
	require.NoError(t, err)

	assert.Empty(t, Lookup[api.InstrumentationProvider](reg))
	_, err = LookupOne[api.ServiceResolutionProvider](reg, "")
	assert.EqualError(t, err, "no provider registered for api.ServiceResolutionProvider")
}

func TestResourceProvider_FiltersByKind(t *testing.T) {
	b := NewBuilder()
	Provide[api.ResourceProvider](b, &fakeResource{name: "grpc", kind: api.KindLocal})
	Provide[api.ResourceProvider](b, &fakeResource{name: "postgres", kind: api.KindRemote})
	Provide[api.ResourceProvider](b, &fakeResource{name: "nats", kind: api.KindRemote}, Rank(1))
	reg, err := b.Build()
	require.NoError(t, err)

	p, err := reg.ResourceProvider(api.KindRemote, "")
	require.NoError(t, err)
	assert.Equal(t, "nats", p.ProviderName())

	p, err = reg.ResourceProvider(api.KindRemote, "postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", p.ProviderName())

	_, err = reg.ResourceProvider(api.KindVirtual, "postgres")
	assert.True(t, api.IsProviderNotFound(err))
}

func TestBuild_NilProvider(t *testing.T) {
	b := NewBuilder()
	var p api.MockProvider
	Provide(b, p)
	_, err := b.Build()
	assert.Error(t, err)
}

func TestEntries(t *testing.T) {
	b := NewBuilder()
	Provide[api.ResourceProvider](b, &fakeResource{name: "grpc", kind: api.KindLocal})
	Provide[api.MockProvider](b, &fakeMock{name: "testify"})
	Provide[api.ResourceProvider](b, &fakeResource{name: "nats", kind: api.KindRemote}, Rank(3))
	reg, err := b.Build()
	require.NoError(t, err)

	var got []string
	for _, e := range reg.Entries() {
		got = append(got, fmt.Sprintf("%s/%s", e.Contract.Name(), e.Name))
	}
	assert.Equal(t, []string{
		"ResourceProvider/nats",
		"ResourceProvider/grpc",
		"MockProvider/testify",
	}, got)
}

func TestDefault_RebuildsAfterReset(t *testing.T) {
	t.Cleanup(func() {
		defaultMu.Lock()
		initializers = initializers[:len(initializers)-1]
		defaultMu.Unlock()
		ResetDefault()
	})

	ResetDefault()
	calls := 0
	Register(func(b *Builder) {
		calls++
		Provide[api.MockProvider](b, &fakeMock{name: "registered"})
	})

	first, err := Default()
	require.NoError(t, err)
	second, err := Default()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	ResetDefault()
	third, err := Default()
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 2, calls)
}

// Selection order is rank descending, registration order ascending.
func TestLookup_OrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ranks := rapid.SliceOfN(rapid.IntRange(-2, 2), 1, 12).Draw(t, "ranks")

		b := NewBuilder()
		for i, r := range ranks {
			Provide[api.MockProvider](b, &fakeMock{name: fmt.Sprintf("p%d", i)}, Rank(r))
		}
		reg, err := b.Build()
		if err != nil {
			t.Fatalf("build: %v", err)
		}

		entries := reg.byContract[reflect.TypeFor[api.MockProvider]()]
		if len(entries) != len(ranks) {
			t.Fatalf("expected %d entries, got %d", len(ranks), len(entries))
		}
		for i := 1; i < len(entries); i++ {
			prev, cur := entries[i-1], entries[i]
			if prev.Rank < cur.Rank || (prev.Rank == cur.Rank && prev.Order > cur.Order) {
				t.Fatalf("entries out of order at %d: %+v before %+v", i, prev, cur)
			}
		}

		first, err := LookupOne[api.MockProvider](reg, "")
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if first.ProviderName() != entries[0].Name {
			t.Fatalf("LookupOne picked %s, want %s", first.ProviderName(), entries[0].Name)
		}
	})
}
