package resources

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"testbed/internal/api"
	"testbed/internal/resources/resourcetest"
)

func TestResource_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []api.ResourceState
		panic bool
	}{
		{name: "happy path", path: []api.ResourceState{api.ResourceConfiguring, api.ResourceStarting, api.ResourceStarted, api.ResourceStopping, api.ResourceStopped}},
		{name: "configure fails", path: []api.ResourceState{api.ResourceConfiguring, api.ResourceError}},
		{name: "start fails", path: []api.ResourceState{api.ResourceConfiguring, api.ResourceStarting, api.ResourceError}},
		{name: "skip configure", path: []api.ResourceState{api.ResourceStarting}, panic: true},
		{name: "restart after stop", path: []api.ResourceState{api.ResourceConfiguring, api.ResourceStarting, api.ResourceStarted, api.ResourceStopping, api.ResourceStopped, api.ResourceStarting}, panic: true},
		{name: "error is absorbing", path: []api.ResourceState{api.ResourceConfiguring, api.ResourceError, api.ResourceStarting}, panic: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResource(api.ResourceDeclaration{Name: "a"}, resourcetest.New("fake", api.KindLocal), api.StrategyEager, nil)
			walk := func() {
				for _, s := range tt.path {
					r.updateState(s, nil)
				}
			}
			if tt.panic {
				assert.Panics(t, walk)
				return
			}
			walk()
			assert.Equal(t, append([]api.ResourceState{api.ResourceDeclared}, tt.path...), r.History())
		})
	}
}

func TestResource_LastErrorKept(t *testing.T) {
	r := newResource(api.ResourceDeclaration{Name: "a"}, resourcetest.New("fake", api.KindLocal), api.StrategyLazy, nil)
	cause := errors.New("refused")
	r.updateState(api.ResourceConfiguring, nil)
	r.updateState(api.ResourceError, cause)

	assert.Equal(t, api.ResourceError, r.State())
	assert.ErrorIs(t, r.LastError(), cause)
	assert.Equal(t, api.StrategyLazy, r.Strategy())
	assert.Equal(t, "fake", r.ProviderName())
	assert.Nil(t, r.Instance())
}
