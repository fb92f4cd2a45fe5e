package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testData() Data {
	return Data{
		Resources: map[string]ResourceView{
			"pg": {Name: "pg", Address: "127.0.0.1:5432", Values: map[string]any{"user": "app"}},
		},
		Env:     map[string]string{"DB_NAME": "orders"},
		Context: ContextView{ID: "ctx-1", Fixture: "pkg.OrdersTest"},
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr string
	}{
		{name: "plain string untouched", text: "postgres://localhost", want: "postgres://localhost"},
		{name: "resource address", text: "postgres://{{ .Resources.pg.Address }}/{{ .Env.DB_NAME }}", want: "postgres://127.0.0.1:5432/orders"},
		{name: "resource function", text: `{{ (resource "pg").Values.user }}`, want: "app"},
		{name: "sprig function", text: `{{ .Context.ID | upper }}`, want: "CTX-1"},
		{name: "sprig default", text: `{{ .Env.MISSING | default "x" }}`, wantErr: "MISSING"},
		{name: "unstarted resource", text: `{{ (resource "nats").Address }}`, wantErr: `resource "nats" is not started`},
		{name: "parse error", text: "{{ .Resources.pg.Address", wantErr: "parsing"},
	}

	e := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render("url", tt.text, testData())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderMap(t *testing.T) {
	e := New()
	out, err := e.RenderMap(map[string]string{
		"url":  "{{ .Resources.pg.Address }}",
		"mode": "plain",
	}, testData())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"url": "127.0.0.1:5432", "mode": "plain"}, out)

	_, err = e.RenderMap(map[string]string{"broken": "{{ .Nope }}"}, testData())
	assert.ErrorContains(t, err, "error in key 'broken'")
}

func TestReferences(t *testing.T) {
	e := New()
	refs := e.References(map[string]string{
		"a": `{{ (resource "nats-1").Address }}`,
		"b": "{{ .Resources.pg.Address }}",
		"c": `{{ (index .Resources "cache").Address }}`,
		"d": "resource \"ignored\" without braces",
	})
	assert.Equal(t, []string{"cache", "nats-1", "pg"}, refs)
}

func TestMergeEnv(t *testing.T) {
	got := MergeEnv(map[string]string{"A": "1", "B": "1"}, map[string]string{"B": "2"})
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, got)
}
