// Package resourcetest provides a scriptable resource provider for tests of
// the provisioner and the orchestrator.
package resourcetest

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"testbed/internal/api"
)

// Log records provider calls of all resources in call order, as
// "op:resource" entries.
type Log struct {
	mu      sync.Mutex
	entries []string
}

func (l *Log) Add(op, resource string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, op+":"+resource)
}

// Entries returns every recorded call.
func (l *Log) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// Names returns the resources of all calls of op, in call order.
func (l *Log) Names(op string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if len(e) > len(op) && e[:len(op)+1] == op+":" {
			out = append(out, e[len(op)+1:])
		}
	}
	return out
}

// Behavior scripts how the provider treats one resource.
type Behavior struct {
	FailConfigure error
	FailStart     error
	FailStop      error
	// Block makes Start wait until the channel is closed.
	Block chan struct{}
	// Address defaults to "<provider>://<resource>".
	Address string
	Values  map[string]any
	// Exposes is what the provider advertises ahead of start.
	Exposes []api.BindingKey
}

// Config is the configuration the provider builds in Configure.
type Config struct {
	Properties map[string]string
	// Started lists the resources that were already started when the
	// configuration was built.
	Started []string
	// Notes is free for config handlers to write to.
	Notes []string
}

// Provider implements api.ResourceProvider and api.ExposingProvider.
type Provider struct {
	name string
	kind api.ResourceKind
	Log  *Log

	mu        sync.Mutex
	behaviors map[string]Behavior
}

var (
	_ api.ResourceProvider = (*Provider)(nil)
	_ api.ExposingProvider = (*Provider)(nil)
)

// New returns a provider of kind with its own log.
func New(name string, kind api.ResourceKind) *Provider {
	return &Provider{name: name, kind: kind, Log: &Log{}, behaviors: map[string]Behavior{}}
}

// On sets the behavior for resource.
func (p *Provider) On(resource string, b Behavior) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.behaviors[resource] = b
	return p
}

// WithLog makes the provider record into log, to observe the order of
// calls across providers.
func (p *Provider) WithLog(log *Log) *Provider {
	p.Log = log
	return p
}

func (p *Provider) behavior(resource string) Behavior {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.behaviors[resource]
}

func (p *Provider) ProviderName() string   { return p.name }
func (p *Provider) Kind() api.ResourceKind { return p.kind }

func (p *Provider) Exposes(decl api.ResourceDeclaration) []api.BindingKey {
	return p.behavior(decl.Name).Exposes
}

func (p *Provider) Configure(_ context.Context, rc api.ResourceContext, decl api.ResourceDeclaration, props map[string]string) (any, error) {
	p.Log.Add("configure", decl.Name)
	b := p.behavior(decl.Name)
	if b.FailConfigure != nil {
		return nil, b.FailConfigure
	}
	cfg := &Config{Properties: maps.Clone(props)}
	for _, dep := range decl.DependsOn {
		if _, ok := rc.Resource(dep); ok {
			cfg.Started = append(cfg.Started, dep)
		}
	}
	return cfg, nil
}

func (p *Provider) Start(_ context.Context, _ api.ResourceContext, decl api.ResourceDeclaration, config any) (*api.ResourceInstance, error) {
	p.Log.Add("start", decl.Name)
	if _, ok := config.(*Config); !ok {
		return nil, fmt.Errorf("unexpected config %T", config)
	}
	b := p.behavior(decl.Name)
	if b.Block != nil {
		<-b.Block
	}
	if b.FailStart != nil {
		return nil, b.FailStart
	}
	addr := b.Address
	if addr == "" {
		addr = fmt.Sprintf("%s://%s", p.name, decl.Name)
	}
	return api.NewResourceInstance(decl, addr, b.Values), nil
}

func (p *Provider) Stop(_ context.Context, _ api.ResourceContext, decl api.ResourceDeclaration, _ *api.ResourceInstance) error {
	p.Log.Add("stop", decl.Name)
	return p.behavior(decl.Name).FailStop
}
