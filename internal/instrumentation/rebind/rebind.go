package rebind

import (
	"context"
	"fmt"
	"net"
	"reflect"

	"testbed/internal/api"
	"testbed/internal/instrumentation"
	"testbed/pkg/logging"
)

// ProviderName is the registry name of the listen rebase provider.
const ProviderName = "listen-rebase"

// ListenSite is the call site Listen goes through.
const ListenSite = "net.Listen"

var listenTarget = instrumentation.DeclareSite(ListenSite)

// Listen is net.Listen routed through the instrumentation layer in ctx.
// Servers that should be rebased in tests listen through it.
func Listen(ctx context.Context, network, address string) (net.Listener, error) {
	out, err := instrumentation.Call(ctx, ListenSite, net.Listen, network, address)
	if err != nil {
		return nil, err
	}
	lis, _ := out[0].(net.Listener)
	if out[1] != nil {
		return nil, out[1].(error)
	}
	return lis, nil
}

// Provider rewrites hard-coded listen addresses so servers started during
// a test bind to a loopback ephemeral port instead.
type Provider struct {
	host     string
	priority int
}

// Option configures the provider.
type Option func(*Provider)

// WithHost sets the host addresses are rebased to.
func WithHost(host string) Option {
	return func(p *Provider) { p.host = host }
}

// WithPriority sets the interceptor priority.
func WithPriority(priority int) Option {
	return func(p *Provider) { p.priority = priority }
}

// New returns the provider, rebasing to 127.0.0.1 by default.
func New(opts ...Option) *Provider {
	p := &Provider{host: "127.0.0.1"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ProviderName() string { return ProviderName }

func (p *Provider) Instrumentations() []api.Instrumentation {
	return []api.Instrumentation{{
		Target:      listenTarget,
		Interceptor: instrumentation.Arguments(p.priority, p.rewrite),
	}}
}

func (p *Provider) rewrite(args []reflect.Value) []reflect.Value {
	network := args[0].String()
	original := args[1].String()
	rebased, err := Rebase(network, original, p.host)
	if err != nil {
		logging.Warn("Instrumentation", "Not rebasing %s address %q: %v", network, original, err)
		return args
	}
	logging.Debug("Instrumentation", "Rebased %s listen address %q to %q", network, original, rebased)
	return []reflect.Value{args[0], reflect.ValueOf(rebased)}
}

// Rebase returns address with its host replaced by host and its port by
// 0. Unix sockets are returned unchanged.
func Rebase(network, address, host string) (string, error) {
	switch network {
	case "tcp", "tcp4", "tcp6", "udp", "udp4", "udp6":
	default:
		return address, nil
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return "", fmt.Errorf("parsing %q: %w", address, err)
	}
	return net.JoinHostPort(host, "0"), nil
}
