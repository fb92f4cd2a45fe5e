package grpclocal

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"testbed/internal/api"
	"testbed/internal/instrumentation/rebind"
	"testbed/pkg/logging"
)

// ProviderName is the registry name of the in-process gRPC provider.
const ProviderName = "grpc"

// Property keys understood by Configure.
const (
	// PropListen makes the server listen on a real address instead of an
	// in-memory buffer. The listen goes through rebind.Listen.
	PropListen = "listen"
	// PropServices is a comma separated list of registered service names.
	PropServices = "services"
)

const bufSize = 1024 * 1024

// Registrar installs a service implementation on a server.
type Registrar func(s *grpc.Server)

var (
	servicesMu sync.RWMutex
	services   = map[string]Registrar{}
)

// RegisterService makes a service available to the "services" property.
func RegisterService(name string, r Registrar) {
	servicesMu.Lock()
	defer servicesMu.Unlock()
	services[name] = r
}

// Services returns the names of all registered services, sorted.
func Services() []string {
	servicesMu.RLock()
	defer servicesMu.RUnlock()
	names := make([]string, 0, len(services))
	for n := range services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookupService(name string) (Registrar, bool) {
	servicesMu.RLock()
	defer servicesMu.RUnlock()
	r, ok := services[name]
	return r, ok
}

// Config is the frozen configuration of one server.
type Config struct {
	Listen     string
	Registrars []Registrar
	ServerOpts []grpc.ServerOption
	DialOpts   []grpc.DialOption
}

// Provider starts in-process gRPC servers as Local resources. Every server
// serves the standard health service.
type Provider struct{}

var (
	_ api.ResourceProvider = (*Provider)(nil)
	_ api.ExposingProvider = (*Provider)(nil)
	_ api.BindingExporter  = (*Provider)(nil)
)

// New returns the provider.
func New() *Provider { return &Provider{} }

func (p *Provider) ProviderName() string   { return ProviderName }
func (p *Provider) Kind() api.ResourceKind { return api.KindLocal }

func (p *Provider) Configure(_ context.Context, _ api.ResourceContext, _ api.ResourceDeclaration, props map[string]string) (any, error) {
	cfg := &Config{Listen: props[PropListen]}
	for _, name := range strings.Split(props[PropServices], ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		r, ok := lookupService(name)
		if !ok {
			return nil, fmt.Errorf("unknown gRPC service %q, registered: %s", name, strings.Join(Services(), ", "))
		}
		cfg.Registrars = append(cfg.Registrars, r)
	}
	return cfg, nil
}

// server is what Start leaves behind for Stop.
type server struct {
	srv    *grpc.Server
	lis    net.Listener
	conn   *grpc.ClientConn
	health *health.Server
	done   chan struct{}
}

func (p *Provider) Start(ctx context.Context, _ api.ResourceContext, decl api.ResourceDeclaration, config any) (*api.ResourceInstance, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("unexpected configuration %T", config)
	}

	s := &server{srv: grpc.NewServer(cfg.ServerOpts...), health: health.NewServer(), done: make(chan struct{})}
	healthpb.RegisterHealthServer(s.srv, s.health)
	for _, r := range cfg.Registrars {
		r(s.srv)
	}

	target := "passthrough:///bufnet"
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.Listen == "" {
		buf := bufconn.Listen(bufSize)
		s.lis = buf
		dialOpts = append(dialOpts, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return buf.DialContext(ctx)
		}))
	} else {
		lis, err := rebind.Listen(ctx, "tcp", cfg.Listen)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", cfg.Listen, err)
		}
		s.lis = lis
		target = "passthrough:///" + lis.Addr().String()
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(s.lis); err != nil {
			logging.Warn("gRPC", "Server of %s stopped serving: %v", decl.Name, err)
		}
	}()

	conn, err := grpc.NewClient(target, append(dialOpts, cfg.DialOpts...)...)
	if err != nil {
		s.srv.Stop()
		return nil, fmt.Errorf("client for %s: %w", decl.Name, err)
	}
	s.conn = conn

	addr := "bufnet"
	if cfg.Listen != "" {
		addr = s.lis.Addr().String()
	}
	return api.NewResourceInstance(decl, addr, map[string]any{
		"server": s.srv,
		"conn":   conn,
		"health": s.health,
		"state":  s,
	}), nil
}

func (p *Provider) Stop(ctx context.Context, _ api.ResourceContext, decl api.ResourceDeclaration, inst *api.ResourceInstance) error {
	v, _ := inst.Value("state")
	s, ok := v.(*server)
	if !ok {
		return fmt.Errorf("resource %s was not started by the %s provider", decl.Name, ProviderName)
	}
	s.health.Shutdown()
	closeErr := s.conn.Close()

	stopped := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.srv.Stop()
	}
	<-s.done
	return closeErr
}

// Exposes lists the bindings a server contributes, so lazy servers can be
// injected before they run.
func (p *Provider) Exposes(decl api.ResourceDeclaration) []api.BindingKey {
	return []api.BindingKey{
		api.KeyOf[*grpc.ClientConn](decl.Name),
		api.KeyOf[grpc.ClientConnInterface](decl.Name),
		api.KeyOf[*grpc.Server](decl.Name),
	}
}

func (p *Provider) Bindings(decl api.ResourceDeclaration, inst *api.ResourceInstance) map[api.BindingKey]any {
	conn, _ := inst.Value("conn")
	srv, _ := inst.Value("server")
	return map[api.BindingKey]any{
		api.KeyOf[*grpc.ClientConn](decl.Name):         conn,
		api.KeyOf[grpc.ClientConnInterface](decl.Name): conn,
		api.KeyOf[*grpc.Server](decl.Name):             srv,
	}
}
