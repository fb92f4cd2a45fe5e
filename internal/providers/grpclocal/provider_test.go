package grpclocal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"testbed/internal/api"
	"testbed/internal/instrumentation"
	"testbed/internal/instrumentation/rebind"
)

type rc struct{}

func (rc) ID() string                                    { return "ctx-1" }
func (rc) Fixture() string                               { return "example.com/pkg.Fixture" }
func (rc) Resource(string) (*api.ResourceInstance, bool) { return nil, false }

func start(t *testing.T, ctx context.Context, props map[string]string) (*Provider, api.ResourceDeclaration, *api.ResourceInstance) {
	t.Helper()
	p := New()
	decl := api.ResourceDeclaration{Kind: api.KindLocal, Name: "backend", Provider: ProviderName, Properties: props}
	cfg, err := p.Configure(ctx, rc{}, decl, props)
	require.NoError(t, err)
	inst, err := p.Start(ctx, rc{}, decl, cfg)
	require.NoError(t, err)
	return p, decl, inst
}

func checkServing(t *testing.T, conn grpc.ClientConnInterface) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestProvider_InMemory(t *testing.T) {
	p, decl, inst := start(t, context.Background(), map[string]string{})
	assert.Equal(t, "bufnet", inst.Address())

	bindings := p.Bindings(decl, inst)
	conn, ok := bindings[api.KeyOf[*grpc.ClientConn]("backend")].(*grpc.ClientConn)
	require.True(t, ok)
	checkServing(t, conn)
	assert.Same(t, conn, bindings[api.KeyOf[grpc.ClientConnInterface]("backend")])

	keys := p.Exposes(decl)
	assert.Len(t, keys, len(bindings))
	for _, k := range keys {
		assert.Contains(t, bindings, k)
	}

	require.NoError(t, p.Stop(context.Background(), rc{}, decl, inst))
}

func TestProvider_ListenIsRebased(t *testing.T) {
	layer := instrumentation.NewLayer()
	require.NoError(t, layer.InstallProvider(rebind.New()))
	ctx := instrumentation.WithLayer(context.Background(), layer)

	p, decl, inst := start(t, ctx, map[string]string{PropListen: "0.0.0.0:50051"})
	defer func() { require.NoError(t, p.Stop(context.Background(), rc{}, decl, inst)) }()

	assert.Contains(t, inst.Address(), "127.0.0.1:")
	assert.NotEqual(t, "127.0.0.1:50051", inst.Address())
	assert.Equal(t, 1, layer.Hits(instrumentation.CallTarget(rebind.ListenSite)))

	conn, _ := inst.Value("conn")
	checkServing(t, conn.(*grpc.ClientConn))
}

func TestProvider_Services(t *testing.T) {
	var registered []string
	RegisterService("test.Echo", func(*grpc.Server) { registered = append(registered, "echo") })
	assert.Contains(t, Services(), "test.Echo")

	p, decl, inst := start(t, context.Background(), map[string]string{PropServices: " test.Echo ,"})
	require.NoError(t, p.Stop(context.Background(), rc{}, decl, inst))
	assert.Equal(t, []string{"echo"}, registered)

	_, err := New().Configure(context.Background(), rc{}, decl, map[string]string{PropServices: "missing.Service"})
	assert.ErrorContains(t, err, `unknown gRPC service "missing.Service"`)
}

func TestProvider_StopForeignInstance(t *testing.T) {
	decl := api.ResourceDeclaration{Kind: api.KindLocal, Name: "backend"}
	err := New().Stop(context.Background(), rc{}, decl, api.NewResourceInstance(decl, "", nil))
	assert.EqualError(t, err, "resource backend was not started by the grpc provider")
}
