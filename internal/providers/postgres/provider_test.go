package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testbed/internal/api"
)

type rc struct{}

func (rc) ID() string                                    { return "9F2C41aa-0000" }
func (rc) Fixture() string                               { return "example.com/pkg.Fixture" }
func (rc) Resource(string) (*api.ResourceInstance, bool) { return nil, false }

var decl = api.ResourceDeclaration{Kind: api.KindRemote, Name: "orders-db", Provider: ProviderName}

func TestProvider_Configure(t *testing.T) {
	p := New()
	assert.Equal(t, api.KindRemote, p.Kind())

	cfgAny, err := p.Configure(context.Background(), rc{}, decl, map[string]string{
		PropHost:           "db.internal",
		PropPort:           "6543",
		PropUser:           "app",
		PropPassword:       "it's secret",
		PropDatabase:       "orders",
		PropSSLMode:        "disable",
		PropMaxConns:       "4",
		PropConnectTimeout: "2s",
		PropIsolate:        "true",
	})
	require.NoError(t, err)
	cfg := cfgAny.(*Config)
	conn := cfg.Pool.ConnConfig
	assert.Equal(t, "db.internal", conn.Host)
	assert.Equal(t, uint16(6543), conn.Port)
	assert.Equal(t, "app", conn.User)
	assert.Equal(t, "it's secret", conn.Password)
	assert.Equal(t, "orders", conn.Database)
	assert.Equal(t, 2*time.Second, conn.ConnectTimeout)
	assert.Equal(t, int32(4), cfg.Pool.MaxConns)
	assert.Equal(t, "testbed_9f2c41aa_orders_db", cfg.Isolated)
}

func TestProvider_ConfigureDSN(t *testing.T) {
	cfgAny, err := New().Configure(context.Background(), rc{}, decl, map[string]string{
		PropDSN:  "postgres://u:p@127.0.0.1:5433/app",
		PropHost: "ignored",
	})
	require.NoError(t, err)
	cfg := cfgAny.(*Config)
	assert.Equal(t, "127.0.0.1", cfg.Pool.ConnConfig.Host)
	assert.Equal(t, "app", cfg.Pool.ConnConfig.Database)
	assert.Empty(t, cfg.Isolated)
}

func TestProvider_ConfigureErrors(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]string
		want  string
	}{
		{name: "bad dsn", props: map[string]string{PropDSN: "postgres://%zz"}, want: "parsing connection settings"},
		{name: "bad max conns", props: map[string]string{PropMaxConns: "0"}, want: `property "maxConns" must be a positive integer`},
		{name: "bad idle time", props: map[string]string{PropMaxIdleTime: "forever"}, want: `property "maxIdleTime"`},
		{name: "bad isolate", props: map[string]string{PropIsolate: "perhaps"}, want: `property "isolate"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Configure(context.Background(), rc{}, decl, tt.props)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestProvider_StartUnreachable(t *testing.T) {
	p := New()
	cfg, err := p.Configure(context.Background(), rc{}, decl, map[string]string{
		PropHost: "127.0.0.1", PropPort: "1", PropConnectTimeout: "1s",
	})
	require.NoError(t, err)

	_, err = p.Start(context.Background(), rc{}, decl, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to 127.0.0.1:1")
}

func TestProvider_Bindings(t *testing.T) {
	p := New()
	inst := api.NewResourceInstance(decl, "127.0.0.1:5432", map[string]any{"pool": (*pgxpool.Pool)(nil)})
	keys := p.Exposes(decl)
	require.Len(t, keys, 1)
	assert.Contains(t, p.Bindings(decl, inst), keys[0])

	err := p.Stop(context.Background(), rc{}, decl, api.NewResourceInstance(decl, "", nil))
	assert.EqualError(t, err, "resource orders-db was not started by the postgres provider")
}

// TestProvider_Isolated runs against the server in TESTBED_POSTGRES_DSN.
func TestProvider_Isolated(t *testing.T) {
	dsn := os.Getenv("TESTBED_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TESTBED_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	p := New()
	cfg, err := p.Configure(ctx, rc{}, decl, map[string]string{
		PropDSN:     dsn,
		PropIsolate: "true",
		PropInitSQL: "CREATE TABLE orders (id int primary key)",
	})
	require.NoError(t, err)

	inst, err := p.Start(ctx, rc{}, decl, cfg)
	require.NoError(t, err)
	db, _ := inst.Value("database")
	assert.Equal(t, "testbed_9f2c41aa_orders_db", db)

	pool, _ := inst.Value("pool")
	var n int
	require.NoError(t, pool.(*pgxpool.Pool).QueryRow(ctx, "SELECT count(*) FROM orders").Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, p.Stop(ctx, rc{}, decl, inst))
}
