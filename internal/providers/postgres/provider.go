package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"testbed/internal/api"
	"testbed/pkg/logging"
)

// ProviderName is the registry name of the PostgreSQL provider.
const ProviderName = "postgres"

// Property keys understood by Configure.
const (
	PropDSN            = "dsn"
	PropHost           = "host"
	PropPort           = "port"
	PropUser           = "user"
	PropPassword       = "password"
	PropDatabase       = "database"
	PropSSLMode        = "sslmode"
	PropMaxConns       = "maxConns"
	PropMaxIdleTime    = "maxIdleTime"
	PropConnectTimeout = "connectTimeout"
	// PropIsolate creates a throwaway database per test context and drops
	// it again on stop.
	PropIsolate = "isolate"
	// PropInitSQL is executed once against the database after connecting.
	PropInitSQL = "initSQL"
)

const defaultConnectTimeout = 10 * time.Second

// Config is the frozen configuration of one database resource.
type Config struct {
	Pool *pgxpool.Config
	// Isolated is the name of the throwaway database, empty when the
	// configured database is used as is.
	Isolated string
	InitSQL  string
}

// Provider connects to running PostgreSQL servers as Remote resources.
type Provider struct{}

var (
	_ api.ResourceProvider = (*Provider)(nil)
	_ api.ExposingProvider = (*Provider)(nil)
	_ api.BindingExporter  = (*Provider)(nil)
)

// New returns the provider.
func New() *Provider { return &Provider{} }

func (p *Provider) ProviderName() string   { return ProviderName }
func (p *Provider) Kind() api.ResourceKind { return api.KindRemote }

func (p *Provider) Configure(_ context.Context, rc api.ResourceContext, decl api.ResourceDeclaration, props map[string]string) (any, error) {
	poolCfg, err := pgxpool.ParseConfig(connString(props))
	if err != nil {
		return nil, fmt.Errorf("parsing connection settings: %w", err)
	}
	poolCfg.ConnConfig.ConnectTimeout = defaultConnectTimeout

	if v, ok := props[PropMaxConns]; ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("property %q must be a positive integer, got %q", PropMaxConns, v)
		}
		poolCfg.MaxConns = int32(n)
	}
	if v, ok := props[PropMaxIdleTime]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", PropMaxIdleTime, err)
		}
		poolCfg.MaxConnIdleTime = d
	}
	if v, ok := props[PropConnectTimeout]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", PropConnectTimeout, err)
		}
		poolCfg.ConnConfig.ConnectTimeout = d
	}

	cfg := &Config{Pool: poolCfg, InitSQL: props[PropInitSQL]}
	if v, ok := props[PropIsolate]; ok {
		isolate, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", PropIsolate, err)
		}
		if isolate {
			cfg.Isolated = isolatedName(rc.ID(), decl.Name)
		}
	}
	return cfg, nil
}

// connString builds a key/value connection string from discrete
// properties, or returns the dsn property when set.
func connString(props map[string]string) string {
	if dsn := props[PropDSN]; dsn != "" {
		return dsn
	}
	var parts []string
	for _, k := range []string{PropHost, PropPort, PropUser, PropPassword, PropSSLMode} {
		if v := props[k]; v != "" {
			parts = append(parts, k+"="+quote(v))
		}
	}
	if v := props[PropDatabase]; v != "" {
		parts = append(parts, "dbname="+quote(v))
	}
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// isolatedName returns a valid lower-case identifier for the per-context
// database.
func isolatedName(contextID, resource string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
				return r
			case r >= 'A' && r <= 'Z':
				return r + ('a' - 'A')
			default:
				return '_'
			}
		}, s)
	}
	id := contextID
	if len(id) > 8 {
		id = id[:8]
	}
	return "testbed_" + clean(id) + "_" + clean(resource)
}

func (p *Provider) Start(ctx context.Context, _ api.ResourceContext, decl api.ResourceDeclaration, config any) (*api.ResourceInstance, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("unexpected configuration %T", config)
	}
	poolCfg := cfg.Pool.Copy()
	admin := poolCfg.ConnConfig.Database

	if cfg.Isolated != "" {
		if err := execAdmin(ctx, poolCfg.ConnConfig, "CREATE DATABASE "+pgx.Identifier{cfg.Isolated}.Sanitize()); err != nil {
			return nil, fmt.Errorf("creating database %s: %w", cfg.Isolated, err)
		}
		poolCfg.ConnConfig.Database = cfg.Isolated
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err == nil {
		err = pool.Ping(ctx)
		if err == nil && cfg.InitSQL != "" {
			_, err = pool.Exec(ctx, cfg.InitSQL)
		}
		if err != nil {
			pool.Close()
		}
	}
	if err != nil {
		if cfg.Isolated != "" {
			p.drop(cfg.Pool.ConnConfig, cfg.Isolated)
		}
		return nil, fmt.Errorf("connecting to %s: %w", address(poolCfg), err)
	}

	logging.Debug("Postgres", "Connected resource %s to %s/%s", decl.Name, address(poolCfg), poolCfg.ConnConfig.Database)
	return api.NewResourceInstance(decl, address(poolCfg), map[string]any{
		"pool":     pool,
		"database": poolCfg.ConnConfig.Database,
		"admin":    admin,
		"isolated": cfg.Isolated != "",
		"config":   cfg,
	}), nil
}

func (p *Provider) Stop(ctx context.Context, _ api.ResourceContext, decl api.ResourceDeclaration, inst *api.ResourceInstance) error {
	v, _ := inst.Value("pool")
	pool, ok := v.(*pgxpool.Pool)
	if !ok {
		return fmt.Errorf("resource %s was not started by the %s provider", decl.Name, ProviderName)
	}
	pool.Close()

	c, _ := inst.Value("config")
	if cfg, ok := c.(*Config); ok && cfg.Isolated != "" {
		if err := execAdmin(ctx, cfg.Pool.ConnConfig, "DROP DATABASE IF EXISTS "+pgx.Identifier{cfg.Isolated}.Sanitize()); err != nil {
			return fmt.Errorf("dropping database %s: %w", cfg.Isolated, err)
		}
	}
	return nil
}

func (p *Provider) drop(conn *pgx.ConnConfig, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), conn.ConnectTimeout+5*time.Second)
	defer cancel()
	if err := execAdmin(ctx, conn, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
		logging.Warn("Postgres", "Could not drop database %s: %v", name, err)
	}
}

// execAdmin runs a statement on a single connection to the configured
// database. CREATE and DROP DATABASE cannot run inside a pool transaction.
func execAdmin(ctx context.Context, connCfg *pgx.ConnConfig, sql string) error {
	conn, err := pgx.ConnectConfig(ctx, connCfg.Copy())
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	_, err = conn.Exec(ctx, sql)
	return err
}

func address(cfg *pgxpool.Config) string {
	return fmt.Sprintf("%s:%d", cfg.ConnConfig.Host, cfg.ConnConfig.Port)
}

// Exposes lists the bindings a database contributes.
func (p *Provider) Exposes(decl api.ResourceDeclaration) []api.BindingKey {
	return []api.BindingKey{api.KeyOf[*pgxpool.Pool](decl.Name)}
}

func (p *Provider) Bindings(decl api.ResourceDeclaration, inst *api.ResourceInstance) map[api.BindingKey]any {
	pool, _ := inst.Value("pool")
	return map[api.BindingKey]any{api.KeyOf[*pgxpool.Pool](decl.Name): pool}
}
