package natsremote

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"testbed/internal/api"
	"testbed/pkg/logging"
)

// ProviderName is the registry name of the NATS provider.
const ProviderName = "nats"

// Property keys understood by Configure. Properties prefixed with
// "stream." declare JetStream streams: the suffix is the stream name and
// the value its space or comma separated subjects.
const (
	PropURL     = "url"
	PropName    = "name"
	PropTimeout = "timeout"
	PropStorage = "storage"
	PropMaxAge  = "maxAge"
	// PropKeepStreams leaves declared streams in place on stop.
	PropKeepStreams = "keepStreams"
	streamPrefix    = "stream."
)

const defaultTimeout = 5 * time.Second

// Config is the frozen configuration of one NATS resource.
type Config struct {
	URL         string
	Name        string
	Timeout     time.Duration
	Streams     []*nats.StreamConfig
	KeepStreams bool
	Options     []nats.Option
}

// Provider connects to running NATS servers as Remote resources.
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
	cfg := &Config{
		URL:     props[PropURL],
		Name:    props[PropName],
		Timeout: defaultTimeout,
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("testbed/%s/%s", rc.ID(), decl.Name)
	}
	if v, ok := props[PropTimeout]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", PropTimeout, err)
		}
		cfg.Timeout = d
	}
	if v, ok := props[PropKeepStreams]; ok {
		keep, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", PropKeepStreams, err)
		}
		cfg.KeepStreams = keep
	}

	storage := nats.MemoryStorage
	switch props[PropStorage] {
	case "", "memory":
	case "file":
		storage = nats.FileStorage
	default:
		return nil, fmt.Errorf("property %q must be memory or file, got %q", PropStorage, props[PropStorage])
	}
	var maxAge time.Duration
	if v, ok := props[PropMaxAge]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", PropMaxAge, err)
		}
		maxAge = d
	}

	for k, v := range props {
		name, ok := strings.CutPrefix(k, streamPrefix)
		if !ok {
			continue
		}
		subjects := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
		if name == "" || len(subjects) == 0 {
			return nil, fmt.Errorf("property %q must name a stream and at least one subject", k)
		}
		cfg.Streams = append(cfg.Streams, &nats.StreamConfig{
			Name:     name,
			Subjects: subjects,
			Storage:  storage,
			MaxAge:   maxAge,
		})
	}
	sort.Slice(cfg.Streams, func(i, j int) bool { return cfg.Streams[i].Name < cfg.Streams[j].Name })
	return cfg, nil
}

func (p *Provider) Start(ctx context.Context, _ api.ResourceContext, decl api.ResourceDeclaration, config any) (*api.ResourceInstance, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("unexpected configuration %T", config)
	}
	opts := append([]nats.Option{nats.Name(cfg.Name), nats.Timeout(cfg.Timeout)}, cfg.Options...)
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	values := map[string]any{"conn": nc, "config": cfg}
	if len(cfg.Streams) > 0 {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		for _, sc := range cfg.Streams {
			if _, err := js.AddStream(sc, nats.Context(ctx)); err != nil {
				nc.Close()
				return nil, fmt.Errorf("failed to create stream %s: %w", sc.Name, err)
			}
		}
		values["jetstream"] = js
	}

	logging.Debug("NATS", "Connected resource %s to %s", decl.Name, nc.ConnectedUrlRedacted())
	return api.NewResourceInstance(decl, nc.ConnectedAddr(), values), nil
}

func (p *Provider) Stop(ctx context.Context, _ api.ResourceContext, decl api.ResourceDeclaration, inst *api.ResourceInstance) error {
	v, _ := inst.Value("conn")
	nc, ok := v.(*nats.Conn)
	if !ok {
		return fmt.Errorf("resource %s was not started by the %s provider", decl.Name, ProviderName)
	}
	defer nc.Close()

	var errs []error
	c, _ := inst.Value("config")
	jsv, _ := inst.Value("jetstream")
	if cfg, ok := c.(*Config); ok && !cfg.KeepStreams {
		if js, ok := jsv.(nats.JetStreamContext); ok {
			for _, sc := range cfg.Streams {
				if err := js.DeleteStream(sc.Name, nats.Context(ctx)); err != nil {
					errs = append(errs, fmt.Errorf("failed to delete stream %s: %w", sc.Name, err))
				}
			}
		}
	}
	if err := nc.FlushWithContext(ctx); err != nil && !nc.IsClosed() {
		errs = append(errs, err)
	}
	return utilerrors.NewAggregate(errs)
}

// Exposes lists the bindings a connection contributes.
func (p *Provider) Exposes(decl api.ResourceDeclaration) []api.BindingKey {
	keys := []api.BindingKey{api.KeyOf[*nats.Conn](decl.Name)}
	if hasStreams(decl.Properties) {
		keys = append(keys, api.KeyOf[nats.JetStreamContext](decl.Name))
	}
	return keys
}

func (p *Provider) Bindings(decl api.ResourceDeclaration, inst *api.ResourceInstance) map[api.BindingKey]any {
	conn, _ := inst.Value("conn")
	out := map[api.BindingKey]any{api.KeyOf[*nats.Conn](decl.Name): conn}
	if js, ok := inst.Value("jetstream"); ok {
		out[api.KeyOf[nats.JetStreamContext](decl.Name)] = js
	}
	return out
}

func hasStreams(props map[string]string) bool {
	for k := range props {
		if strings.HasPrefix(k, streamPrefix) {
			return true
		}
	}
	return false
}
