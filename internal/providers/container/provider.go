package container

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	"testbed/internal/api"
	"testbed/pkg/logging"
)

// ProviderName is the registry name of the container provider.
const ProviderName = "container"

// Property keys understood by Configure. Properties prefixed with "env."
// become container environment variables.
const (
	PropImage        = "image"
	PropRuntime      = "runtime"
	PropPorts        = "ports"
	PropCommand      = "command"
	PropVolumes      = "volumes"
	PropPull         = "pull"
	PropReadyTimeout = "readyTimeout"
	PropHost         = "host"
	envPrefix        = "env."
)

const (
	defaultReadyTimeout = 60 * time.Second
	pollInterval        = 250 * time.Millisecond
)

// Config is the frozen configuration of one container resource. Config
// handlers may edit it before start.
type Config struct {
	Runtime string
	Spec    Spec
	// ContainerPorts are the ports published on ephemeral host ports.
	ContainerPorts []string
	Host           string
	Pull           bool
	ReadyTimeout   time.Duration
}

// Provider runs Virtual resources as containers.
type Provider struct {
	newRuntime func(name string) (Runtime, error)
}

var _ api.ResourceProvider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithRuntimeFactory replaces how runtimes are created.
func WithRuntimeFactory(f func(name string) (Runtime, error)) Option {
	return func(p *Provider) { p.newRuntime = f }
}

// New returns the provider.
func New(opts ...Option) *Provider {
	p := &Provider{newRuntime: NewRuntime}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ProviderName() string   { return ProviderName }
func (p *Provider) Kind() api.ResourceKind { return api.KindVirtual }

func (p *Provider) Configure(_ context.Context, rc api.ResourceContext, decl api.ResourceDeclaration, props map[string]string) (any, error) {
	image := props[PropImage]
	if image == "" {
		return nil, fmt.Errorf("property %q is required", PropImage)
	}
	cfg := &Config{
		Runtime:      props[PropRuntime],
		Host:         "127.0.0.1",
		Pull:         true,
		ReadyTimeout: defaultReadyTimeout,
		Spec: Spec{
			Name:  containerName(rc.ID(), decl.Name),
			Image: image,
			Env:   map[string]string{},
			Labels: map[string]string{
				"testbed.context":  rc.ID(),
				"testbed.resource": decl.Name,
			},
			Command: strings.Fields(props[PropCommand]),
			Volumes: splitList(props[PropVolumes]),
		},
	}
	if h := props[PropHost]; h != "" {
		cfg.Host = h
	}
	if v, ok := props[PropPull]; ok {
		pull, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", PropPull, err)
		}
		cfg.Pull = pull
	}
	if v, ok := props[PropReadyTimeout]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", PropReadyTimeout, err)
		}
		cfg.ReadyTimeout = d
	}
	for _, port := range splitList(props[PropPorts]) {
		cfg.ContainerPorts = append(cfg.ContainerPorts, port)
		// Empty host port asks the engine for an ephemeral one.
		cfg.Spec.Ports = append(cfg.Spec.Ports, fmt.Sprintf("%s::%s", cfg.Host, port))
	}
	for k, v := range props {
		if name, ok := strings.CutPrefix(k, envPrefix); ok && name != "" {
			cfg.Spec.Env[name] = v
		}
	}
	return cfg, nil
}

func (p *Provider) Start(ctx context.Context, _ api.ResourceContext, decl api.ResourceDeclaration, config any) (*api.ResourceInstance, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("unexpected configuration %T", config)
	}
	rt, err := p.newRuntime(cfg.Runtime)
	if err != nil {
		return nil, err
	}
	if cfg.Pull {
		if err := rt.PullImage(ctx, cfg.Spec.Image); err != nil {
			return nil, err
		}
	}
	id, err := rt.Run(ctx, cfg.Spec)
	if err != nil {
		return nil, err
	}

	inst, err := p.await(ctx, rt, decl, cfg, id)
	if err != nil {
		if rmErr := rt.Remove(context.Background(), id); rmErr != nil {
			logging.Warn("Docker", "Could not remove failed container %s: %v", shortID(id), rmErr)
		}
		return nil, err
	}
	return inst, nil
}

// await polls until the container runs and all published ports are mapped.
func (p *Provider) await(ctx context.Context, rt Runtime, decl api.ResourceDeclaration, cfg *Config, id string) (*api.ResourceInstance, error) {
	ports := map[string]string{}
	err := wait.PollUntilContextTimeout(ctx, pollInterval, cfg.ReadyTimeout, true, func(ctx context.Context) (bool, error) {
		running, err := rt.Running(ctx, id)
		if err != nil || !running {
			return false, nil
		}
		for _, cp := range cfg.ContainerPorts {
			if _, done := ports[cp]; done {
				continue
			}
			hp, err := rt.HostPort(ctx, id, cp)
			if err != nil {
				return false, nil
			}
			ports[cp] = hp
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("container %s not ready within %s: %w", shortID(id), cfg.ReadyTimeout, err)
	}

	addr := ""
	values := map[string]any{"containerID": id, "host": cfg.Host}
	for i, cp := range cfg.ContainerPorts {
		hostAddr := cfg.Host + ":" + ports[cp]
		if i == 0 {
			addr = hostAddr
		}
		values["port."+portNumber(cp)] = hostAddr
	}
	return api.NewResourceInstance(decl, addr, values), nil
}

func (p *Provider) Stop(ctx context.Context, _ api.ResourceContext, decl api.ResourceDeclaration, inst *api.ResourceInstance) error {
	v, _ := inst.Value("containerID")
	id, _ := v.(string)
	if id == "" {
		return fmt.Errorf("resource %s has no container id", decl.Name)
	}
	rt, err := p.newRuntime(decl.Properties[PropRuntime])
	if err != nil {
		return err
	}
	var errs []error
	if err := rt.Stop(ctx, id); err != nil {
		errs = append(errs, err)
	}
	if err := rt.Remove(ctx, id); err != nil {
		errs = append(errs, err)
	}
	return utilerrors.NewAggregate(errs)
}

func containerName(contextID, resource string) string {
	short := contextID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("testbed-%s-%s", short, resource)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// portNumber strips the protocol of "5432/tcp".
func portNumber(p string) string {
	n, _, _ := strings.Cut(p, "/")
	return n
}
