package testifymock

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"testbed/internal/api"
	"testbed/pkg/logging"
)

// ProviderName is the registry name of the testify mock provider.
const ProviderName = "testify"

// Catalog maps substituted interface types to double factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[reflect.Type]func(*Double) any
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[reflect.Type]func(*Double) any)}
}

// Add registers the double factory for T.
func Add[T any](c *Catalog, factory func(*Double) T) {
	typ := reflect.TypeFor[T]()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[typ] = func(d *Double) any { return factory(d) }
}

func (c *Catalog) lookup(typ reflect.Type) (func(*Double) any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[typ]
	return f, ok
}

var defaultCatalog = NewCatalog()

// Register adds a double factory for T to the catalog used by providers
// created without WithCatalog. Call it from init functions.
func Register[T any](factory func(*Double) T) {
	Add(defaultCatalog, factory)
}

// Provider implements api.MockProvider on top of testify's mock package.
type Provider struct {
	catalog *Catalog
}

var _ api.MockProvider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithCatalog makes the provider use c instead of the default catalog.
func WithCatalog(c *Catalog) Option {
	return func(p *Provider) { p.catalog = c }
}

// New returns the provider.
func New(opts ...Option) *Provider {
	p := &Provider{catalog: defaultCatalog}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ProviderName() string { return ProviderName }

func (p *Provider) CreateFake(typ reflect.Type) (any, error) {
	return p.create(typ, reflect.Value{})
}

func (p *Provider) CreateVirtual(typ reflect.Type, delegate any) (any, error) {
	if delegate == nil {
		return nil, fmt.Errorf("virtual %s needs a delegate", typ)
	}
	dv := reflect.ValueOf(delegate)
	if !dv.Type().AssignableTo(typ) {
		return nil, fmt.Errorf("delegate %s does not implement %s", dv.Type(), typ)
	}
	return p.create(typ, dv)
}

func (p *Provider) create(typ reflect.Type, delegate reflect.Value) (any, error) {
	factory, ok := p.catalog.lookup(typ)
	if !ok {
		return nil, fmt.Errorf("no test double registered for %s", typ)
	}
	d := &Double{typ: typ, delegate: delegate, owner: p}
	inst := factory(d)
	if DoubleOf(inst) != d {
		return nil, fmt.Errorf("double factory for %s did not embed the given *Double", typ)
	}
	logging.Debug("Substitution", "Created %s double for %s", kindOf(d), typ)
	return inst, nil
}

func kindOf(d *Double) string {
	if d.Virtual() {
		return "virtual"
	}
	return "fake"
}

// DoubleOf returns the Double behind instance, or nil.
func DoubleOf(instance any) *Double {
	if td, ok := instance.(interface{ TestDouble() *Double }); ok {
		return td.TestDouble()
	}
	return nil
}

func (p *Provider) IsMock(instance any) bool {
	d := DoubleOf(instance)
	return d != nil && d.owner == p
}

// VerifyNoMoreInteractions fails for calls on the instances no expectation
// covered and for expectations that were never met.
func (p *Provider) VerifyNoMoreInteractions(instances ...any) error {
	var failures []string
	for _, inst := range instances {
		if !p.IsMock(inst) {
			failures = append(failures, fmt.Sprintf("%T is not a double created by the %s provider", inst, ProviderName))
			continue
		}
		d := DoubleOf(inst)
		for _, call := range d.Uninspected() {
			failures = append(failures, "uninspected call "+call)
		}
		rec := &recorder{}
		if !d.AssertExpectations(rec) {
			if len(rec.failures) == 0 {
				failures = append(failures, fmt.Sprintf("%s: unmet expectations", d.typ))
			}
			for _, f := range rec.failures {
				failures = append(failures, fmt.Sprintf("%s: %s", d.typ, f))
			}
		}
	}
	if len(failures) > 0 {
		return &api.VerificationError{Failures: failures}
	}
	return nil
}

// recorder collects assertion output instead of failing a test.
type recorder struct {
	failures []string
}

var _ mock.TestingT = (*recorder)(nil)

func (r *recorder) Logf(format string, args ...any) {
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	if strings.HasPrefix(msg, "FAIL:") {
		r.failures = append(r.failures, firstLine(msg))
	}
}

func (r *recorder) Errorf(string, ...any) {}

func (r *recorder) FailNow() {}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.Join(strings.Fields(line), " ")
}
