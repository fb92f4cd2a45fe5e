package instrumentation

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"

	"testbed/internal/api"
	"testbed/pkg/logging"
)

// Target selector prefixes.
const (
	PrefixCtor    = "ctor:"
	PrefixBinding = "binding:"
	PrefixCall    = "call:"
)

// CtorTarget is the selector of the constructor producing typ.
func CtorTarget(typ reflect.Type) string { return PrefixCtor + typ.String() }

// BindingTarget is the selector of the lookup of key.
func BindingTarget(key api.BindingKey) string { return PrefixBinding + key.String() }

// CallTarget is the selector of a declared call site.
func CallTarget(name string) string { return PrefixCall + name }

// ValidateTarget checks the selector syntax.
func ValidateTarget(target string) error {
	for _, prefix := range []string{PrefixCtor, PrefixBinding, PrefixCall} {
		if rest, ok := strings.CutPrefix(target, prefix); ok {
			if strings.TrimSpace(rest) == "" {
				return fmt.Errorf("target %q names nothing", target)
			}
			return nil
		}
	}
	return fmt.Errorf("target %q must start with one of %s, %s, %s", target, PrefixCtor, PrefixBinding, PrefixCall)
}

type entry struct {
	interceptor api.Interceptor
	source      string
	order       int
}

// Layer is the interception table of one test context. Calls routed
// through Invoke are handed to the highest priority interceptor of their
// target; registration order breaks ties.
type Layer struct {
	mu      sync.RWMutex
	table   map[string][]entry
	next    int
	removed bool
	hits    map[string]int
}

// NewLayer returns an empty layer.
func NewLayer() *Layer {
	return &Layer{
		table: make(map[string][]entry),
		hits:  make(map[string]int),
	}
}

// Instrument installs ic on target.
func (l *Layer) Instrument(target string, ic api.Interceptor) error {
	return l.instrument(target, ic, "")
}

// InstallProvider installs every instrumentation p contributes.
func (l *Layer) InstallProvider(p api.InstrumentationProvider) error {
	for _, in := range p.Instrumentations() {
		if err := l.instrument(in.Target, in.Interceptor, p.ProviderName()); err != nil {
			return fmt.Errorf("instrumentation provider %s: %w", p.ProviderName(), err)
		}
	}
	return nil
}

func (l *Layer) instrument(target string, ic api.Interceptor, source string) error {
	if err := ValidateTarget(target); err != nil {
		return err
	}
	if ic == nil {
		return fmt.Errorf("nil interceptor for %s", target)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed {
		return errors.New("instrumentation layer already removed")
	}
	entries := append(l.table[target], entry{interceptor: ic, source: source, order: l.next})
	l.next++
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].interceptor.Priority() > entries[j].interceptor.Priority()
	})
	l.table[target] = entries
	logging.Debug("Instrumentation", "Installed interceptor on %s (priority %d)", target, ic.Priority())
	return nil
}

// Invoke calls fn with args on behalf of target, handing the call to the
// winning interceptor when one is installed.
func (l *Layer) Invoke(target string, fn reflect.Value, args []reflect.Value) ([]reflect.Value, error) {
	l.mu.Lock()
	var winner api.Interceptor
	if !l.removed {
		if entries := l.table[target]; len(entries) > 0 {
			winner = entries[0].interceptor
			l.hits[target]++
		}
	}
	l.mu.Unlock()

	if winner == nil {
		return fn.Call(args), nil
	}
	inv := api.NewInvocation(target, slices.Clone(args), func(a []reflect.Value) ([]reflect.Value, error) {
		return fn.Call(a), nil
	})
	return winner.Intercept(inv)
}

// Hooks returns the backend hooks routing calls through the layer.
func (l *Layer) Hooks() api.BackendHooks {
	return api.BackendHooks{Invoke: l.Invoke}
}

// Targets returns the instrumented targets in sorted order.
func (l *Layer) Targets() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.table))
	for t := range l.table {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Hits reports how often calls on target were intercepted.
func (l *Layer) Hits(target string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hits[target]
}

// Verify fails for instrumented targets nothing in this context can reach.
// reachable lists the ctor and binding targets the service instance
// exposes; call targets are reachable when declared with DeclareSite.
func (l *Layer) Verify(reachable []string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var missing []string
	for target := range l.table {
		if strings.HasPrefix(target, PrefixCall) {
			if !SiteDeclared(strings.TrimPrefix(target, PrefixCall)) {
				missing = append(missing, target)
			}
			continue
		}
		if !slices.Contains(reachable, target) {
			missing = append(missing, target)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", api.ErrUnreachableTarget, strings.Join(missing, ", "))
}

// Uninstrument removes every interceptor. Calls routed through the layer
// afterwards run uninstrumented.
func (l *Layer) Uninstrument() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed {
		return
	}
	l.removed = true
	n := len(l.table)
	l.table = make(map[string][]entry)
	logging.Debug("Instrumentation", "Removed interceptors on %d targets", n)
}

// Removed reports whether Uninstrument was called.
func (l *Layer) Removed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.removed
}
