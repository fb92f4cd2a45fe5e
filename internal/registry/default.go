package registry

import (
	"sync"

	"testbed/pkg/logging"
)

var (
	defaultMu    sync.Mutex
	defaultReg   *Registry
	defaultErr   error
	initializers []func(*Builder)
)

// Register adds fn to the static init list the process-wide registry is
// built from. Call it from init functions.
func Register(fn func(*Builder)) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultReg != nil {
		logging.Warn("Registry", "Provider registration after the default registry was built; it takes effect after ResetDefault")
	}
	initializers = append(initializers, fn)
}

// Default returns the process-wide registry, building it on first use.
func Default() (*Registry, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultReg == nil && defaultErr == nil {
		b := NewBuilder()
		for _, fn := range initializers {
			fn(b)
		}
		defaultReg, defaultErr = b.Build()
	}
	return defaultReg, defaultErr
}

// ResetDefault drops the built default registry so the next Default call
// rebuilds it from the init list.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultReg = nil
	defaultErr = nil
}
