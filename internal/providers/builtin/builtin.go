// Package builtin registers the providers shipped with testbed into the
// process-wide registry. Import it for its side effect:
//
//	import _ "testbed/internal/providers/builtin"
package builtin

import (
	"testbed/internal/api"
	"testbed/internal/instrumentation/rebind"
	"testbed/internal/providers/container"
	"testbed/internal/providers/grpclocal"
	"testbed/internal/providers/natsremote"
	"testbed/internal/providers/postgres"
	"testbed/internal/providers/testifymock"
	"testbed/internal/registry"
	"testbed/internal/resolution/reflectbackend"
)

func init() {
	registry.Register(Install)
}

// Install adds every builtin provider to b. Ranks only matter between
// providers of the same contract and kind.
func Install(b *registry.Builder) {
	registry.Provide[api.ServiceResolutionProvider](b, reflectbackend.New())
	registry.Provide[api.MockProvider](b, testifymock.New())
	registry.Provide[api.InstrumentationProvider](b, rebind.New())

	registry.Provide[api.ResourceProvider](b, grpclocal.New())
	registry.Provide[api.ResourceProvider](b, container.New())
	registry.Provide[api.ResourceProvider](b, postgres.New(), registry.Rank(10))
	registry.Provide[api.ResourceProvider](b, natsremote.New())
}
