// Package registry indexes pluggable providers by the contract interface
// they implement.
//
// Registration happens once, through a Builder:
//
//	b := registry.NewBuilder()
//	registry.Provide[api.MockProvider](b, testifymock.New(), registry.Rank(10))
//	registry.Provide[api.ResourceProvider](b, postgres.New())
//	reg, err := b.Build()
//
// Selection is deterministic. An explicit selector wins; otherwise the
// highest rank wins and ties go to the provider registered first.
//
// The process-wide registry is built lazily by Default from the functions
// passed to Register. ResetDefault forces a rebuild and exists for test
// isolation.
package registry
