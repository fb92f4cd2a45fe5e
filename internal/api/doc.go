// Package api defines the types shared by every testbed component: the
// resource and substitution vocabulary, the provider contracts that plug
// backends in, and the error taxonomy.
//
// # Provider contracts
//
// Each pluggable concern is one interface:
//
//   - MockProvider creates fakes and virtual (spy) substitutes.
//   - ResourceProvider configures, starts and stops one kind of resource.
//   - ServiceResolutionProvider wraps a dependency injection backend.
//   - InstrumentationProvider contributes interceptors.
//
// Implementations advertise themselves to the provider registry
// (package registry) and are looked up by contract and selector.
//
// # Errors
//
// AnalysisError and ProviderNotFoundError are raised before any side effect.
// ResourceProvisioningError and UnsatisfiedDependencyError trigger rollback
// and reach the caller wrapped in a SetupError naming the failed stage.
// VerificationError is reported only after teardown completed.
//
// All typed errors support errors.As through the IsX helpers:
//
//	if api.IsResourceProvisioningError(err) {
//	    // a resource failed to configure or start
//	}
package api
