// Package instrumentation is the interception layer of a test context.
//
// Go has no safe runtime code rewriting, so interception is explicit:
// code paths become interceptable by going through a Layer.
//
//   - ctor:<type> targets match constructor calls made by the service
//     backend (through api.BackendHooks).
//   - binding:<type>[#name] targets match binding lookups of the backend.
//   - call:<name> targets match call sites declared with DeclareSite and
//     invoked with Call, which finds the layer in the context.
//
// Among interceptors on one target the highest priority wins; it decides
// whether to proceed with the original call. Targets nothing can reach
// fail Verify with api.ErrUnreachableTarget instead of silently doing
// nothing.
package instrumentation
