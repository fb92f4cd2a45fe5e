// Package substitution decides and creates the substitutes of collaborator
// fields.
//
// A fake has no real behavior. A virtual delegates every call nobody
// stubbed to the real instance, which it resolves through the service
// instance before the substitute is bound. Real fields are left to
// resolution. Verify gates test success on the mock provider's
// interaction check of all fakes.
package substitution
