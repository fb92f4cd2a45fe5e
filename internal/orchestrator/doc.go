// Package orchestrator assembles test contexts and drives them through
// their lifecycle.
//
// A context moves through these states:
//
//	Created -> Analyzed -> ServiceResolved -> [ResourcesProvisioned] ->
//	SubstitutionsApplied -> Ready -> Running -> TearingDown -> Destroyed
//
// Any setup stage may fail, in which case everything created so far is
// rolled back and the context ends in Failed. ResourcesProvisioned is
// skipped when no resource starts eagerly.
//
// Setup order matters: every provider is looked up during analysis, before
// anything is created. Eager resources are started before the first binding
// is added to the service instance, and substitutes are bound after the
// resources so that they win over resource bindings of the same key.
//
// Teardown runs in reverse: the service instance is destroyed first, then
// the resources are stopped in reverse start order and the instrumentation
// is removed last. Teardown is best effort; failures are collected and
// reported but never mask the outcome of the test body.
//
// Interaction verification of fakes, when requested by the fixture, runs
// after teardown.
package orchestrator
