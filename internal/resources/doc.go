// Package resources provisions the resources a fixture declares.
//
// Every declaration moves through
//
//	Declared -> Configuring -> Starting -> Started -> Stopping -> Stopped
//
// and ends in Error when configure, start or stop fails. Start order is the
// topological order of the declared DependsOn edges plus the edges implied
// by property templates that reference another resource; declaration order
// breaks ties.
//
// Eager resources are all started by StartEager. A failed start stops the
// resources that did start, in reverse start order, and nothing else. Lazy
// resources are exposed as deferred bindings that start the resource, and
// its dependencies, on first resolution.
//
// Provider calls are bounded by the start and stop timeouts. A start that
// returns after its timeout produces an orphaned instance, which is stopped
// as soon as it arrives and awaited by StopAll.
package resources
