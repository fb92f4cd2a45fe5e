// Package dependency provides a small directed acyclic graph used to order
// resource start-up inside a test context.
//
// Each declared resource is a node; a resource that needs another one's
// started instance to configure itself lists it in DependsOn.
//
// # Rules
//
//  1. No circular dependencies (TopologicalSort returns a *CycleError)
//  2. Every dependency must be declared (*MissingDependencyError)
//  3. A resource starts only after all of its dependencies started
//  4. Teardown runs in exact reverse of the actual start order, which the
//     provisioner tracks itself
//
// # Determinism
//
// When several nodes could start next, the one inserted first wins. Since
// nodes are inserted in declaration order, two runs of the same fixture
// always start resources in the same order.
//
//	g := dependency.New()
//	g.AddNode(dependency.Node{ID: "pg", Kind: dependency.KindVirtual})
//	g.AddNode(dependency.Node{ID: "db", Kind: dependency.KindRemote, DependsOn: []dependency.NodeID{"pg"}})
//
//	order, err := g.TopologicalSort() // ["pg", "db"]
package dependency
