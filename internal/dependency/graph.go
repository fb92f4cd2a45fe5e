// internal/dependency/graph.go
package dependency

import (
	"fmt"
	"strings"
)

// NodeID is the unique identifier for a node inside a dependency graph.
// For resources this is the logical resource name.
type NodeID string

// NodeKind categorises nodes.
type NodeKind int

const (
	KindUnknown NodeKind = iota
	KindLocal
	KindVirtual
	KindRemote
)

// Node represents a declared resource together with its dependency list.
type Node struct {
	ID           NodeID
	FriendlyName string
	Kind         NodeKind
	DependsOn    []NodeID
}

// CycleError is returned when the graph is not acyclic.
type CycleError struct {
	Path []NodeID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = string(id)
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

// MissingDependencyError is returned when a node depends on an unknown node.
type MissingDependencyError struct {
	Node    NodeID
	Missing NodeID
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%s depends on unknown %s", e.Node, e.Missing)
}

// Graph is a very small helper to answer dependency queries. It is *not*
// thread-safe by itself; a graph is built once per test context and only
// read afterwards.
//
// Insertion order is remembered and used as the tie-break wherever several
// orders would be valid, so start order is reproducible.
type Graph struct {
	nodes map[NodeID]*Node
	order []NodeID
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// AddNode adds (or replaces) a node in the graph. A replaced node keeps its
// original insertion position.
func (g *Graph) AddNode(n Node) {
	if g.nodes == nil {
		g.nodes = make(map[NodeID]*Node)
	}
	copied := n
	copied.DependsOn = append([]NodeID(nil), n.DependsOn...)
	if _, exists := g.nodes[n.ID]; !exists {
		g.order = append(g.order, n.ID)
	}
	g.nodes[n.ID] = &copied
}

// Get returns a pointer to the stored node or nil if it does not exist.
func (g *Graph) Get(id NodeID) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Dependencies returns a slice of immediate dependency IDs for the given node.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	if n, ok := g.nodes[id]; ok {
		depsCopy := make([]NodeID, len(n.DependsOn))
		copy(depsCopy, n.DependsOn)
		return depsCopy
	}
	return nil
}

// Dependents returns all node IDs that have a direct dependency on the given
// node, in insertion order.
func (g *Graph) Dependents(id NodeID) []NodeID {
	var res []NodeID
	for _, nid := range g.order {
		for _, dep := range g.nodes[nid].DependsOn {
			if dep == id {
				res = append(res, nid)
				break
			}
		}
	}
	return res
}

// Validate checks that every dependency exists and the graph is acyclic.
func (g *Graph) Validate() error {
	_, err := g.TopologicalSort()
	return err
}

// TopologicalSort orders all nodes so that every node comes after its
// dependencies. Among nodes that are ready at the same time the one inserted
// first wins.
func (g *Graph) TopologicalSort() ([]NodeID, error) {
	for _, id := range g.order {
		for _, dep := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &MissingDependencyError{Node: id, Missing: dep}
			}
		}
	}

	placed := make(map[NodeID]bool, len(g.order))
	result := make([]NodeID, 0, len(g.order))
	for len(result) < len(g.order) {
		progressed := false
		for _, id := range g.order {
			if placed[id] || !g.ready(id, placed) {
				continue
			}
			placed[id] = true
			result = append(result, id)
			progressed = true
			// Restart from the front so earlier nodes keep precedence.
			break
		}
		if !progressed {
			return nil, &CycleError{Path: g.findCycle(placed)}
		}
	}
	return result, nil
}

// StartOrder returns id and its transitive dependencies, dependencies
// first. It is used to start a single lazy resource.
func (g *Graph) StartOrder(id NodeID) ([]NodeID, error) {
	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("unknown node %s", id)
	}
	full, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	needed := map[NodeID]bool{}
	var mark func(NodeID)
	mark = func(n NodeID) {
		if needed[n] {
			return
		}
		needed[n] = true
		for _, dep := range g.nodes[n].DependsOn {
			mark(dep)
		}
	}
	mark(id)

	out := make([]NodeID, 0, len(needed))
	for _, n := range full {
		if needed[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

func (g *Graph) ready(id NodeID, placed map[NodeID]bool) bool {
	for _, dep := range g.nodes[id].DependsOn {
		if !placed[dep] {
			return false
		}
	}
	return true
}

// findCycle walks unplaced nodes until one repeats. Only called when a
// cycle is known to exist among them.
func (g *Graph) findCycle(placed map[NodeID]bool) []NodeID {
	var start NodeID
	for _, id := range g.order {
		if !placed[id] {
			start = id
			break
		}
	}
	seen := map[NodeID]int{}
	var path []NodeID
	cur := start
	for {
		if idx, ok := seen[cur]; ok {
			return append(path[idx:], cur)
		}
		seen[cur] = len(path)
		path = append(path, cur)
		next := cur
		for _, dep := range g.nodes[cur].DependsOn {
			if !placed[dep] {
				next = dep
				break
			}
		}
		if next == cur {
			return append(path, cur)
		}
		cur = next
	}
}
