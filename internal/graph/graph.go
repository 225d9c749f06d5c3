// Package graph tracks tasks and directed dependency edges. It is purely
// structural: a node is ready when it has no unresolved incoming edges,
// and it is the caller's job to remove an edge once the dependency it
// represents has been satisfied.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gammazero/toposort"
)

// Graph is a directed dependency graph keyed by task ID.
type Graph struct {
	mu         sync.RWMutex
	incoming   map[string]map[string]struct{} // node -> unresolved dependencies
	dependents map[string]map[string]struct{} // node -> nodes that depend on it
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		incoming:   make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
	}
}

// AddNode creates an empty adjacency entry. Idempotent.
func (g *Graph) AddNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensure(id)
}

// RemoveNode deletes the node and purges it from every other node's
// adjacency sets. Missing IDs are a no-op.
func (g *Graph) RemoveNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for dep := range g.incoming[id] {
		delete(g.dependents[dep], id)
	}
	for dependent := range g.dependents[id] {
		delete(g.incoming[dependent], id)
	}
	delete(g.incoming, id)
	delete(g.dependents, id)
}

// AddEdge records that `to` depends on `from`. Both nodes are created if
// absent; duplicate edges are no-ops.
func (g *Graph) AddEdge(from, to string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensure(from)
	g.ensure(to)
	g.incoming[to][from] = struct{}{}
	g.dependents[from][to] = struct{}{}
}

// RemoveEdge deletes one edge, typically because the dependency's task has
// completed. Missing nodes or edges are a no-op.
func (g *Graph) RemoveEdge(from, to string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if set, ok := g.incoming[to]; ok {
		delete(set, from)
	}
	if set, ok := g.dependents[from]; ok {
		delete(set, to)
	}
}

// HasNode reports whether the node exists.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.incoming[id]
	return ok
}

// Dependents returns the IDs that depend on the given node, sorted.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.dependents[id])
}

// Dependencies returns the unresolved dependency IDs of the given node, sorted.
func (g *Graph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.incoming[id])
}

// ReadyNodes returns all node IDs with zero unresolved incoming edges,
// sorted lexicographically so dispatch order is deterministic.
func (g *Graph) ReadyNodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ready := make([]string, 0, len(g.incoming))
	for id, deps := range g.incoming {
		if len(deps) == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.incoming)
}

// Validate runs a topological sort over the current nodes and edges and
// returns an error if the graph contains a cycle.
func (g *Graph) Validate() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []toposort.Edge
	for id, deps := range g.incoming {
		if len(deps) == 0 {
			// Keep isolated nodes in the sort output.
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for dep := range deps {
			edges = append(edges, toposort.Edge{dep, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}

func (g *Graph) ensure(id string) {
	if _, ok := g.incoming[id]; !ok {
		g.incoming[id] = make(map[string]struct{})
	}
	if _, ok := g.dependents[id]; !ok {
		g.dependents[id] = make(map[string]struct{})
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
