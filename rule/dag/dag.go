// Package dag provides cycle detection and deterministic topological
// ordering for dependency graphs keyed by string IDs.
package dag

import (
	"fmt"
	"sort"
)

// Graph is a directed graph. Edges point from a node to the nodes it
// depends on.
type Graph struct {
	nodes map[string]bool
	edges map[string][]string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]bool),
		edges: make(map[string][]string),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	g.nodes[id] = true
}

// AddEdge records that from depends on to. Both nodes must exist and
// self-dependencies are rejected.
func (g *Graph) AddEdge(from, to string) error {
	if from == to {
		return fmt.Errorf("self-dependency on %q", from)
	}
	if !g.nodes[from] {
		return fmt.Errorf("unknown node %q", from)
	}
	if !g.nodes[to] {
		return fmt.Errorf("unknown node %q", to)
	}
	g.edges[from] = append(g.edges[from], to)
	return nil
}

// HasCycle reports whether the graph contains a cycle and returns one cycle
// path when it does. Nodes are visited in sorted order, so the reported
// cycle is deterministic.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		visited[id] = true
		inStack[id] = true
		stack = append(stack, id)

		deps := append([]string{}, g.edges[id]...)
		sort.Strings(deps)
		for _, dep := range deps {
			if inStack[dep] {
				// Reconstruct the cycle from the first occurrence of dep.
				for i, n := range stack {
					if n == dep {
						return append(append([]string{}, stack[i:]...), dep)
					}
				}
			}
			if !visited[dep] {
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		inStack[id] = false
		return nil
	}

	for _, id := range g.sortedNodes() {
		if visited[id] {
			continue
		}
		if cycle := visit(id); cycle != nil {
			return true, cycle
		}
	}
	return false, nil
}

// TopologicalSort returns the nodes ordered so that every node appears
// after its dependencies. The order is deterministic. Fails on cycles.
func (g *Graph) TopologicalSort() ([]string, error) {
	if ok, cycle := g.HasCycle(); ok {
		return nil, fmt.Errorf("dependency cycle: %v", cycle)
	}

	visited := make(map[string]bool)
	var order []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		deps := append([]string{}, g.edges[id]...)
		sort.Strings(deps)
		for _, dep := range deps {
			visit(dep)
		}
		order = append(order, id)
	}

	for _, id := range g.sortedNodes() {
		visit(id)
	}
	return order, nil
}

func (g *Graph) sortedNodes() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
