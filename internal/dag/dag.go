// Package dag builds a dependency graph over beam names and derives the
// three things the executor needs from it: a validated acyclic structure,
// a layered topological order, and the ancestor closure of a target set.
package dag

import (
	"fmt"
	"sort"

	"github.com/aurora-build/aurora/internal/model"
)

// Graph is an integer-indexed node/edge table: beam names are interned to
// small ints once at construction, so the hot paths (layering, ancestor
// walks) never touch a string map. Declaration order is preserved in
// order, used to break ties deterministically wherever the caller doesn't
// otherwise care which of several ready nodes goes first.
type Graph struct {
	order   []string       // node id -> name, in declaration order
	index   map[string]int // name -> node id
	edges   [][]int        // edges[to] = from ids (dependencies of "to")
	rEdges  [][]int        // rEdges[from] = to ids (dependents of "from")
}

// New builds a Graph from beams in declaration order. names must already
// be validated as unique; deps[name] lists the beams name depends on.
// An UnknownDependencyError is returned if a dependency name was not
// itself passed in names.
func New(names []string, deps map[string][]string) (*Graph, error) {
	g := &Graph{
		index: make(map[string]int, len(names)),
	}
	for _, name := range names {
		g.index[name] = len(g.order)
		g.order = append(g.order, name)
	}
	g.edges = make([][]int, len(g.order))
	g.rEdges = make([][]int, len(g.order))

	for _, name := range names {
		to := g.index[name]
		for _, dep := range deps[name] {
			from, ok := g.index[dep]
			if !ok {
				return nil, &model.UnknownDependencyError{From: name, To: dep}
			}
			g.edges[to] = append(g.edges[to], from)
			g.rEdges[from] = append(g.rEdges[from], to)
		}
	}
	return g, nil
}

// DetectCycle reports the first cycle found by depth-first search, as a
// minimal, closed path (first node repeated as the last). Returns nil if
// the graph is acyclic.
func (g *Graph) DetectCycle() []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make([]int, len(g.order))
	var stack []int

	var cycle []string
	var visit func(n int) bool
	visit = func(n int) bool {
		state[n] = visiting
		stack = append(stack, n)
		for _, dep := range g.edges[n] {
			switch state[dep] {
			case unvisited:
				if visit(dep) {
					return true
				}
			case visiting:
				// Found the back edge; extract the cycle from stack.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				for _, id := range stack[start:] {
					cycle = append(cycle, g.order[id])
				}
				cycle = append(cycle, g.order[dep])
				return true
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return false
	}

	for n := range g.order {
		if state[n] == unvisited {
			if visit(n) {
				return cycle
			}
		}
	}
	return nil
}

// Layers returns the graph's nodes grouped into dependency layers: layer 0
// holds every node with no dependencies, layer k holds every node whose
// dependencies are all satisfied by layers 0..k-1. Within a layer, names
// are ordered by declaration order, so scheduling is deterministic for a
// fixed Beamfile. The caller must have already confirmed the graph is
// acyclic.
func (g *Graph) Layers() [][]string {
	remaining := make([]int, len(g.order))
	for n := range g.order {
		remaining[n] = len(g.edges[n])
	}

	var layers [][]string
	done := make([]bool, len(g.order))
	left := len(g.order)

	for left > 0 {
		var layer []int
		for n := range g.order {
			if !done[n] && remaining[n] == 0 {
				layer = append(layer, n)
			}
		}
		// Layers() is only meaningful on an acyclic graph; DetectCycle
		// must be called first to guarantee forward progress here.
		if len(layer) == 0 {
			break
		}
		sort.Ints(layer)
		names := make([]string, len(layer))
		for i, n := range layer {
			names[i] = g.order[n]
			done[n] = true
			left--
		}
		for _, n := range layer {
			for _, dependent := range g.rEdges[n] {
				remaining[dependent]--
			}
		}
		layers = append(layers, names)
	}
	return layers
}

// Ancestors returns the transitive closure of dependencies reachable from
// targets, including the targets themselves, in declaration order.
func (g *Graph) Ancestors(targets []string) ([]string, error) {
	visited := make([]bool, len(g.order))
	var visit func(n int)
	visit = func(n int) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, dep := range g.edges[n] {
			visit(dep)
		}
	}

	for _, t := range targets {
		n, ok := g.index[t]
		if !ok {
			return nil, fmt.Errorf("dag: unknown target %q", t)
		}
		visit(n)
	}

	var out []string
	for n, name := range g.order {
		if visited[n] {
			out = append(out, name)
		}
	}
	return out, nil
}

// Dependencies returns the direct dependencies of name, in declaration
// order of the underlying graph (not of the beam's own DependsOn list).
func (g *Graph) Dependencies(name string) []string {
	n, ok := g.index[name]
	if !ok {
		return nil
	}
	ids := append([]int(nil), g.edges[n]...)
	sort.Ints(ids)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.order[id]
	}
	return out
}

// Dependents returns the direct dependents of name.
func (g *Graph) Dependents(name string) []string {
	n, ok := g.index[name]
	if !ok {
		return nil
	}
	ids := append([]int(nil), g.rEdges[n]...)
	sort.Ints(ids)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.order[id]
	}
	return out
}
