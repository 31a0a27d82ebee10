// Package graph provides the small directed-graph toolkit used for
// foreign-key analysis: Tarjan strongly connected components for cycle
// reporting and a deterministic topological sort for write ordering.
//
// Node iteration always follows insertion order so results are stable
// across runs.
package graph

import (
	"fmt"
	"strings"
)

// Graph is a directed graph. An edge from A to B means A must come before B.
type Graph[N comparable] struct {
	nodes []N
	index map[N]int
	edges map[N][]N
}

// New creates an empty graph.
func New[N comparable]() *Graph[N] {
	return &Graph[N]{
		index: make(map[N]int),
		edges: make(map[N][]N),
	}
}

// AddNode adds n if it is not already present.
func (g *Graph[N]) AddNode(n N) {
	if _, ok := g.index[n]; ok {
		return
	}
	g.index[n] = len(g.nodes)
	g.nodes = append(g.nodes, n)
}

// AddEdge adds both endpoints and an edge from -> to. Duplicate edges are
// ignored.
func (g *Graph[N]) AddEdge(from, to N) {
	g.AddNode(from)
	g.AddNode(to)
	for _, existing := range g.edges[from] {
		if existing == to {
			return
		}
	}
	g.edges[from] = append(g.edges[from], to)
}

// Nodes returns nodes in insertion order.
func (g *Graph[N]) Nodes() []N {
	return append([]N(nil), g.nodes...)
}

// Successors returns the direct successors of n.
func (g *Graph[N]) Successors(n N) []N {
	return g.edges[n]
}

// HasSelfLoop reports whether n has an edge to itself.
func (g *Graph[N]) HasSelfLoop(n N) bool {
	for _, w := range g.edges[n] {
		if w == n {
			return true
		}
	}
	return false
}

// StronglyConnected returns all strongly connected components using
// Tarjan's algorithm. Members of each component are listed in insertion order.
func (g *Graph[N]) StronglyConnected() [][]N {
	var (
		counter int
		stack   []N
		indices = make(map[N]int)
		lowlink = make(map[N]int)
		onStack = make(map[N]bool)
		sccs    [][]N
	)

	var strongConnect func(N)
	strongConnect = func(v N) {
		indices[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []N
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, g.ordered(scc))
		}
	}

	for _, n := range g.nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

// Cycles returns the components that form a cycle: more than one member,
// or a single member with a self loop.
func (g *Graph[N]) Cycles() [][]N {
	var cycles [][]N
	for _, scc := range g.StronglyConnected() {
		if len(scc) > 1 || g.HasSelfLoop(scc[0]) {
			cycles = append(cycles, scc)
		}
	}
	return cycles
}

// CyclePath walks a cycle through the members of scc, starting and ending
// at its first member: [a, b, a].
func (g *Graph[N]) CyclePath(scc []N) []N {
	if len(scc) == 0 {
		return nil
	}
	start := scc[0]
	if len(scc) == 1 {
		return []N{start, start}
	}
	member := make(map[N]bool, len(scc))
	for _, n := range scc {
		member[n] = true
	}

	// Breadth-first search back to start, restricted to the component.
	prev := make(map[N]N)
	seen := map[N]bool{start: true}
	queue := []N{start}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range g.edges[v] {
			if !member[w] {
				continue
			}
			if w == start {
				path := []N{start}
				for cur := v; cur != start; cur = prev[cur] {
					path = append(path, cur)
				}
				// path is start, v, ..., reversed; rebuild forward order.
				forward := []N{start}
				for i := len(path) - 1; i >= 1; i-- {
					forward = append(forward, path[i])
				}
				return append(forward, start)
			}
			if !seen[w] {
				seen[w] = true
				prev[w] = v
				queue = append(queue, w)
			}
		}
	}
	return append(append([]N(nil), scc...), start)
}

// TopoSort orders nodes so every edge points forward. Among nodes that are
// ready at the same time, less picks the first. When the graph has a cycle
// the result is a *CycleError listing each cyclic component.
func (g *Graph[N]) TopoSort(less func(a, b N) bool) ([]N, error) {
	indegree := make(map[N]int, len(g.nodes))
	for _, n := range g.nodes {
		for _, w := range g.edges[n] {
			indegree[w]++
		}
	}

	var ready []N
	for _, n := range g.nodes {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]N, 0, len(g.nodes))
	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			if less(ready[i], ready[best]) {
				best = i
			}
		}
		n := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		order = append(order, n)

		for _, w := range g.edges[n] {
			indegree[w]--
			if indegree[w] == 0 {
				ready = append(ready, w)
			}
		}
	}

	if len(order) < len(g.nodes) {
		return order, &CycleError[N]{Cycles: g.Cycles()}
	}
	return order, nil
}

func (g *Graph[N]) ordered(ns []N) []N {
	out := make([]N, len(ns))
	copy(out, ns)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && g.index[out[j]] < g.index[out[j-1]]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// CycleError reports the cyclic components that blocked a topological sort.
type CycleError[N comparable] struct {
	Cycles [][]N
}

func (e *CycleError[N]) Error() string {
	parts := make([]string, len(e.Cycles))
	for i, c := range e.Cycles {
		names := make([]string, len(c))
		for j, n := range c {
			names[j] = fmt.Sprint(n)
		}
		parts[i] = "[" + strings.Join(names, ", ") + "]"
	}
	return "graph has cycles: " + strings.Join(parts, "; ")
}
