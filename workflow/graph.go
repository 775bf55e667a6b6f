package workflow

import (
	"fmt"
	"slices"

	"github.com/xraph/cadence"
)

// Graph is an immutable job dependency graph. Job order follows the order
// jobs were given in, so every node walks a graph identically.
type Graph struct {
	jobs     []int64
	known    map[int64]bool
	parents  map[int64][]int64
	children map[int64][]int64
	edges    []Edge
}

// NewGraph builds a graph. Duplicate jobs and edges are collapsed.
func NewGraph(jobIDs []int64, edges []Edge) *Graph {
	g := &Graph{
		known:    make(map[int64]bool, len(jobIDs)),
		parents:  make(map[int64][]int64),
		children: make(map[int64][]int64),
	}
	for _, j := range jobIDs {
		if !g.known[j] {
			g.known[j] = true
			g.jobs = append(g.jobs, j)
		}
	}
	seen := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		if seen[e] {
			continue
		}
		seen[e] = true
		g.edges = append(g.edges, e)
		g.parents[e.JobID] = append(g.parents[e.JobID], e.ParentJobID)
		g.children[e.ParentJobID] = append(g.children[e.ParentJobID], e.JobID)
	}
	return g
}

// Jobs returns the job ids in declaration order.
func (g *Graph) Jobs() []int64 { return slices.Clone(g.jobs) }

// Edges returns the deduplicated edges.
func (g *Graph) Edges() []Edge { return slices.Clone(g.edges) }

// Has reports whether jobID is part of the graph.
func (g *Graph) Has(jobID int64) bool { return g.known[jobID] }

// Parents returns the jobs jobID depends on.
func (g *Graph) Parents(jobID int64) []int64 { return slices.Clone(g.parents[jobID]) }

// Children returns the jobs depending on jobID.
func (g *Graph) Children(jobID int64) []int64 { return slices.Clone(g.children[jobID]) }

// Roots returns the jobs without parents.
func (g *Graph) Roots() []int64 {
	var out []int64
	for _, j := range g.jobs {
		if len(g.parents[j]) == 0 {
			out = append(out, j)
		}
	}
	return out
}

// Validate rejects edges naming unknown jobs and dependency cycles.
func (g *Graph) Validate() error {
	for _, e := range g.edges {
		if !g.known[e.JobID] {
			return fmt.Errorf("%w: %d", cadence.ErrUnknownJob, e.JobID)
		}
		if !g.known[e.ParentJobID] {
			return fmt.Errorf("%w: %d", cadence.ErrUnknownJob, e.ParentJobID)
		}
	}
	if _, err := g.TopoOrder(); err != nil {
		return err
	}
	return nil
}

// TopoOrder returns the jobs ordered parents first (Kahn's algorithm, ties
// broken by declaration order).
func (g *Graph) TopoOrder() ([]int64, error) {
	indeg := make(map[int64]int, len(g.jobs))
	for _, j := range g.jobs {
		for _, p := range g.parents[j] {
			if g.known[p] {
				indeg[j]++
			}
		}
	}
	var queue, order []int64
	for _, j := range g.jobs {
		if indeg[j] == 0 {
			queue = append(queue, j)
		}
	}
	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]
		order = append(order, j)
		for _, c := range g.children[j] {
			if !g.known[c] {
				continue
			}
			indeg[c]--
			if indeg[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if len(order) != len(g.jobs) {
		return nil, fmt.Errorf("%w: %d of %d jobs on a cycle", cadence.ErrCyclicGraph, len(g.jobs)-len(order), len(g.jobs))
	}
	return order, nil
}

// Restrict returns the subgraph over jobIDs, keeping only edges whose both
// ends are in the set. Reruns use it so parents outside the rerun set are
// treated as already satisfied.
func (g *Graph) Restrict(jobIDs []int64) *Graph {
	keep := make(map[int64]bool, len(jobIDs))
	for _, j := range jobIDs {
		keep[j] = true
	}
	var jobs []int64
	for _, j := range g.jobs {
		if keep[j] {
			jobs = append(jobs, j)
		}
	}
	var edges []Edge
	for _, e := range g.edges {
		if keep[e.JobID] && keep[e.ParentJobID] {
			edges = append(edges, e)
		}
	}
	return NewGraph(jobs, edges)
}
