package analysis

import (
	"github.com/ShayCichocki/taskgraph/internal/graph"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// ExecutionOrder returns a topological order of g using Kahn's algorithm with
// first-discovered tie breaking, and true.
//
// If g still has a cycle it returns a breadth-first visitation order instead,
// starting at the first node and continuing from unvisited nodes in insertion
// order, and false. That order is not topological.
func ExecutionOrder(g *graph.Graph) ([]string, bool) {
	order, err := g.TopologicalSort()
	if err == nil {
		return order, true
	}

	nodes := g.Nodes()
	visited := make(map[string]bool, len(nodes))
	order = make([]string, 0, len(nodes))
	for _, start := range nodes {
		if visited[start] {
			continue
		}
		visited[start] = true
		queue := []string{start}
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			order = append(order, n)
			for _, s := range g.Successors(n) {
				if !visited[s] {
					visited[s] = true
					queue = append(queue, s)
				}
			}
		}
	}
	return order, false
}

// CriticalPath returns the longest path in g, counting edges. Each node's
// longest continuation is memoized, and among successors with equal
// continuations the first in adjacency order wins. Edges that close a cycle
// are not followed.
func CriticalPath(g *graph.Graph) models.CriticalPath {
	nodes := g.Nodes()
	longest := make(map[string]int, len(nodes))
	next := make(map[string]string, len(nodes))
	done := make(map[string]bool, len(nodes))
	onStack := make(map[string]bool)

	type frame struct {
		node string
		succ []string
		i    int
	}

	for _, start := range nodes {
		if done[start] {
			continue
		}
		stack := []*frame{{node: start, succ: g.Successors(start)}}
		onStack[start] = true

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.i < len(top.succ) {
				s := top.succ[top.i]
				top.i++
				if !done[s] && !onStack[s] {
					onStack[s] = true
					stack = append(stack, &frame{node: s, succ: g.Successors(s)})
				}
				continue
			}

			// All successors settled: pick the first with the longest continuation.
			best, bestNext := 0, ""
			for _, s := range top.succ {
				if !done[s] {
					continue
				}
				if longest[s]+1 > best {
					best, bestNext = longest[s]+1, s
				}
			}
			longest[top.node] = best
			next[top.node] = bestNext
			done[top.node] = true
			onStack[top.node] = false
			stack = stack[:len(stack)-1]
		}
	}

	head, length := "", 0
	for _, n := range nodes {
		if longest[n] > length {
			head, length = n, longest[n]
		}
	}
	if length == 0 {
		return models.CriticalPath{Tasks: []string{}}
	}

	path := []string{head}
	for n := next[head]; n != ""; n = next[n] {
		path = append(path, n)
	}
	return models.CriticalPath{
		Tasks:             path,
		Length:            length,
		EstimatedDuration: length * models.MinutesPerTask,
	}
}

// ParallelGroups partitions g greedily. Starting from each node with no
// predecessors, a group grows depth-first through successors whose
// predecessors have all been placed already. Nodes never reached this way
// (for example nodes on a cycle) are not grouped.
func ParallelGroups(g *graph.Graph) [][]string {
	processed := make(map[string]bool)
	groups := [][]string{}

	ready := func(n string) bool {
		for _, p := range g.Predecessors(n) {
			if !processed[p] {
				return false
			}
		}
		return true
	}

	type frame struct {
		succ []string
		i    int
	}

	for _, root := range g.Nodes() {
		if processed[root] || g.InDegree(root) != 0 {
			continue
		}
		group := []string{root}
		processed[root] = true
		stack := []*frame{{succ: g.Successors(root)}}

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.i >= len(top.succ) {
				stack = stack[:len(stack)-1]
				continue
			}
			s := top.succ[top.i]
			top.i++
			if processed[s] || !ready(s) {
				continue
			}
			group = append(group, s)
			processed[s] = true
			stack = append(stack, &frame{succ: g.Successors(s)})
		}
		groups = append(groups, group)
	}
	return groups
}
