// Package graph provides the directed graph used for task scheduling.
//
// Nodes are task IDs. An edge u -> v means u must finish before v starts.
// Nodes and adjacency lists keep insertion order so that every traversal
// (topological sort, cycle enumeration, longest path) is deterministic.
package graph

import (
	"errors"
	"sync"
)

// ErrCycleDetected indicates a circular dependency was found in the graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// Edge is a directed edge from a predecessor to a successor.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is a directed graph over string node IDs.
type Graph struct {
	mu sync.RWMutex
	// nodes holds node IDs in insertion order.
	nodes []string
	// index maps a node ID to its position in nodes.
	index map[string]int
	// succ maps a node to the nodes that depend on it.
	succ map[string][]string
	// pred maps a node to the nodes it depends on.
	pred  map[string][]string
	edges int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		index: make(map[string]int),
		succ:  make(map[string][]string),
		pred:  make(map[string][]string),
	}
}

// Reset removes every node and edge.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = nil
	g.index = make(map[string]int)
	g.succ = make(map[string][]string)
	g.pred = make(map[string][]string)
	g.edges = 0
}

// AddNode adds a node. It reports false if the node already existed.
func (g *Graph) AddNode(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addNodeLocked(id)
}

func (g *Graph) addNodeLocked(id string) bool {
	if _, ok := g.index[id]; ok {
		return false
	}
	g.index[id] = len(g.nodes)
	g.nodes = append(g.nodes, id)
	return true
}

// AddEdge adds the edge from -> to, creating missing nodes.
// Self loops and duplicate edges are ignored and reported as false.
func (g *Graph) AddEdge(from, to string) bool {
	if from == to {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(from)
	g.addNodeLocked(to)
	if g.hasEdgeLocked(from, to) {
		return false
	}
	g.succ[from] = append(g.succ[from], to)
	g.pred[to] = append(g.pred[to], from)
	g.edges++
	return true
}

// RemoveEdge deletes the edge from -> to. It reports false if there was no such edge.
func (g *Graph) RemoveEdge(from, to string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.hasEdgeLocked(from, to) {
		return false
	}
	g.succ[from] = without(g.succ[from], to)
	g.pred[to] = without(g.pred[to], from)
	g.edges--
	return true
}

func without(list []string, id string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// HasNode reports whether id is a node of the graph.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.index[id]
	return ok
}

// HasEdge reports whether the edge from -> to exists.
func (g *Graph) HasEdge(from, to string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasEdgeLocked(from, to)
}

func (g *Graph) hasEdgeLocked(from, to string) bool {
	for _, v := range g.succ[from] {
		if v == to {
			return true
		}
	}
	return false
}

// Nodes returns the node IDs in insertion order.
func (g *Graph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.nodes...)
}

// Edges returns every edge, grouped by source node in insertion order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, 0, g.edges)
	for _, from := range g.nodes {
		for _, to := range g.succ[from] {
			out = append(out, Edge{From: from, To: to})
		}
	}
	return out
}

// Successors returns the nodes that directly depend on id.
func (g *Graph) Successors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.succ[id]...)
}

// Predecessors returns the nodes id directly depends on.
func (g *Graph) Predecessors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.pred[id]...)
}

// InDegree returns the number of predecessors of id.
func (g *Graph) InDegree(id string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pred[id])
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c := New()
	for _, n := range g.nodes {
		c.addNodeLocked(n)
	}
	for _, from := range g.nodes {
		for _, to := range g.succ[from] {
			c.succ[from] = append(c.succ[from], to)
			c.pred[to] = append(c.pred[to], from)
			c.edges++
		}
	}
	return c
}

// TopologicalSort orders nodes with Kahn's algorithm. Among nodes that become
// ready at the same time, the one discovered first is emitted first.
//
// If the graph has a cycle, the nodes that could be ordered are returned
// together with ErrCycleDetected.
func (g *Graph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.nodes))
	var queue []string
	for _, n := range g.nodes {
		inDegree[n] = len(g.pred[n])
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, s := range g.succ[n] {
			inDegree[s]--
			if inDegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return order, ErrCycleDetected
	}
	return order, nil
}

// BFS returns nodes in breadth-first order starting at start, following
// successor edges. Nodes unreachable from start are not included.
func (g *Graph) BFS(start string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.index[start]; !ok {
		return nil
	}
	visited := map[string]bool{start: true}
	order := []string{start}
	queue := []string{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, s := range g.succ[n] {
			if !visited[s] {
				visited[s] = true
				order = append(order, s)
				queue = append(queue, s)
			}
		}
	}
	return order
}

// HasCycle reports whether the graph contains a cycle.
func (g *Graph) HasCycle() bool {
	_, err := g.TopologicalSort()
	return err != nil
}
