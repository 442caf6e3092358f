package graph

// SimpleCycles enumerates every elementary cycle of the graph using
// Johnson's algorithm. Each cycle is returned as [v1, ..., vk] where
// v1 -> v2 -> ... -> vk -> v1 are edges of the graph. A cycle starts at
// its earliest-inserted node, and cycles are produced in a deterministic
// order.
func (g *Graph) SimpleCycles() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var cycles [][]string

	all := make(map[string]bool, len(g.nodes))
	for _, n := range g.nodes {
		all[n] = true
	}

	pending := g.componentsLocked(all)
	for len(pending) > 0 {
		scc := pending[0]
		pending = pending[1:]

		start := g.earliestLocked(scc)
		cycles = append(cycles, g.cyclesThroughLocked(start, scc)...)

		// Drop the start node and look for cycles in what is left.
		delete(scc, start)
		pending = append(g.componentsLocked(scc), pending...)
	}
	return cycles
}

// earliestLocked returns the member of set with the lowest insertion index.
func (g *Graph) earliestLocked(set map[string]bool) string {
	best := ""
	bestIdx := len(g.nodes)
	for n := range set {
		if i := g.index[n]; i < bestIdx {
			best, bestIdx = n, i
		}
	}
	return best
}

// successorsInLocked returns successors of n that belong to set, in adjacency order.
func (g *Graph) successorsInLocked(n string, set map[string]bool) []string {
	var out []string
	for _, s := range g.succ[n] {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}

// cyclesThroughLocked finds every elementary cycle that passes through start
// while staying inside the strongly connected component scc.
func (g *Graph) cyclesThroughLocked(start string, scc map[string]bool) [][]string {
	type frame struct {
		node string
		nbrs []string
	}

	var cycles [][]string
	path := []string{start}
	blocked := map[string]bool{start: true}
	closed := map[string]bool{}
	blockMap := map[string]map[string]bool{}
	stack := []frame{{start, g.successorsInLocked(start, scc)}}

	unblock := func(n string) {
		work := []string{n}
		for len(work) > 0 {
			cur := work[len(work)-1]
			work = work[:len(work)-1]
			if !blocked[cur] {
				continue
			}
			delete(blocked, cur)
			for w := range blockMap[cur] {
				work = append(work, w)
			}
			delete(blockMap, cur)
		}
	}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if len(top.nbrs) > 0 {
			next := top.nbrs[0]
			top.nbrs = top.nbrs[1:]
			if next == start {
				cycles = append(cycles, append([]string(nil), path...))
				for _, p := range path {
					closed[p] = true
				}
			} else if !blocked[next] {
				path = append(path, next)
				stack = append(stack, frame{next, g.successorsInLocked(next, scc)})
				delete(closed, next)
				blocked[next] = true
				continue
			}
		}
		if len(top.nbrs) == 0 {
			node := top.node
			if closed[node] {
				unblock(node)
			} else {
				for _, s := range g.successorsInLocked(node, scc) {
					if blockMap[s] == nil {
						blockMap[s] = map[string]bool{}
					}
					blockMap[s][node] = true
				}
			}
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}
	return cycles
}

// componentsLocked returns the strongly connected components of the subgraph
// induced by set that can contain a cycle (two or more nodes). Components are
// ordered by their earliest member.
func (g *Graph) componentsLocked(set map[string]bool) []map[string]bool {
	type frame struct {
		node string
		next int
	}

	index := map[string]int{}
	low := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	var comps []map[string]bool
	counter := 0

	for _, root := range g.nodes {
		if !set[root] {
			continue
		}
		if _, seen := index[root]; seen {
			continue
		}

		index[root], low[root] = counter, counter
		counter++
		stack = append(stack, root)
		onStack[root] = true
		work := []frame{{node: root}}

		for len(work) > 0 {
			f := &work[len(work)-1]
			succs := g.successorsInLocked(f.node, set)
			if f.next < len(succs) {
				w := succs[f.next]
				f.next++
				if _, seen := index[w]; !seen {
					index[w], low[w] = counter, counter
					counter++
					stack = append(stack, w)
					onStack[w] = true
					work = append(work, frame{node: w})
				} else if onStack[w] && index[w] < low[f.node] {
					low[f.node] = index[w]
				}
				continue
			}

			v := f.node
			if low[v] == index[v] {
				comp := map[string]bool{}
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp[w] = true
					if w == v {
						break
					}
				}
				if len(comp) > 1 {
					comps = append(comps, comp)
				}
			}
			work = work[:len(work)-1]
			if len(work) > 0 {
				parent := work[len(work)-1].node
				if low[v] < low[parent] {
					low[parent] = low[v]
				}
			}
		}
	}

	// Tarjan emits components in reverse topological order; sort by earliest member.
	for i := 1; i < len(comps); i++ {
		for j := i; j > 0 && g.index[g.earliestLocked(comps[j])] < g.index[g.earliestLocked(comps[j-1])]; j-- {
			comps[j], comps[j-1] = comps[j-1], comps[j]
		}
	}
	return comps
}
