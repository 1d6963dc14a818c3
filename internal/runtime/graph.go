package runtime

import (
	"fmt"
	"sort"
	"strings"
)

// buildReactionGraph computes the static dependency graph over all
// reactions of a program and assigns each reaction a topological level.
// Within a logical instant, reactions execute in (level, global index)
// order, which is total and fixed for a given program structure.
//
// Edges:
//   - port dataflow: a reaction writing port P precedes every reaction
//     triggered by P or by any port reachable from P through connections;
//   - priority: reactions of the same reactor are ordered by declaration.
//
// Logical actions contribute no edges - scheduling through an action
// always lands at a strictly later tag, which is exactly what makes an
// action a legal cycle breaker.
//
// A dependency cycle with no breaking action is a construction error,
// detected with Tarjan's strongly connected components.
func buildReactionGraph(p *Program) error {
	n := len(p.reactions)
	for i, rx := range p.reactions {
		rx.index = i
	}

	adj := make([][]int, n)
	addEdge := func(from, to *Reaction) {
		adj[from.index] = append(adj[from.index], to.index)
	}

	// Port dataflow edges.
	for _, rx := range p.reactions {
		for _, e := range rx.effects {
			port, ok := e.(*Port)
			if !ok {
				continue
			}
			for _, reader := range downstreamObservers(port) {
				if reader != rx {
					addEdge(rx, reader)
				}
			}
		}
	}

	// Priority edges within each reactor.
	for _, r := range p.reactors {
		for i := 0; i+1 < len(r.reactions); i++ {
			addEdge(r.reactions[i], r.reactions[i+1])
		}
	}

	if scc := findCycle(adj); scc != nil {
		names := make([]string, len(scc))
		for i, idx := range scc {
			names[i] = p.reactions[idx].FullName()
		}
		sort.Strings(names)
		return &ConstructionError{
			Code:    ErrCodeCausalityCycle,
			Message: fmt.Sprintf("reaction cycle with no breaking action: %s", strings.Join(names, " -> ")),
			Path:    names,
		}
	}

	assignLevels(p, adj)
	return nil
}

// downstreamObservers collects every reaction triggered by port or by any
// port transitively connected downstream of it.
func downstreamObservers(port *Port) []*Reaction {
	var out []*Reaction
	seen := map[*Port]bool{}
	stack := []*Port{port}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p.observers...)
		stack = append(stack, p.downstream...)
	}
	return out
}

// findCycle runs Tarjan's SCC algorithm and returns the first component
// that forms a cycle (size > 1, or a self-loop), or nil for a DAG.
func findCycle(adj [][]int) []int {
	n := len(adj)
	const unvisited = -1
	var (
		counter = 0
		indices = make([]int, n)
		lowlink = make([]int, n)
		onStack = make([]bool, n)
		stack   []int
		cycle   []int
	)
	for i := range indices {
		indices[i] = unvisited
	}

	var strongConnect func(v int)
	strongConnect = func(v int) {
		indices[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if indices[w] == unvisited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if cycle == nil && (len(scc) > 1 || hasSelfLoop(scc[0], adj)) {
				cycle = scc
			}
		}
	}

	for v := 0; v < n; v++ {
		if indices[v] == unvisited {
			strongConnect(v)
		}
	}
	return cycle
}

func hasSelfLoop(v int, adj [][]int) bool {
	for _, w := range adj[v] {
		if w == v {
			return true
		}
	}
	return false
}

// assignLevels computes the longest-path level of every reaction in the
// (now known acyclic) graph. Level 0 reactions have no upstream writers
// at the same instant.
func assignLevels(p *Program, adj [][]int) {
	n := len(adj)
	indegree := make([]int, n)
	for _, edges := range adj {
		for _, w := range edges {
			indegree[w]++
		}
	}

	var queue []int
	for v := 0; v < n; v++ {
		if indegree[v] == 0 {
			queue = append(queue, v)
		}
	}
	level := make([]int, n)
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range adj[v] {
			if level[v]+1 > level[w] {
				level[w] = level[v] + 1
			}
			indegree[w]--
			if indegree[w] == 0 {
				queue = append(queue, w)
			}
		}
	}

	for i, rx := range p.reactions {
		rx.level = level[i]
	}
}
