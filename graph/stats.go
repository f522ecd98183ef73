package graph

import "sort"

// NodeDegree pairs a node with its total degree and degree centrality.
type NodeDegree struct {
	ID         string
	Label      string
	Degree     int
	Centrality float64
}

// Summary is the set of statistics reported at the end of a crawl and by
// the analyze command.
type Summary struct {
	Nodes            int
	Edges            int
	Density          float64
	Components       int
	LargestComponent int
	MostConnected    []NodeDegree
}

// Density is E / (N * (N - 1)), the fraction of possible directed edges
// present. Graphs with fewer than two nodes have density 0.
func (g *Graph) Density() float64 {
	n := g.NodeCount()
	if n < 2 {
		return 0
	}
	return float64(g.EdgeCount()) / float64(n*(n-1))
}

// DegreeCentrality is degree / (N - 1) for every node. A single node graph
// gets centrality 1, an empty graph an empty map.
func (g *Graph) DegreeCentrality() map[string]float64 {
	out := make(map[string]float64, len(g.order))
	n := g.NodeCount()
	if n == 1 {
		out[g.order[0]] = 1
		return out
	}
	for _, id := range g.order {
		out[id] = float64(g.Degree(id)) / float64(n-1)
	}
	return out
}

// MostConnected returns up to k nodes ordered by total degree, highest first.
// Ties keep insertion order. A k of zero or less returns every node.
func (g *Graph) MostConnected(k int) []NodeDegree {
	centrality := g.DegreeCentrality()
	ranked := make([]NodeDegree, 0, len(g.order))
	for _, id := range g.order {
		ranked = append(ranked, NodeDegree{
			ID:         id,
			Label:      g.nodes[id].Label(),
			Degree:     g.Degree(id),
			Centrality: centrality[id],
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Degree > ranked[j].Degree
	})
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// WeaklyConnectedComponents groups nodes connected when edge direction is
// ignored. Components are ordered largest first; members keep insertion
// order.
func (g *Graph) WeaklyConnectedComponents() [][]string {
	index := make(map[string]int, len(g.order))
	for i, id := range g.order {
		index[id] = i
	}

	seen := make(map[string]bool, len(g.order))
	var components [][]string
	for _, start := range g.order {
		if seen[start] {
			continue
		}
		seen[start] = true
		queue := []string{start}
		var members []string
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			members = append(members, id)
			for next := range g.out[id] {
				if !seen[next] {
					seen[next] = true
					queue = append(queue, next)
				}
			}
			for next := range g.in[id] {
				if !seen[next] {
					seen[next] = true
					queue = append(queue, next)
				}
			}
		}
		sort.Slice(members, func(i, j int) bool { return index[members[i]] < index[members[j]] })
		components = append(components, members)
	}

	sort.SliceStable(components, func(i, j int) bool {
		return len(components[i]) > len(components[j])
	})
	return components
}

// Summarize computes every statistic at once. top bounds MostConnected.
func (g *Graph) Summarize(top int) Summary {
	components := g.WeaklyConnectedComponents()
	s := Summary{
		Nodes:         g.NodeCount(),
		Edges:         g.EdgeCount(),
		Density:       g.Density(),
		Components:    len(components),
		MostConnected: g.MostConnected(top),
	}
	if len(components) > 0 {
		s.LargestComponent = len(components[0])
	}
	return s
}
