// Package graph holds the directed channel reference graph built during a
// crawl, its summary statistics and the node/link export format consumed by
// the visualizer.
package graph

// Node is one channel ever seen during the crawl, fetched or not.
type Node struct {
	ID           string
	Title        string
	Participants int
	MessageCount int
	Depth        int

	depthSet bool
}

// Label is the display name of the node, falling back to its identifier.
func (n *Node) Label() string {
	if n.Title != "" {
		return n.Title
	}
	return n.ID
}

// Edge is a reference from Source to Target.
type Edge struct {
	Source string
	Target string
}

// Graph is a directed graph without parallel edges. A channel referencing
// itself is kept as a self-loop.
// Nodes and edges keep insertion order so exports are stable.
type Graph struct {
	nodes map[string]*Node
	order []string

	edges   []Edge
	edgeSet map[Edge]struct{}
	out     map[string]map[string]struct{}
	in      map[string]map[string]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edgeSet: make(map[Edge]struct{}),
		out:     make(map[string]map[string]struct{}),
		in:      make(map[string]map[string]struct{}),
	}
}

// NodeOption sets one attribute on a node.
type NodeOption func(*Node)

// WithTitle sets the display title.
func WithTitle(title string) NodeOption {
	return func(n *Node) { n.Title = title }
}

// WithParticipants sets the participant count.
func WithParticipants(count int) NodeOption {
	return func(n *Node) { n.Participants = count }
}

// WithMessageCount sets the number of fetched messages.
func WithMessageCount(count int) NodeOption {
	return func(n *Node) { n.MessageCount = count }
}

// WithDepth sets the crawl depth, replacing any earlier value.
func WithDepth(depth int) NodeOption {
	return func(n *Node) {
		n.Depth = depth
		n.depthSet = true
	}
}

// WithDiscoveryDepth sets the depth only if none has been recorded yet, so
// the first discovery wins.
func WithDiscoveryDepth(depth int) NodeOption {
	return func(n *Node) {
		if !n.depthSet {
			n.Depth = depth
			n.depthSet = true
		}
	}
}

// AddNode creates id if needed and applies opts. Attributes not named by an
// option are left unchanged.
func (g *Graph) AddNode(id string, opts ...NodeOption) *Node {
	n, ok := g.nodes[id]
	if !ok {
		n = &Node{ID: id}
		g.nodes[id] = n
		g.order = append(g.order, id)
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// AddEdge adds source→target, creating bare endpoints as needed. It is a
// no-op for an existing edge and reports whether an edge was added.
func (g *Graph) AddEdge(source, target string) bool {
	e := Edge{Source: source, Target: target}
	if _, ok := g.edgeSet[e]; ok {
		return false
	}
	g.AddNode(source)
	g.AddNode(target)

	g.edgeSet[e] = struct{}{}
	g.edges = append(g.edges, e)
	if g.out[source] == nil {
		g.out[source] = make(map[string]struct{})
	}
	g.out[source][target] = struct{}{}
	if g.in[target] == nil {
		g.in[target] = make(map[string]struct{})
	}
	g.in[target][source] = struct{}{}
	return true
}

// Node returns the node for id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// HasEdge reports whether source→target exists.
func (g *Graph) HasEdge(source, target string) bool {
	_, ok := g.edgeSet[Edge{Source: source, Target: target}]
	return ok
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns the edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

func (g *Graph) NodeCount() int { return len(g.order) }

func (g *Graph) EdgeCount() int { return len(g.edges) }

// OutDegree is the number of channels id references.
func (g *Graph) OutDegree(id string) int { return len(g.out[id]) }

// InDegree is the number of channels referencing id.
func (g *Graph) InDegree(id string) int { return len(g.in[id]) }

// Degree is in-degree plus out-degree, so a self-loop counts twice.
func (g *Graph) Degree(id string) int { return g.InDegree(id) + g.OutDegree(id) }
