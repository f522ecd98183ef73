package graph

// Accessibility classifies a node by what happened when the crawl reached it.
type Accessibility string

const (
	Accessible Accessibility = "accessible"
	Failed     Accessibility = "failed"
	Referenced Accessibility = "referenced"
)

// Group is the visualizer color group for the class.
func (a Accessibility) Group() int {
	switch a {
	case Accessible:
		return 0
	case Failed:
		return 1
	default:
		return 2
	}
}

// Size is the visualizer node size for the class.
func (a Accessibility) Size() int {
	switch a {
	case Accessible:
		return 15
	case Failed:
		return 10
	default:
		return 8
	}
}

// Membership answers the visited / failed questions needed to classify
// nodes. state.Ledger satisfies it.
type Membership interface {
	IsVisited(id string) bool
	IsFailed(id string) bool
}

// Classify derives the class of id. Failure takes precedence over a visit.
func Classify(id string, m Membership) Accessibility {
	switch {
	case m.IsFailed(id):
		return Failed
	case m.IsVisited(id):
		return Accessible
	default:
		return Referenced
	}
}

// ExportNode is one node of the network file.
type ExportNode struct {
	ID            string        `json:"id"`
	Label         string        `json:"label"`
	Group         int           `json:"group"`
	Size          int           `json:"size"`
	Accessibility Accessibility `json:"accessibility"`
	Accessible    bool          `json:"accessible"`
	Participants  int           `json:"participants"`
	MessagesCount int           `json:"messages_count"`
	Depth         int           `json:"depth"`
}

// ExportLink is one edge of the network file. Value is always 1.
type ExportLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Value  int    `json:"value"`
}

// Network is the node/link document read by the visualizer.
type Network struct {
	Nodes []ExportNode `json:"nodes"`
	Links []ExportLink `json:"links"`
}

// Export renders the graph, classifying every node through m.
func (g *Graph) Export(m Membership) Network {
	net := Network{
		Nodes: make([]ExportNode, 0, g.NodeCount()),
		Links: make([]ExportLink, 0, g.EdgeCount()),
	}
	for _, n := range g.Nodes() {
		class := Classify(n.ID, m)
		net.Nodes = append(net.Nodes, ExportNode{
			ID:            n.ID,
			Label:         n.Label(),
			Group:         class.Group(),
			Size:          class.Size(),
			Accessibility: class,
			Accessible:    class == Accessible,
			Participants:  n.Participants,
			MessagesCount: n.MessageCount,
			Depth:         n.Depth,
		})
	}
	for _, e := range g.edges {
		net.Links = append(net.Links, ExportLink{Source: e.Source, Target: e.Target, Value: 1})
	}
	return net
}

// classes is a Membership backed by exported accessibility values.
type classes map[string]Accessibility

func (c classes) IsVisited(id string) bool { return c[id] == Accessible }

func (c classes) IsFailed(id string) bool { return c[id] == Failed }

// FromNetwork rebuilds a graph from an exported document, returning the
// membership recorded in it alongside.
func FromNetwork(net Network) (*Graph, Membership) {
	g := New()
	m := make(classes, len(net.Nodes))
	for _, n := range net.Nodes {
		title := n.Label
		if title == n.ID {
			title = ""
		}
		g.AddNode(n.ID,
			WithTitle(title),
			WithParticipants(n.Participants),
			WithMessageCount(n.MessagesCount),
			WithDepth(n.Depth),
		)
		class := n.Accessibility
		if class == "" {
			if n.Accessible {
				class = Accessible
			} else {
				class = Referenced
			}
		}
		m[n.ID] = class
	}
	for _, l := range net.Links {
		g.AddEdge(l.Source, l.Target)
	}
	return g, m
}
