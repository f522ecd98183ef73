package export

import (
	"encoding/xml"
	"io"
	"strconv"

	"github.com/researchaccelerator-hub/telegram-netscan/graph"
)

type graphmlKey struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
	Type string `xml:"attr.type,attr"`
}

type graphmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type graphmlNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphmlData `xml:"data"`
}

type graphmlEdge struct {
	Source string `xml:"source,attr"`
	Target string `xml:"target,attr"`
}

type graphmlGraph struct {
	ID          string        `xml:"id,attr"`
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphmlNode `xml:"node"`
	Edges       []graphmlEdge `xml:"edge"`
}

type graphmlDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNS   string       `xml:"xmlns,attr"`
	Keys    []graphmlKey `xml:"key"`
	Graph   graphmlGraph `xml:"graph"`
}

var graphmlKeys = []graphmlKey{
	{ID: "d0", For: "node", Name: "title", Type: "string"},
	{ID: "d1", For: "node", Name: "participants", Type: "int"},
	{ID: "d2", For: "node", Name: "messages_count", Type: "int"},
	{ID: "d3", For: "node", Name: "depth", Type: "int"},
	{ID: "d4", For: "node", Name: "accessibility", Type: "string"},
}

// WriteGraphML encodes net as a directed GraphML document.
func WriteGraphML(w io.Writer, net graph.Network) error {
	doc := graphmlDoc{
		XMLNS: "http://graphml.graphdrawing.org/xmlns",
		Keys:  graphmlKeys,
		Graph: graphmlGraph{ID: "G", EdgeDefault: "directed"},
	}
	for _, n := range net.Nodes {
		doc.Graph.Nodes = append(doc.Graph.Nodes, graphmlNode{
			ID: n.ID,
			Data: []graphmlData{
				{Key: "d0", Value: n.Label},
				{Key: "d1", Value: strconv.Itoa(n.Participants)},
				{Key: "d2", Value: strconv.Itoa(n.MessagesCount)},
				{Key: "d3", Value: strconv.Itoa(n.Depth)},
				{Key: "d4", Value: string(n.Accessibility)},
			},
		})
	}
	for _, l := range net.Links {
		doc.Graph.Edges = append(doc.Graph.Edges, graphmlEdge{Source: l.Source, Target: l.Target})
	}
	return encodeXML(w, doc)
}

type gexfAttribute struct {
	ID    string `xml:"id,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

type gexfAttributes struct {
	Class string          `xml:"class,attr"`
	Attrs []gexfAttribute `xml:"attribute"`
}

type gexfAttValue struct {
	For   string `xml:"for,attr"`
	Value string `xml:"value,attr"`
}

type gexfNode struct {
	ID     string         `xml:"id,attr"`
	Label  string         `xml:"label,attr"`
	Values []gexfAttValue `xml:"attvalues>attvalue"`
}

type gexfEdge struct {
	ID     string `xml:"id,attr"`
	Source string `xml:"source,attr"`
	Target string `xml:"target,attr"`
}

type gexfGraph struct {
	DefaultEdgeType string         `xml:"defaultedgetype,attr"`
	Mode            string         `xml:"mode,attr"`
	Attributes      gexfAttributes `xml:"attributes"`
	Nodes           []gexfNode     `xml:"nodes>node"`
	Edges           []gexfEdge     `xml:"edges>edge"`
}

type gexfDoc struct {
	XMLName xml.Name  `xml:"gexf"`
	XMLNS   string    `xml:"xmlns,attr"`
	Version string    `xml:"version,attr"`
	Graph   gexfGraph `xml:"graph"`
}

// WriteGEXF encodes net as a static directed GEXF 1.2 document.
func WriteGEXF(w io.Writer, net graph.Network) error {
	doc := gexfDoc{
		XMLNS:   "http://www.gexf.net/1.2draft",
		Version: "1.2",
		Graph: gexfGraph{
			DefaultEdgeType: "directed",
			Mode:            "static",
			Attributes: gexfAttributes{
				Class: "node",
				Attrs: []gexfAttribute{
					{ID: "0", Title: "participants", Type: "integer"},
					{ID: "1", Title: "messages_count", Type: "integer"},
					{ID: "2", Title: "depth", Type: "integer"},
					{ID: "3", Title: "accessibility", Type: "string"},
				},
			},
		},
	}
	for _, n := range net.Nodes {
		doc.Graph.Nodes = append(doc.Graph.Nodes, gexfNode{
			ID:    n.ID,
			Label: n.Label,
			Values: []gexfAttValue{
				{For: "0", Value: strconv.Itoa(n.Participants)},
				{For: "1", Value: strconv.Itoa(n.MessagesCount)},
				{For: "2", Value: strconv.Itoa(n.Depth)},
				{For: "3", Value: string(n.Accessibility)},
			},
		})
	}
	for i, l := range net.Links {
		doc.Graph.Edges = append(doc.Graph.Edges, gexfEdge{ID: strconv.Itoa(i), Source: l.Source, Target: l.Target})
	}
	return encodeXML(w, doc)
}

func encodeXML(w io.Writer, doc any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
