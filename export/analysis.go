package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"github.com/researchaccelerator-hub/telegram-netscan/graph"
)

// ErrNoNetwork is returned when a directory contains no network export.
var ErrNoNetwork = errors.New("no network_3d_*.json file found")

// LatestNetwork loads the newest network export in dir. File names carry a
// sortable timestamp, so the lexically greatest one wins.
func LatestNetwork(dir string) (graph.Network, string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "network_3d_*.json"))
	if err != nil {
		return graph.Network{}, "", err
	}
	if len(matches) == 0 {
		return graph.Network{}, "", fmt.Errorf("%w in %s", ErrNoNetwork, dir)
	}
	sort.Strings(matches)
	latest := matches[len(matches)-1]

	net, err := ReadNetwork(latest)
	return net, latest, err
}

// ReadNetwork decodes one network export.
func ReadNetwork(path string) (graph.Network, error) {
	var net graph.Network
	data, err := os.ReadFile(path)
	if err != nil {
		return net, err
	}
	if err := json.Unmarshal(data, &net); err != nil {
		return net, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return net, nil
}

// Counts tallies nodes by accessibility class.
func Counts(net graph.Network) map[graph.Accessibility]int {
	out := map[graph.Accessibility]int{}
	for _, n := range net.Nodes {
		out[n.Accessibility]++
	}
	return out
}

// WriteMarkdownReport renders an analysis of net as Markdown.
func WriteMarkdownReport(w io.Writer, source string, net graph.Network, summary graph.Summary) error {
	md := markdown.NewMarkdown(w)

	md.H1("Channel Network Analysis")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Source", "`" + filepath.Base(source) + "`"},
			{"Nodes", strconv.Itoa(summary.Nodes)},
			{"Edges", strconv.Itoa(summary.Edges)},
			{"Density", strconv.FormatFloat(summary.Density, 'f', 4, 64)},
			{"Weakly connected components", strconv.Itoa(summary.Components)},
			{"Largest component", strconv.Itoa(summary.LargestComponent)},
		},
	})
	md.PlainText("")

	counts := Counts(net)
	md.H2("Accessibility")
	md.PlainText("")
	if summary.Nodes > 0 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Channels by accessibility"),
			piechart.WithShowData(true),
		)
		for _, class := range []graph.Accessibility{graph.Accessible, graph.Failed, graph.Referenced} {
			if counts[class] > 0 {
				chart.LabelAndIntValue(string(class), uint64(counts[class]))
			}
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	} else {
		md.Note("The network is empty.")
		md.PlainText("")
	}

	md.H2("Most connected channels")
	md.PlainText("")
	if len(summary.MostConnected) == 0 {
		md.PlainText("No channels.")
		md.PlainText("")
		return md.Build()
	}
	rows := make([][]string, 0, len(summary.MostConnected))
	for i, nd := range summary.MostConnected {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			"`" + nd.ID + "`",
			nd.Label,
			strconv.Itoa(nd.Degree),
			strconv.FormatFloat(nd.Centrality, 'f', 4, 64),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"#", "Channel", "Title", "Degree", "Centrality"},
		Rows:   rows,
	})
	md.PlainText("")

	return md.Build()
}
