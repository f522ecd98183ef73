package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/researchaccelerator-hub/telegram-netscan/export"
	"github.com/researchaccelerator-hub/telegram-netscan/graph"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		dataDir  string
		markdown string
		top      int
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Summarise the latest network export in a data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, nil)
			if err != nil {
				return err
			}
			if dataDir == "" {
				dataDir = cfg.OutputDir
			}
			net, path, err := export.LatestNetwork(dataDir)
			if err != nil {
				return err
			}
			log.Info().Str("file", path).Msg("Analyzing network")

			g, _ := graph.FromNetwork(net)
			summary := g.Summarize(top)
			printAnalysis(cmd.OutOrStdout(), path, net, summary)

			if markdown == "" {
				return nil
			}
			if dir := filepath.Dir(markdown); dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("failed to create report directory: %w", err)
				}
			}
			f, err := os.Create(markdown)
			if err != nil {
				return fmt.Errorf("failed to create report: %w", err)
			}
			if err := export.WriteMarkdownReport(f, path, net, summary); err != nil {
				f.Close()
				return fmt.Errorf("failed to write report: %w", err)
			}
			log.Info().Str("file", markdown).Msg("Markdown report written")
			return f.Close()
		},
	}
	f := cmd.Flags()
	f.StringVar(&dataDir, "data-dir", "", "directory holding network_3d_*.json exports (default output_dir)")
	f.StringVar(&markdown, "markdown", "", "also write a Markdown report to this file")
	f.IntVar(&top, "top", 10, "number of most connected channels to list")
	return cmd
}

func printAnalysis(out io.Writer, source string, net graph.Network, s graph.Summary) {
	counts := export.Counts(net)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle(filepath.Base(source))
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Nodes", s.Nodes},
		{"Edges", s.Edges},
		{"Density", fmt.Sprintf("%.4f", s.Density)},
		{"Components", s.Components},
		{"Largest component", s.LargestComponent},
		{"Accessible", counts[graph.Accessible]},
		{"Failed", counts[graph.Failed]},
		{"Referenced only", counts[graph.Referenced]},
	})
	t.Render()

	printMostConnected(out, s.MostConnected)
}

// printMostConnected renders the ranked channels, or nothing for an empty
// ranking.
func printMostConnected(out io.Writer, ranked []graph.NodeDegree) {
	if len(ranked) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Most connected channels")
	t.AppendHeader(table.Row{"#", "Channel", "Title", "Degree", "Centrality"})
	for i, nd := range ranked {
		t.AppendRow(table.Row{i + 1, nd.ID, nd.Label, nd.Degree, fmt.Sprintf("%.4f", nd.Centrality)})
	}
	t.Render()
}
