package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/researchaccelerator-hub/telegram-netscan/export"
	"github.com/researchaccelerator-hub/telegram-netscan/state"
	"github.com/researchaccelerator-hub/telegram-netscan/storage"
	"github.com/spf13/cobra"
)

func newInspectCmd(a *app) *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show a saved checkpoint and the channels stored in a data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			store := state.NewFileCheckpointStore(cfg.CheckpointFile)
			st, err := store.Load(cmd.Context())
			switch {
			case errors.Is(err, state.ErrCheckpointNotFound):
				fmt.Fprintf(out, "No checkpoint at %s\n", store.Path())
			case err != nil:
				return err
			default:
				printCheckpoint(out, store.Path(), st)
			}

			if dataDir == "" {
				dataDir = cfg.OutputDir
			}
			if meta, err := export.ReadMetadata(dataDir); err == nil {
				fmt.Fprintf(out, "Last run #%d (%s): %s, %d nodes, %d edges\n",
					meta.RunNumber, meta.Timestamp, meta.State, meta.Nodes, meta.Edges)
			}
			return printStoredChannels(cmd.Context(), out, filepath.Join(dataDir, storage.DefaultFileName))
		},
	}
	cmd.Flags().String("checkpoint", "crawl_state.json", "checkpoint file")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "output directory of previous runs (default output_dir)")
	return cmd
}

func printCheckpoint(out io.Writer, path string, st state.CrawlState) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Checkpoint " + path)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Saved at", st.Timestamp},
		{"Visited", len(st.Visited)},
		{"Failed", len(st.Failed)},
		{"Queued", len(st.Frontier)},
	})
	if len(st.Frontier) > 0 {
		next := st.Frontier[0]
		t.AppendRow(table.Row{"Next", fmt.Sprintf("%s (depth %d)", next.ID, next.Depth)})
	}
	t.Render()
}

func printStoredChannels(ctx context.Context, out io.Writer, dbPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(out, "No channel database at %s\n", dbPath)
		return nil
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.ListChannels(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Stored channels")
	t.AppendHeader(table.Row{"Channel", "Title", "Depth", "Participants", "Messages", "Linked from"})
	for _, r := range rows {
		in, err := db.Inbound(ctx, r.Username)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{r.Username, r.Title, r.Depth, r.Participants, r.MessageCount, len(in)})
	}
	t.Render()
	return nil
}
