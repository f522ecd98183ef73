// Package export writes crawl results to an output directory: the channel
// records, the network in the visualizer's JSON format, GraphML and GEXF for
// graph tools, a metadata file for the run and a SQLite snapshot.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/researchaccelerator-hub/telegram-netscan/crawl"
	"github.com/researchaccelerator-hub/telegram-netscan/graph"
	"github.com/researchaccelerator-hub/telegram-netscan/model"
	"github.com/researchaccelerator-hub/telegram-netscan/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// TimestampFormat is the suffix layout used in exported file names.
const TimestampFormat = "20060102_150405"

// MetadataFile is the per-directory run description.
const MetadataFile = "scan_metadata.json"

// Writer persists crawl results. It implements crawl.Persister.
type Writer struct {
	dir        string
	webAppFile string
	database   bool
	now        func() time.Time
	newID      func() string
}

// Option configures a Writer.
type Option func(*Writer)

// WithWebAppFile mirrors the network JSON to path, typically the data file
// of a bundled visualizer. Failures there are only logged.
func WithWebAppFile(path string) Option {
	return func(w *Writer) { w.webAppFile = path }
}

// WithoutDatabase skips the SQLite snapshot.
func WithoutDatabase() Option {
	return func(w *Writer) { w.database = false }
}

// WithClock overrides the time source used for file names and metadata.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter returns a Writer rooted at dir.
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{
		dir:      dir,
		database: true,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Persist writes every output for res. All writers run; their errors are
// returned joined.
func (w *Writer) Persist(ctx context.Context, res *crawl.Result) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", w.dir, err)
	}

	ts := w.now().Format(TimestampFormat)
	net := res.Network()

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}

	var g errgroup.Group
	g.Go(func() error {
		record(w.writeChannels(ts, res.Records))
		return nil
	})
	g.Go(func() error {
		record(w.writeNetwork(ts, net))
		return nil
	})
	if len(net.Nodes) == 0 {
		log.Warn().Msg("No network data to save - graph is empty")
	} else {
		g.Go(func() error {
			record(writeFile(filepath.Join(w.dir, "network_"+ts+".graphml"), func(f io.Writer) error {
				return WriteGraphML(f, net)
			}))
			return nil
		})
		g.Go(func() error {
			record(writeFile(filepath.Join(w.dir, "network_"+ts+".gexf"), func(f io.Writer) error {
				return WriteGEXF(f, net)
			}))
			return nil
		})
	}
	g.Go(func() error {
		record(w.writeMetadata(ts, res))
		return nil
	})
	if w.database {
		g.Go(func() error {
			record(w.writeDatabase(ctx, res))
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Info().
		Str("dir", w.dir).
		Int("nodes", len(net.Nodes)).
		Int("edges", len(net.Links)).
		Msg("Crawl results saved")
	return nil
}

func (w *Writer) writeChannels(ts string, records map[string]model.ChannelRecord) error {
	if records == nil {
		records = map[string]model.ChannelRecord{}
	}
	return writeJSON(filepath.Join(w.dir, "channels_"+ts+".json"), records)
}

func (w *Writer) writeNetwork(ts string, net graph.Network) error {
	if err := writeJSON(filepath.Join(w.dir, "network_3d_"+ts+".json"), net); err != nil {
		return err
	}
	if w.webAppFile != "" {
		if err := os.MkdirAll(filepath.Dir(w.webAppFile), 0755); err != nil {
			log.Warn().Err(err).Str("file", w.webAppFile).Msg("Could not update web app network data")
			return nil
		}
		if err := writeJSON(w.webAppFile, net); err != nil {
			log.Warn().Err(err).Str("file", w.webAppFile).Msg("Could not update web app network data")
		}
	}
	return nil
}

func (w *Writer) writeMetadata(ts string, res *crawl.Result) error {
	path := filepath.Join(w.dir, MetadataFile)
	runNumber := 1
	if prev, err := ReadMetadata(w.dir); err == nil {
		runNumber = prev.RunNumber + 1
	}

	meta := model.ScanMetadata{
		RunID:     w.newID(),
		RunNumber: runNumber,
		Channel:   strings.Join(res.Seeds, ","),
		Seeds:     res.Seeds,
		Timestamp: ts,
		StartedAt: res.StartedAt,
		EndedAt:   res.EndedAt,
		State:     res.Outcome.String(),
		Nodes:     res.Graph.NodeCount(),
		Edges:     res.Graph.EdgeCount(),
		Visited:   res.Ledger.VisitedCount(),
		Failed:    res.Ledger.FailedCount(),
	}
	return writeJSON(path, meta)
}

func (w *Writer) writeDatabase(ctx context.Context, res *crawl.Result) error {
	db, err := storage.Open(filepath.Join(w.dir, storage.DefaultFileName))
	if err != nil {
		return err
	}
	defer db.Close()

	records := make([]model.ChannelRecord, 0, len(res.Order))
	for _, id := range res.Order {
		if rec, ok := res.Records[id]; ok {
			records = append(records, rec)
		}
	}
	edges := res.Graph.Edges()
	links := make([]storage.Link, 0, len(edges))
	for _, e := range edges {
		links = append(links, storage.Link{Source: e.Source, Target: e.Target})
	}
	return db.SaveRun(ctx, records, links)
}

// ReadMetadata reads the metadata of the most recent run in dir.
func ReadMetadata(dir string) (model.ScanMetadata, error) {
	var meta model.ScanMetadata
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse %s: %w", MetadataFile, err)
	}
	return meta, nil
}

func writeJSON(path string, v any) error {
	return writeFile(path, func(f io.Writer) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// writeFile writes through a temporary file in the same directory and renames
// it into place, so readers never see a partial file.
func writeFile(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
