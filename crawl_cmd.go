package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/researchaccelerator-hub/telegram-netscan/common"
	"github.com/researchaccelerator-hub/telegram-netscan/config"
	"github.com/researchaccelerator-hub/telegram-netscan/crawl"
	"github.com/researchaccelerator-hub/telegram-netscan/export"
	"github.com/researchaccelerator-hub/telegram-netscan/extract"
	"github.com/researchaccelerator-hub/telegram-netscan/metrics"
	"github.com/researchaccelerator-hub/telegram-netscan/state"
	"github.com/researchaccelerator-hub/telegram-netscan/storage"
	"github.com/researchaccelerator-hub/telegram-netscan/telegramhelper"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errNoSeeds = errors.New("no valid seed channels given")

// connectFetcher opens the channel source for a crawl. The returned func
// releases it.
var connectFetcher = func(ctx context.Context, cfg config.Config) (crawl.ChannelFetcher, func(), error) {
	client, err := telegramhelper.Connect(ctx, connectConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	if _, err := telegramhelper.GetMe(client); err != nil {
		telegramhelper.CloseClient(client)
		return nil, nil, err
	}
	return telegramhelper.NewFetcher(client), func() { telegramhelper.CloseClient(client) }, nil
}

func connectConfig(cfg config.Config) telegramhelper.ConnectConfig {
	return telegramhelper.ConnectConfig{
		StorageRoot: cfg.StorageRoot,
		DatabaseURL: cfg.TDLibDatabaseURL,
		Verbosity:   int32(cfg.TDLibVerbosity),
		Credentials: telegramhelper.Credentials{
			APIId:       cfg.Telegram.APIID,
			APIHash:     cfg.Telegram.APIHash,
			PhoneNumber: cfg.Telegram.Phone,
			PhoneCode:   cfg.Telegram.Code,
		},
	}
}

func newScanCmd(a *app) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Crawl outward from a single channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, map[string]any{"max_depth": 2})
			if err != nil {
				return err
			}
			return runCrawl(cmd.Context(), cmd.OutOrStdout(), cfg, []string{channel})
		},
	}
	f := cmd.Flags()
	f.StringVar(&channel, "channel", "", "seed channel (username, @handle or t.me link)")
	f.Int("depth", 2, "maximum crawl depth, inclusive")
	f.Int("max-messages", config.DefaultMaxMessagesPerChannel, "messages read per channel")
	f.String("output", config.DefaultOutputDir, "output directory")
	addCrawlFlags(cmd)
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func newDeepScanCmd(a *app) *cobra.Command {
	var channels []string
	var channelsFile string
	cmd := &cobra.Command{
		Use:   "deep-scan",
		Short: "Crawl the network reachable from several seed channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, nil)
			if err != nil {
				return err
			}
			seeds := append([]string{}, channels...)
			if channelsFile != "" {
				fromFile, err := common.LoadSeedFile(cmd.Context(), channelsFile)
				if err != nil {
					return err
				}
				seeds = append(seeds, fromFile...)
			}
			return runCrawl(cmd.Context(), cmd.OutOrStdout(), cfg, seeds)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&channels, "channels", nil, "comma-separated seed channels")
	f.StringVar(&channelsFile, "channels-file", "", "file or URL with one seed channel per line")
	f.Int("max-depth", config.DefaultMaxDepth, "maximum crawl depth, inclusive")
	f.Int("max-channels", config.DefaultMaxChannels, "maximum channels to fetch")
	f.Int("max-messages", config.DefaultMaxMessagesPerChannel, "messages read per channel")
	f.String("output", config.DefaultOutputDir, "output directory")
	f.Bool("resume", false, "resume from the saved checkpoint")
	addCrawlFlags(cmd)
	return cmd
}

// addCrawlFlags registers the flags shared by scan and deep-scan.
func addCrawlFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Duration("delay", config.DefaultRateLimitDelay, "wait between channel fetches")
	f.String("checkpoint", config.DefaultCheckpointFile, "checkpoint file")
	f.String("webapp-network-file", "", "also write the network JSON here")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.Bool("dapr", false, "keep checkpoints in the Dapr state store")
	f.String("dapr-state-store", config.DefaultStateStore, "Dapr state store component")
	f.String("crawl-id", "", "crawl id for Dapr checkpoints")
}

func crawlConfig(cfg config.Config) crawl.Config {
	return crawl.Config{
		MaxDepth:              cfg.MaxDepth,
		MaxChannels:           cfg.MaxChannels,
		MaxMessagesPerChannel: cfg.MaxMessagesPerChannel,
		RateLimitDelay:        cfg.RateLimitDelay,
		Resume:                cfg.Resume,
	}
}

func newCheckpointStore(cfg config.Config) (state.CheckpointStore, error) {
	sc := state.Config{
		CrawlID:     cfg.CrawlID,
		LocalConfig: &state.LocalConfig{FileName: cfg.CheckpointFile},
	}
	if cfg.Dapr.Enabled {
		sc.DaprConfig = &state.DaprConfig{
			StateStoreName: cfg.Dapr.StateStore,
			GRPCPort:       cfg.Dapr.GRPCPort,
		}
	}
	factory := &state.DefaultCheckpointStoreFactory{}
	return factory.Create(sc)
}

func runCrawl(ctx context.Context, out io.Writer, cfg config.Config, raw []string) error {
	seeds, rejected := extract.NormalizeSeeds(raw)
	for _, r := range rejected {
		log.Warn().Str("channel", r).Msg("Ignoring invalid seed channel")
	}
	if len(seeds) == 0 && !cfg.Resume {
		return errNoSeeds
	}
	if cfg.CrawlID == "" {
		cfg.CrawlID = common.GenerateCrawlID()
	}
	log.Logger = log.With().Str("crawl_id", cfg.CrawlID).Logger()

	store, err := newCheckpointStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()

	fetcher, release, err := connectFetcher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	defer release()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	recorder := metrics.NewRecorder(reg)
	if cfg.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, reg); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	writer := export.NewWriter(cfg.OutputDir, export.WithWebAppFile(cfg.WebAppNetworkFile))
	opts := []crawl.Option{
		crawl.WithPersister(writer),
		crawl.WithRecorder(recorder),
		crawl.WithSaveRequests(saveRequests(ctx)),
	}
	if cfg.Resume {
		history, err := openHistory(cfg.OutputDir)
		if err != nil {
			return err
		}
		if history != nil {
			defer history.Close()
			opts = append(opts, crawl.WithGraphSource(history))
		}
	}
	orch, err := crawl.NewOrchestrator(fetcher, store, crawlConfig(cfg), opts...)
	if err != nil {
		return err
	}

	res, runErr := orch.Run(ctx, seeds)
	if res != nil {
		printRunSummary(out, res)
	}
	return runErr
}

// summaryTop is how many channels the end-of-crawl summary ranks.
const summaryTop = 5

// openHistory opens the channel database of earlier runs in dir. It returns
// nil without error when no run has written one yet.
func openHistory(dir string) (*storage.RecordDB, error) {
	path := filepath.Join(dir, storage.DefaultFileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat channel database: %w", err)
	}
	db, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open channel database: %w", err)
	}
	return db, nil
}

func printRunSummary(out io.Writer, res *crawl.Result) {
	summary := res.Graph.Summarize(summaryTop)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Crawl " + res.Outcome.String())
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Seeds", strings.Join(res.Seeds, ", ")},
		{"Resumed", res.Resumed},
		{"Channels fetched", res.Ledger.VisitedCount()},
		{"Channels failed", res.Ledger.FailedCount()},
		{"Still queued", res.Frontier.Len()},
		{"Nodes", summary.Nodes},
		{"Edges", summary.Edges},
		{"Components", summary.Components},
		{"Largest component", summary.LargestComponent},
		{"Checkpoints", res.Checkpoints},
		{"Elapsed", res.EndedAt.Sub(res.StartedAt).Round(time.Second)},
	})
	if res.PersistErr != nil {
		t.AppendFooter(table.Row{"Persist error", res.PersistErr.Error()})
	}
	t.Render()

	printMostConnected(out, summary.MostConnected)
}
