package crawl

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/researchaccelerator-hub/telegram-netscan/extract"
	"github.com/researchaccelerator-hub/telegram-netscan/graph"
	"github.com/researchaccelerator-hub/telegram-netscan/model"
	"github.com/researchaccelerator-hub/telegram-netscan/state"
	"github.com/rs/zerolog/log"
)

// Orchestrator runs one crawl at a time. It keeps no state between runs;
// everything a run touches lives in its Result.
type Orchestrator struct {
	fetcher   ChannelFetcher
	store     state.CheckpointStore
	persister Persister
	recorder  Recorder
	history   GraphSource
	cfg       Config

	saveRequests <-chan struct{}
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPersister sets where records and the graph are written when a run ends.
func WithPersister(p Persister) Option {
	return func(o *Orchestrator) { o.persister = p }
}

// WithRecorder sets the progress observer.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithGraphSource rebuilds previously crawled channels and their links from
// s when a run resumes from a checkpoint.
func WithGraphSource(s GraphSource) Option {
	return func(o *Orchestrator) { o.history = s }
}

// WithSaveRequests makes the run write a checkpoint whenever a value arrives
// on ch, without stopping.
func WithSaveRequests(ch <-chan struct{}) Option {
	return func(o *Orchestrator) { o.saveRequests = ch }
}

// WithSleep replaces the inter-request wait. The function must return early
// with ctx.Err() when ctx is cancelled.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires a fetcher and checkpoint store into a crawl driver.
func NewOrchestrator(fetcher ChannelFetcher, store state.CheckpointStore, cfg Config, opts ...Option) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, errors.New("channel fetcher is required")
	}
	if store == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl config: %w", err)
	}

	o := &Orchestrator{
		fetcher:  fetcher,
		store:    store,
		cfg:      cfg,
		recorder: nopRecorder{},
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the limits the orchestrator runs with.
func (o *Orchestrator) Config() Config { return o.cfg }

// Run crawls breadth-first from seeds until the frontier is empty, the
// channel limit is reached or ctx is cancelled. Cancellation is not an
// error: the run drains, checkpoints and returns with StateStopped.
//
// Every terminal state writes exactly one checkpoint and attempts one
// persistence of records and graph. The only error Run returns is for a
// panic escaping the loop itself; the partial Result is returned with it.
func (o *Orchestrator) Run(ctx context.Context, seeds []string) (res *Result, err error) {
	res = &Result{
		State:     StateIdle,
		Seeds:     seeds,
		Records:   make(map[string]model.ChannelRecord),
		Graph:     graph.New(),
		Ledger:    state.NewLedger(),
		StartedAt: o.now(),
	}
	res.Frontier = state.NewFrontier(res.Ledger)
	res.Transitions = []State{StateIdle}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Crawl loop panicked, saving state")
			err = fmt.Errorf("crawl loop panicked: %v", r)
			if !res.State.Terminal() {
				o.finish(ctx, res, StateStopped)
			}
		}
	}()

	if o.cfg.Resume {
		o.restore(ctx, res)
	}
	for _, id := range seeds {
		if res.Frontier.Enqueue(id, 0) {
			res.Graph.AddNode(id, graph.WithDiscoveryDepth(0))
		}
	}

	o.transition(res, StateRunning)
	log.Info().
		Int("seeds", len(seeds)).
		Int("queue", res.Frontier.Len()).
		Int("max_depth", o.cfg.MaxDepth).
		Int("max_channels", o.cfg.MaxChannels).
		Dur("delay", o.cfg.RateLimitDelay).
		Msg("Starting network crawl")

	o.finish(ctx, res, o.loop(ctx, res))
	return res, nil
}

// loop processes frontier entries and returns the terminal state to enter.
func (o *Orchestrator) loop(ctx context.Context, res *Result) State {
	for {
		if ctx.Err() != nil {
			return StateStopped
		}
		o.handleSaveRequest(ctx, res)
		if res.Frontier.IsEmpty() {
			return StateCompleted
		}
		if res.Ledger.VisitedCount() >= o.cfg.MaxChannels {
			return StateExhausted
		}

		entry, _ := res.Frontier.Dequeue()
		o.recorder.FrontierSize(res.Frontier.Len())
		if entry.Depth > o.cfg.MaxDepth {
			log.Debug().Str("channel", entry.ID).Int("depth", entry.Depth).Msg("Skipping channel beyond max depth")
			continue
		}
		if ctx.Err() != nil {
			res.Frontier.Requeue(entry)
			return StateStopped
		}

		o.process(ctx, res, entry)

		if err := o.sleep(ctx, o.cfg.RateLimitDelay); err != nil {
			return StateStopped
		}
	}
}

// process fetches one channel and folds the outcome into the run.
func (o *Orchestrator) process(ctx context.Context, res *Result, entry state.FrontierEntry) {
	started := o.now()
	ch, err := o.fetch(ctx, entry)
	took := o.now().Sub(started)
	if err == nil && !ch.HasData() {
		err = ErrNoChannelData
	}

	if err != nil {
		fetchErr := &FetchError{ID: entry.ID, Depth: entry.Depth, Err: err}
		res.FetchErrors = append(res.FetchErrors, fetchErr)
		res.Ledger.MarkFailed(entry.ID)
		res.Graph.AddNode(entry.ID, graph.WithDiscoveryDepth(entry.Depth))
		o.recorder.ChannelFailed(entry.Depth, took)
		log.Warn().
			Err(err).
			Str("channel", entry.ID).
			Int("depth", entry.Depth).
			Int("queue", res.Frontier.Len()).
			Int("failed", res.Ledger.FailedCount()).
			Msg("Failed to scan channel")
		return
	}

	links := make(map[string]struct{})
	for _, m := range ch.Messages {
		for id := range extract.ChannelLinks(m.Text) {
			links[id] = struct{}{}
		}
		for _, u := range m.Links {
			for id := range extract.ChannelLinks(u) {
				links[id] = struct{}{}
			}
		}
	}

	rec := model.ChannelRecord{
		ID:             ch.ID,
		Title:          ch.Title,
		Username:       ch.Username,
		Participants:   ch.Participants,
		Messages:       ch.Messages,
		LinkedChannels: extract.Sorted(links),
		ScannedAt:      o.now(),
		Depth:          entry.Depth,
	}
	if rec.Username == "" {
		rec.Username = entry.ID
	}
	if rec.Messages == nil {
		rec.Messages = []model.Message{}
	}

	res.Ledger.MarkVisited(entry.ID)
	res.Records[entry.ID] = rec
	res.Order = append(res.Order, entry.ID)
	res.Graph.AddNode(entry.ID,
		graph.WithTitle(rec.Title),
		graph.WithParticipants(rec.Participants),
		graph.WithMessageCount(rec.MessageCount()),
		graph.WithDepth(entry.Depth),
	)

	childDepth := entry.Depth + 1
	queued := 0
	for _, target := range rec.LinkedChannels {
		res.Graph.AddEdge(entry.ID, target)
		res.Graph.AddNode(target, graph.WithDiscoveryDepth(childDepth))
		if childDepth <= o.cfg.MaxDepth && res.Frontier.Enqueue(target, childDepth) {
			queued++
		}
	}
	res.Discovered += queued
	o.recorder.ChannelFetched(entry.Depth, took)
	o.recorder.LinksDiscovered(queued)
	o.recorder.FrontierSize(res.Frontier.Len())

	log.Info().
		Str("channel", entry.ID).
		Str("title", rec.Title).
		Int("depth", entry.Depth).
		Int("messages", len(rec.Messages)).
		Int("links", len(rec.LinkedChannels)).
		Int("new", queued).
		Int("queue", res.Frontier.Len()).
		Int("visited", res.Ledger.VisitedCount()).
		Int("max_channels", o.cfg.MaxChannels).
		Int("discovered", res.Discovered).
		Msg("Scanned channel")
}

// fetch calls the fetcher on a context that ignores cancellation, so a
// fetch already issued runs to completion. Panics become fetch failures.
func (o *Orchestrator) fetch(ctx context.Context, entry state.FrontierEntry) (ch *model.Channel, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("channel", entry.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic while fetching channel")
			ch, err = nil, fmt.Errorf("panic while fetching: %v", r)
		}
	}()
	return o.fetcher.FetchChannel(context.WithoutCancel(ctx), entry.ID, o.cfg.MaxMessagesPerChannel)
}

// restore seeds the run from the last checkpoint. A missing or unreadable
// checkpoint starts the crawl fresh.
func (o *Orchestrator) restore(ctx context.Context, res *Result) {
	st, err := o.store.Load(ctx)
	if errors.Is(err, state.ErrCheckpointNotFound) {
		log.Info().Msg("No checkpoint found, starting fresh crawl")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load checkpoint, starting fresh crawl")
		return
	}

	res.Ledger = state.RestoreLedger(st.Visited, st.Failed)
	res.Frontier = state.NewFrontier(res.Ledger)
	restored := res.Frontier.Restore(st.Frontier)
	res.Resumed = true

	if o.history != nil {
		o.restoreGraph(ctx, res)
	}
	for _, id := range res.Ledger.VisitedList() {
		res.Graph.AddNode(id)
	}
	for _, id := range res.Ledger.FailedList() {
		res.Graph.AddNode(id)
	}
	for _, e := range res.Frontier.Entries() {
		res.Graph.AddNode(e.ID, graph.WithDiscoveryDepth(e.Depth))
	}

	log.Info().
		Str("saved_at", st.Timestamp).
		Int("visited", res.Ledger.VisitedCount()).
		Int("failed", res.Ledger.FailedCount()).
		Int("queue", restored).
		Msg("Resumed crawl from checkpoint")
}

// restoreGraph adds the stored nodes and outgoing links of channels the
// checkpoint marks visited. Anything else in the store belongs to another
// crawl and is ignored.
func (o *Orchestrator) restoreGraph(ctx context.Context, res *Result) {
	nodes, edges, err := o.history.LoadGraph(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load stored graph, restored channels will have no links")
		return
	}

	depth := make(map[string]int, len(nodes))
	for _, n := range nodes {
		if !res.Ledger.IsVisited(n.ID) {
			continue
		}
		depth[n.ID] = n.Depth
		res.Graph.AddNode(n.ID,
			graph.WithTitle(n.Title),
			graph.WithParticipants(n.Participants),
			graph.WithMessageCount(n.MessageCount),
			graph.WithDepth(n.Depth),
		)
	}
	restored := 0
	for _, e := range edges {
		d, ok := depth[e.Source]
		if !ok {
			continue
		}
		if res.Graph.AddEdge(e.Source, e.Target) {
			restored++
		}
		res.Graph.AddNode(e.Target, graph.WithDiscoveryDepth(d+1))
	}

	log.Info().
		Int("nodes", len(depth)).
		Int("edges", restored).
		Msg("Restored graph of previously scanned channels")
}

func (o *Orchestrator) handleSaveRequest(ctx context.Context, res *Result) {
	if o.saveRequests == nil {
		return
	}
	select {
	case <-o.saveRequests:
		log.Info().Msg("Checkpoint requested")
		o.checkpoint(ctx, res)
	default:
	}
}

// finish enters the terminal state, writing the checkpoint and persisting
// results on a context that outlives cancellation.
func (o *Orchestrator) finish(ctx context.Context, res *Result, final State) {
	detached := context.WithoutCancel(ctx)
	if final == StateStopped {
		o.transition(res, StateDraining)
		log.Info().Int("queue", res.Frontier.Len()).Msg("Shutdown requested, draining crawl")
	}

	res.Outcome = final
	o.checkpoint(detached, res)
	res.EndedAt = o.now()
	if o.persister != nil {
		if err := o.persister.Persist(detached, res); err != nil {
			res.PersistErr = &PersistenceError{Op: "persist results", Err: err}
			log.Error().Err(err).Msg("Failed to persist crawl results")
		}
	}
	o.transition(res, final)

	summary := res.Graph.Summarize(5)
	top := make([]string, 0, len(summary.MostConnected))
	for _, nd := range summary.MostConnected {
		top = append(top, fmt.Sprintf("%s(%d)", nd.ID, nd.Degree))
	}
	log.Info().
		Str("state", final.String()).
		Int("visited", res.Ledger.VisitedCount()).
		Int("failed", res.Ledger.FailedCount()).
		Int("queue", res.Frontier.Len()).
		Int("nodes", res.Graph.NodeCount()).
		Int("edges", res.Graph.EdgeCount()).
		Int("components", summary.Components).
		Strs("most_connected", top).
		Dur("elapsed", res.EndedAt.Sub(res.StartedAt)).
		Msg("Crawl finished")
}

func (o *Orchestrator) checkpoint(ctx context.Context, res *Result) {
	st := res.CrawlState(o.now())
	if err := o.store.Save(ctx, st); err != nil {
		perr := &PersistenceError{Op: "save checkpoint", Err: err}
		res.CheckpointErrors = append(res.CheckpointErrors, perr)
		log.Error().Err(err).Msg("Failed to save checkpoint")
		return
	}
	res.Checkpoints++
	log.Info().
		Int("visited", len(st.Visited)).
		Int("failed", len(st.Failed)).
		Int("queue", len(st.Frontier)).
		Msg("Checkpoint saved")
}

func (o *Orchestrator) transition(res *Result, next State) {
	log.Debug().Str("from", res.State.String()).Str("to", next.String()).Msg("Crawl state change")
	res.State = next
	res.Transitions = append(res.Transitions, next)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
