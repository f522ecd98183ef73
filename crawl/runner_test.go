package crawl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/researchaccelerator-hub/telegram-netscan/graph"
	"github.com/researchaccelerator-hub/telegram-netscan/model"
	"github.com/researchaccelerator-hub/telegram-netscan/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(maxDepth int) Config {
	return Config{
		MaxDepth:              maxDepth,
		MaxChannels:           10,
		MaxMessagesPerChannel: 100,
		RateLimitDelay:        time.Second,
	}
}

func newTestOrchestrator(t *testing.T, f ChannelFetcher, store state.CheckpointStore, cfg Config, opts ...Option) (*Orchestrator, *countingSleep) {
	t.Helper()
	sleeper := &countingSleep{}
	opts = append([]Option{WithSleep(sleeper.sleep)}, opts...)
	o, err := NewOrchestrator(f, store, cfg, opts...)
	require.NoError(t, err)
	return o, sleeper
}

func TestRun_MaxDepthIsInclusive(t *testing.T) {
	f := newFakeFetcher()
	f.channels["alpha"] = &model.Channel{
		ID:       1,
		Title:    "Alpha",
		Username: "alpha",
		Messages: []model.Message{
			{ID: 1, Text: "follow @beta"},
			{ID: 2, Text: "mirror https://t.me/beta"},
			{ID: 3, Text: "and @x"},
		},
	}
	f.channels["beta"] = &model.Channel{ID: 2, Title: "Beta", Username: "beta"}
	store := &memoryStore{}

	o, _ := newTestOrchestrator(t, f, store, testConfig(1))
	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, []string{"alpha", "beta"}, f.calls)
	assert.Equal(t, 2, res.Graph.NodeCount())
	assert.Equal(t, 1, res.Graph.EdgeCount())
	assert.True(t, res.Graph.HasEdge("alpha", "beta"))
	assert.True(t, res.Ledger.IsVisited("beta"))
	assert.Equal(t, []string{"beta"}, res.Records["alpha"].LinkedChannels)
	assert.Equal(t, 1, res.Records["beta"].Depth)
	assert.Len(t, store.saved, 1)
}

func TestRun_ChildrenBeyondMaxDepthAreReferencedOnly(t *testing.T) {
	f := newFakeFetcher().link("alpha", "beta")
	o, _ := newTestOrchestrator(t, f, &memoryStore{}, testConfig(0))

	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha"}, f.calls)
	assert.True(t, res.Graph.HasEdge("alpha", "beta"))
	assert.Equal(t, graph.Referenced, graph.Classify("beta", res.Ledger))
	beta, ok := res.Graph.Node("beta")
	require.True(t, ok)
	assert.Equal(t, 1, beta.Depth)
	assert.True(t, res.Frontier.IsEmpty())
}

func TestRun_BreadthFirstOrder(t *testing.T) {
	f := newFakeFetcher().
		link("alpha", "beta", "gamma").
		link("beta", "delta").
		link("gamma", "epsilon").
		link("delta").
		link("epsilon")
	o, _ := newTestOrchestrator(t, f, &memoryStore{}, testConfig(5))

	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta", "gamma", "delta", "epsilon"}, f.calls)
	assert.Equal(t, f.calls, res.Order)
	assert.Equal(t, 0, res.Records["alpha"].Depth)
	assert.Equal(t, 1, res.Records["gamma"].Depth)
	assert.Equal(t, 2, res.Records["epsilon"].Depth)
	assert.Equal(t, 4, res.Discovered)
}

func TestRun_CyclesAreFetchedOnce(t *testing.T) {
	f := newFakeFetcher().
		link("alpha", "beta", "gamma").
		link("beta", "alpha", "gamma").
		link("gamma", "beta", "alpha")
	o, _ := newTestOrchestrator(t, f, &memoryStore{}, testConfig(10))

	res, err := o.Run(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, f.calls)
	assert.Len(t, f.calls, 3)
	assert.Equal(t, 6, res.Graph.EdgeCount())
}

func TestRun_FetchFailureIsRecoveredPerItem(t *testing.T) {
	f := newFakeFetcher().link("alpha", "gamma", "delta").link("delta")
	f.errs["gamma"] = errors.New("channel is private")
	rec := &countingRecorder{}
	o, sleeper := newTestOrchestrator(t, f, &memoryStore{}, testConfig(3), WithRecorder(rec))

	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, []string{"alpha", "delta", "gamma"}, f.calls)
	assert.True(t, res.Ledger.IsFailed("gamma"))
	assert.False(t, res.Ledger.IsVisited("gamma"))
	assert.NotContains(t, res.Records, "gamma")
	require.Len(t, res.FetchErrors, 1)
	assert.Equal(t, "gamma", res.FetchErrors[0].ID)
	assert.EqualError(t, errors.Unwrap(res.FetchErrors[0]), "channel is private")
	assert.Equal(t, graph.Failed, graph.Classify("gamma", res.Ledger))

	// the delay follows failures too
	assert.Equal(t, 3, sleeper.count())
	assert.Equal(t, 2, rec.fetched)
	assert.Equal(t, 1, rec.failed)
}

func TestRun_FailedFetchEnqueuesNoChildren(t *testing.T) {
	f := newFakeFetcher().link("alpha", "gamma")
	f.channels["gamma"] = &model.Channel{ID: 3, Messages: []model.Message{{Text: "@hidden_child"}}}
	f.errs["gamma"] = errors.New("flood wait")
	o, _ := newTestOrchestrator(t, f, &memoryStore{}, testConfig(5))

	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	_, ok := res.Graph.Node("hidden_child")
	assert.False(t, ok)
	assert.Equal(t, []string{"alpha", "gamma"}, f.calls)
}

func TestRun_PanicInFetchIsFailure(t *testing.T) {
	f := newFakeFetcher().link("alpha", "gamma", "delta").link("delta")
	f.panics["gamma"] = "nil map write"
	o, _ := newTestOrchestrator(t, f, &memoryStore{}, testConfig(3))

	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	assert.True(t, res.Ledger.IsFailed("gamma"))
	assert.True(t, res.Ledger.IsVisited("delta"))
	require.Len(t, res.FetchErrors, 1)
	assert.Contains(t, res.FetchErrors[0].Error(), "panic")
}

func TestRun_EmptyChannelIsFailure(t *testing.T) {
	f := newFakeFetcher()
	f.channels["blank"] = &model.Channel{}
	o, _ := newTestOrchestrator(t, f, &memoryStore{}, testConfig(1))

	res, err := o.Run(context.Background(), []string{"blank"})
	require.NoError(t, err)

	assert.True(t, res.Ledger.IsFailed("blank"))
	require.Len(t, res.FetchErrors, 1)
	assert.ErrorIs(t, res.FetchErrors[0], ErrNoChannelData)
}

func TestRun_CancellationDrainsWithOneCheckpoint(t *testing.T) {
	f := newFakeFetcher()
	seeds := []string{"chan1", "chan2", "chan3", "chan4", "chan5", "chan6"}
	for _, s := range seeds {
		f.link(s)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.onFetch = func(id string) {
		if id == "chan1" {
			cancel()
		}
	}
	store := &memoryStore{}
	persister := &fakePersister{}
	o, _ := newTestOrchestrator(t, f, store, testConfig(2), WithPersister(persister))

	res, err := o.Run(ctx, seeds)
	require.NoError(t, err)

	assert.Equal(t, StateStopped, res.State)
	assert.Equal(t, []State{StateIdle, StateRunning, StateDraining, StateStopped}, res.Transitions)
	assert.Equal(t, []string{"chan1"}, f.calls)

	// the in-flight fetch was not cancelled
	assert.Equal(t, []error{nil}, f.ctxErrs)

	require.Len(t, store.saved, 1)
	saved := store.saved[0]
	assert.Equal(t, []string{"chan1"}, saved.Visited)
	assert.Equal(t, []state.FrontierEntry{
		{ID: "chan2"}, {ID: "chan3"}, {ID: "chan4"}, {ID: "chan5"}, {ID: "chan6"},
	}, saved.Frontier)
	assert.Equal(t, 1, persister.calls)
	assert.Equal(t, StateStopped, persister.results[0].Outcome)
}

func TestRun_CancelledBeforeStartFetchesNothing(t *testing.T) {
	f := newFakeFetcher().link("alpha")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := &memoryStore{}
	o, _ := newTestOrchestrator(t, f, store, testConfig(1))

	res, err := o.Run(ctx, []string{"alpha"})
	require.NoError(t, err)

	assert.Equal(t, StateStopped, res.State)
	assert.Empty(t, f.calls)
	require.Len(t, store.saved, 1)
	assert.Equal(t, []state.FrontierEntry{{ID: "alpha"}}, store.saved[0].Frontier)
}

func TestRun_ChannelLimitExhausts(t *testing.T) {
	f := newFakeFetcher().
		link("alpha", "beta", "gamma").
		link("beta", "delta").
		link("gamma")
	cfg := testConfig(5)
	cfg.MaxChannels = 2
	store := &memoryStore{}
	o, _ := newTestOrchestrator(t, f, store, cfg)

	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, res.State)
	assert.Equal(t, []string{"alpha", "beta"}, f.calls)
	require.Len(t, store.saved, 1)
	assert.Equal(t, []state.FrontierEntry{{ID: "gamma", Depth: 1}, {ID: "delta", Depth: 2}}, store.saved[0].Frontier)
}

func TestRun_ResumeContinuesFromCheckpoint(t *testing.T) {
	f := newFakeFetcher().link("beta", "delta").link("delta")
	store := &memoryStore{current: &state.CrawlState{
		Visited:  []string{"alpha"},
		Failed:   []string{"gamma"},
		Frontier: []state.FrontierEntry{{ID: "beta", Depth: 1}},
	}}
	cfg := testConfig(5)
	cfg.Resume = true
	o, _ := newTestOrchestrator(t, f, store, cfg)

	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	assert.True(t, res.Resumed)
	assert.Equal(t, []string{"beta", "delta"}, f.calls)
	assert.Equal(t, []string{"alpha", "beta", "delta"}, res.Ledger.VisitedList())
	assert.Equal(t, []string{"gamma"}, res.Ledger.FailedList())

	// restored identifiers show up in the graph with their class
	assert.Equal(t, graph.Failed, graph.Classify("gamma", res.Ledger))
	_, ok := res.Graph.Node("alpha")
	assert.True(t, ok)
}

func TestRun_ResumeRestoresStoredGraph(t *testing.T) {
	f := newFakeFetcher().link("beta")
	store := &memoryStore{current: &state.CrawlState{
		Visited:  []string{"alpha"},
		Frontier: []state.FrontierEntry{{ID: "beta", Depth: 1}},
	}}
	source := &fakeGraphSource{
		nodes: []graph.Node{
			{ID: "alpha", Title: "Alpha", Participants: 50, MessageCount: 3},
			{ID: "other_crawl", Title: "Other"},
		},
		edges: []graph.Edge{
			{Source: "alpha", Target: "beta"},
			{Source: "alpha", Target: "gamma"},
			{Source: "other_crawl", Target: "alpha"},
		},
	}
	cfg := testConfig(1)
	cfg.Resume = true
	o, _ := newTestOrchestrator(t, f, store, cfg, WithGraphSource(source))

	res, err := o.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, res.Graph.HasEdge("alpha", "beta"))
	assert.True(t, res.Graph.HasEdge("alpha", "gamma"))
	assert.False(t, res.Graph.HasEdge("other_crawl", "alpha"))
	_, ok := res.Graph.Node("other_crawl")
	assert.False(t, ok)

	alpha, ok := res.Graph.Node("alpha")
	require.True(t, ok)
	assert.Equal(t, "Alpha", alpha.Title)
	assert.Equal(t, 50, alpha.Participants)
	gamma, ok := res.Graph.Node("gamma")
	require.True(t, ok)
	assert.Equal(t, 1, gamma.Depth)
	assert.Equal(t, []string{"beta"}, f.calls)
}

func TestRun_ResumeGraphSourceErrorIsNotFatal(t *testing.T) {
	f := newFakeFetcher().link("beta")
	store := &memoryStore{current: &state.CrawlState{
		Visited:  []string{"alpha"},
		Frontier: []state.FrontierEntry{{ID: "beta", Depth: 1}},
	}}
	cfg := testConfig(1)
	cfg.Resume = true
	o, _ := newTestOrchestrator(t, f, store, cfg, WithGraphSource(&fakeGraphSource{err: errors.New("locked")}))

	res, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	_, ok := res.Graph.Node("alpha")
	assert.True(t, ok)
	assert.Equal(t, 0, res.Graph.OutDegree("alpha"))
}

func TestRun_ResumeIsMonotonicAcrossRuns(t *testing.T) {
	f := newFakeFetcher().
		link("alpha", "beta", "gamma").
		link("beta", "delta").
		link("gamma").
		link("delta")
	store := &memoryStore{}
	cfg := testConfig(5)
	cfg.MaxChannels = 2
	cfg.Resume = true

	o, _ := newTestOrchestrator(t, f, store, cfg)
	first, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	require.Equal(t, StateExhausted, first.State)

	cfg.MaxChannels = 10
	o, _ = newTestOrchestrator(t, f, store, cfg)
	second, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, second.State)
	assert.Subset(t, second.Ledger.VisitedList(), first.Ledger.VisitedList())
	assert.Equal(t, []string{"alpha", "beta", "gamma", "delta"}, f.calls)
}

func TestRun_ResumeWithoutCheckpointStartsFresh(t *testing.T) {
	f := newFakeFetcher().link("alpha")
	cfg := testConfig(1)
	cfg.Resume = true
	o, _ := newTestOrchestrator(t, f, &memoryStore{loadErr: errors.New("disk on fire")}, cfg)

	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, []string{"alpha"}, f.calls)
}

func TestRun_RestoredEntryBeyondDepthIsDiscarded(t *testing.T) {
	f := newFakeFetcher().link("deep_one").link("shallow")
	store := &memoryStore{current: &state.CrawlState{
		Frontier: []state.FrontierEntry{{ID: "deep_one", Depth: 4}, {ID: "shallow", Depth: 1}},
	}}
	cfg := testConfig(2)
	cfg.Resume = true
	o, sleeper := newTestOrchestrator(t, f, store, cfg)

	res, err := o.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"shallow"}, f.calls)
	assert.False(t, res.Ledger.Seen("deep_one"))
	assert.Equal(t, 1, sleeper.count())
}

func TestRun_CheckpointFailureIsNotFatal(t *testing.T) {
	f := newFakeFetcher().link("alpha")
	persister := &fakePersister{}
	o, _ := newTestOrchestrator(t, f, &memoryStore{saveErr: errors.New("read-only fs")}, testConfig(1), WithPersister(persister))

	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	require.Len(t, res.CheckpointErrors, 1)
	var perr *PersistenceError
	assert.ErrorAs(t, res.CheckpointErrors[0], &perr)
	assert.Equal(t, 0, res.Checkpoints)
	assert.Equal(t, 1, persister.calls)
}

func TestRun_PersistFailureIsRecorded(t *testing.T) {
	f := newFakeFetcher().link("alpha")
	persister := &fakePersister{err: errors.New("disk full")}
	o, _ := newTestOrchestrator(t, f, &memoryStore{}, testConfig(1), WithPersister(persister))

	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	var perr *PersistenceError
	require.ErrorAs(t, res.PersistErr, &perr)
	assert.Equal(t, "persist results", perr.Op)
}

func TestRun_SaveRequestWritesExtraCheckpoint(t *testing.T) {
	f := newFakeFetcher().link("alpha", "beta").link("beta")
	requests := make(chan struct{}, 1)
	requests <- struct{}{}
	store := &memoryStore{}
	o, _ := newTestOrchestrator(t, f, store, testConfig(2), WithSaveRequests(requests))

	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	require.Len(t, store.saved, 2)
	assert.Equal(t, []state.FrontierEntry{{ID: "alpha"}}, store.saved[0].Frontier)
	assert.Empty(t, store.saved[1].Frontier)
	assert.Equal(t, 2, res.Checkpoints)
}

func TestRun_SelfReferenceKeptAsLoop(t *testing.T) {
	f := newFakeFetcher().link("alpha", "alpha", "beta")
	o, _ := newTestOrchestrator(t, f, &memoryStore{}, testConfig(1))

	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	assert.True(t, res.Graph.HasEdge("alpha", "alpha"))
	assert.True(t, res.Graph.HasEdge("alpha", "beta"))
	assert.Equal(t, []string{"alpha", "beta"}, res.Records["alpha"].LinkedChannels)
	assert.Equal(t, 3, res.Graph.Degree("alpha"))
	assert.Equal(t, []string{"alpha", "beta"}, f.calls, "alpha is fetched once")
}

func TestRun_EmptySeedsCompletes(t *testing.T) {
	o, sleeper := newTestOrchestrator(t, newFakeFetcher(), &memoryStore{}, testConfig(1))
	res, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 0, sleeper.count())
}

func TestRun_NetworkExport(t *testing.T) {
	f := newFakeFetcher().link("alpha", "beta")
	f.errs["beta"] = errors.New("gone")
	o, _ := newTestOrchestrator(t, f, &memoryStore{}, testConfig(1))

	res, err := o.Run(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	net := res.Network()
	require.Len(t, net.Nodes, 2)
	assert.Equal(t, "Title alpha", net.Nodes[0].Label)
	assert.True(t, net.Nodes[0].Accessible)
	assert.Equal(t, 1, net.Nodes[0].MessagesCount)
	assert.Equal(t, graph.Failed, net.Nodes[1].Accessibility)
	assert.Equal(t, []graph.ExportLink{{Source: "alpha", Target: "beta", Value: 1}}, net.Links)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
	assert.NoError(t, sleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := NewOrchestrator(nil, &memoryStore{}, DefaultConfig())
	assert.Error(t, err)

	_, err = NewOrchestrator(newFakeFetcher(), nil, DefaultConfig())
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.MaxChannels = 0
	_, err = NewOrchestrator(newFakeFetcher(), &memoryStore{}, bad)
	assert.Error(t, err)

	bad = DefaultConfig()
	bad.MaxDepth = -1
	assert.Error(t, bad.Validate())
	assert.NoError(t, DefaultConfig().Validate())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "exhausted", StateExhausted.String())
	assert.True(t, StateCompleted.Terminal())
	assert.False(t, StateDraining.Terminal())
}
