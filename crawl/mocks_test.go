package crawl

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/researchaccelerator-hub/telegram-netscan/graph"
	"github.com/researchaccelerator-hub/telegram-netscan/model"
	"github.com/researchaccelerator-hub/telegram-netscan/state"
)

// fakeFetcher serves canned channels keyed by identifier.
type fakeFetcher struct {
	mu       sync.Mutex
	channels map[string]*model.Channel
	errs     map[string]error
	panics   map[string]any
	calls    []string
	ctxErrs  []error

	// onFetch runs before the canned answer is returned.
	onFetch func(id string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		channels: make(map[string]*model.Channel),
		errs:     make(map[string]error),
		panics:   make(map[string]any),
	}
}

// link registers id as a channel whose single message mentions targets.
func (f *fakeFetcher) link(id string, targets ...string) *fakeFetcher {
	msgs := make([]model.Message, 0, len(targets))
	for i, t := range targets {
		msgs = append(msgs, model.Message{ID: int64(i + 1), Text: "see @" + t})
	}
	f.channels[id] = &model.Channel{ID: int64(len(f.channels) + 1), Username: id, Title: "Title " + id, Messages: msgs}
	return f
}

func (f *fakeFetcher) FetchChannel(ctx context.Context, id string, maxMessages int) (*model.Channel, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}

	f.mu.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()

	if p, ok := f.panics[id]; ok {
		panic(p)
	}
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	if ch, ok := f.channels[id]; ok {
		return ch, nil
	}
	return nil, errors.New("channel not found")
}

// memoryStore is an in-memory CheckpointStore that records every save.
type memoryStore struct {
	mu      sync.Mutex
	saved   []state.CrawlState
	current *state.CrawlState
	loadErr error
	saveErr error
}

func (m *memoryStore) Save(_ context.Context, st state.CrawlState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, st)
	m.current = &st
	return nil
}

func (m *memoryStore) Load(_ context.Context) (state.CrawlState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return state.CrawlState{}, m.loadErr
	}
	if m.current == nil {
		return state.CrawlState{}, state.ErrCheckpointNotFound
	}
	return *m.current, nil
}

func (m *memoryStore) Close() error { return nil }

type fakePersister struct {
	calls   int
	results []*Result
	err     error
}

func (p *fakePersister) Persist(_ context.Context, res *Result) error {
	p.calls++
	p.results = append(p.results, res)
	return p.err
}

// countingSleep records each requested delay and never blocks.
type countingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *countingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *countingSleep) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

type countingRecorder struct {
	fetched      int
	failed       int
	links        int
	lastFrontier int
}

func (r *countingRecorder) ChannelFetched(int, time.Duration) { r.fetched++ }
func (r *countingRecorder) ChannelFailed(int, time.Duration)  { r.failed++ }
func (r *countingRecorder) LinksDiscovered(n int)             { r.links += n }
func (r *countingRecorder) FrontierSize(n int)                { r.lastFrontier = n }

// fakeGraphSource serves a fixed stored graph.
type fakeGraphSource struct {
	nodes []graph.Node
	edges []graph.Edge
	err   error
}

func (s *fakeGraphSource) LoadGraph(context.Context) ([]graph.Node, []graph.Edge, error) {
	return s.nodes, s.edges, s.err
}
