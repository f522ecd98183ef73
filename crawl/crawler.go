// Package crawl drives the breadth-first crawl over the channel reference
// network: it pops channels off the frontier, fetches them, records the
// outcome in the ledger and graph, queues newly referenced channels and
// checkpoints progress so an interrupted crawl can be resumed.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/researchaccelerator-hub/telegram-netscan/graph"
	"github.com/researchaccelerator-hub/telegram-netscan/model"
	"github.com/researchaccelerator-hub/telegram-netscan/state"
)

// ChannelFetcher retrieves a channel's metadata and up to maxMessages of its
// most recent messages. Any returned error marks the channel as failed.
type ChannelFetcher interface {
	FetchChannel(ctx context.Context, id string, maxMessages int) (*model.Channel, error)
}

// Persister writes the records and graph of a finished (or interrupted)
// crawl. Errors are logged and never stop the crawl.
type Persister interface {
	Persist(ctx context.Context, res *Result) error
}

// GraphSource returns the channels and links stored by earlier runs. A
// resumed crawl uses it to rebuild the part of the graph a checkpoint does
// not carry.
type GraphSource interface {
	LoadGraph(ctx context.Context) ([]graph.Node, []graph.Edge, error)
}

// Recorder observes crawl progress, typically for metrics.
type Recorder interface {
	ChannelFetched(depth int, took time.Duration)
	ChannelFailed(depth int, took time.Duration)
	LinksDiscovered(n int)
	FrontierSize(n int)
}

type nopRecorder struct{}

func (nopRecorder) ChannelFetched(int, time.Duration) {}
func (nopRecorder) ChannelFailed(int, time.Duration)  {}
func (nopRecorder) LinksDiscovered(int)               {}
func (nopRecorder) FrontierSize(int)                  {}

// State is the lifecycle state of an Orchestrator run.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
	StateCompleted
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateCompleted:
		return "completed"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateCompleted || s == StateExhausted
}

// Config bounds a crawl.
type Config struct {
	// MaxDepth is the deepest level processed, inclusive. Seeds are depth 0.
	MaxDepth int
	// MaxChannels stops the crawl once this many channels have been visited.
	MaxChannels int
	// MaxMessagesPerChannel is passed to the fetcher.
	MaxMessagesPerChannel int
	// RateLimitDelay is waited after every fetch, successful or not.
	RateLimitDelay time.Duration
	// Resume restores the last checkpoint before seeding.
	Resume bool
}

// DefaultConfig mirrors the deep-scan defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth:              10,
		MaxChannels:           1000,
		MaxMessagesPerChannel: 1000,
		RateLimitDelay:        2 * time.Second,
	}
}

// Validate checks the limits are usable.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must be non-negative, got %d", c.MaxDepth)
	}
	if c.MaxChannels <= 0 {
		return fmt.Errorf("max channels must be positive, got %d", c.MaxChannels)
	}
	if c.MaxMessagesPerChannel < 0 {
		return fmt.Errorf("max messages per channel must be non-negative, got %d", c.MaxMessagesPerChannel)
	}
	if c.RateLimitDelay < 0 {
		return fmt.Errorf("rate limit delay must be non-negative, got %s", c.RateLimitDelay)
	}
	return nil
}

// ErrNoChannelData is the failure recorded when a fetch succeeds but
// returns nothing usable.
var ErrNoChannelData = errors.New("no channel data returned")

// FetchError is a failed fetch of one channel. It is recorded and the crawl
// moves on.
type FetchError struct {
	ID    string
	Depth int
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s at depth %d: %v", e.ID, e.Depth, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistenceError is a failed checkpoint or export write. It is logged and
// does not roll back or abort the crawl.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Result is everything a run produced.
type Result struct {
	State       State
	Transitions []State
	// Outcome is the terminal state the run ends in. It is set before the
	// persister runs, while State may still be Running or Draining.
	Outcome State

	Seeds    []string
	Resumed  bool
	Records  map[string]model.ChannelRecord
	Order    []string
	Graph    *graph.Graph
	Ledger   *state.Ledger
	Frontier *state.Frontier

	// Discovered counts channels queued because another channel referenced them.
	Discovered  int
	FetchErrors []*FetchError

	Checkpoints      int
	CheckpointErrors []error
	PersistErr       error

	StartedAt time.Time
	EndedAt   time.Time
}

// Network exports the graph classified against the ledger.
func (r *Result) Network() graph.Network {
	return r.Graph.Export(r.Ledger)
}

// CrawlState snapshots the ledger and frontier.
func (r *Result) CrawlState(at time.Time) state.CrawlState {
	return state.NewCrawlState(r.Ledger, r.Frontier, at)
}
