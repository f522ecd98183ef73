package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the ISO-8601 layout used for checkpoint timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// FrontierEntry is a channel waiting to be visited together with the depth
// at which it was first discovered. Seeds sit at depth 0.
//
// On disk an entry is the two element array [id, depth].
type FrontierEntry struct {
	ID    string
	Depth int
}

// MarshalJSON encodes the entry as [id, depth].
func (e FrontierEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.ID, e.Depth})
}

// UnmarshalJSON decodes [id, depth]. The object form {"id":..,"depth":..}
// is accepted as well.
func (e *FrontierEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("frontier entry must have 2 elements, got %d", len(pair))
		}
		if err := json.Unmarshal(pair[0], &e.ID); err != nil {
			return fmt.Errorf("frontier entry id: %w", err)
		}
		if err := json.Unmarshal(pair[1], &e.Depth); err != nil {
			return fmt.Errorf("frontier entry depth: %w", err)
		}
		return nil
	}

	var obj struct {
		ID    string `json:"id"`
		Depth int    `json:"depth"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid frontier entry %s: %w", string(data), err)
	}
	e.ID, e.Depth = obj.ID, obj.Depth
	return nil
}

// CrawlState is the resumable snapshot of a crawl: what has been visited,
// what failed and what is still queued, in queue order.
type CrawlState struct {
	Visited   []string        `json:"visited"`
	Failed    []string        `json:"failed"`
	Frontier  []FrontierEntry `json:"frontier"`
	Timestamp string          `json:"timestamp"`
}

// NewCrawlState snapshots a ledger and frontier at the given time.
func NewCrawlState(ledger *Ledger, frontier *Frontier, at time.Time) CrawlState {
	return CrawlState{
		Visited:   ledger.VisitedList(),
		Failed:    ledger.FailedList(),
		Frontier:  frontier.Entries(),
		Timestamp: at.Format(TimestampLayout),
	}
}

// UnmarshalJSON reads the current key names and falls back to the legacy
// visited_channels / failed_channels / crawl_queue keys.
func (s *CrawlState) UnmarshalJSON(data []byte) error {
	var raw struct {
		Visited        []string        `json:"visited"`
		Failed         []string        `json:"failed"`
		Frontier       []FrontierEntry `json:"frontier"`
		Timestamp      string          `json:"timestamp"`
		LegacyVisited  []string        `json:"visited_channels"`
		LegacyFailed   []string        `json:"failed_channels"`
		LegacyFrontier []FrontierEntry `json:"crawl_queue"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Visited = firstNonNil(raw.Visited, raw.LegacyVisited)
	s.Failed = firstNonNil(raw.Failed, raw.LegacyFailed)
	s.Frontier = raw.Frontier
	if s.Frontier == nil {
		s.Frontier = raw.LegacyFrontier
	}
	s.Timestamp = raw.Timestamp
	return nil
}

// Time parses Timestamp. RFC 3339 values are accepted too.
func (s CrawlState) Time() (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s.Timestamp); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s.Timestamp)
}

func firstNonNil(a, b []string) []string {
	if a != nil {
		return a
	}
	return b
}
