package model

import "time"

// Message is a single message pulled from a channel's history. Links holds
// URLs hidden behind link text, which do not appear in Text.
type Message struct {
	ID       int64     `json:"id"`
	Date     time.Time `json:"date"`
	Text     string    `json:"text"`
	Links    []string  `json:"links,omitempty"`
	Views    int       `json:"views"`
	Forwards int       `json:"forwards"`
}

// Channel is what a fetcher returns for one channel identifier: its metadata
// and the most recent messages, newest first.
type Channel struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Title        string    `json:"title"`
	Participants int       `json:"participants_count"`
	Messages     []Message `json:"messages"`
}

// HasData reports whether the fetch produced anything usable.
func (c *Channel) HasData() bool {
	return c != nil && (c.ID != 0 || c.Title != "" || len(c.Messages) > 0)
}

// ChannelRecord is the immutable snapshot stored for every successfully
// fetched channel.
type ChannelRecord struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Username       string    `json:"username"`
	Participants   int       `json:"participants_count"`
	Messages       []Message `json:"messages"`
	LinkedChannels []string  `json:"linked_channels"`
	ScannedAt      time.Time `json:"scanned_at"`
	Depth          int       `json:"depth"`
}

// MessageCount returns the number of messages that carry text.
func (r ChannelRecord) MessageCount() int {
	n := 0
	for _, m := range r.Messages {
		if m.Text != "" {
			n++
		}
	}
	return n
}

// ScanMetadata describes one run in an output directory.
type ScanMetadata struct {
	RunID     string    `json:"run_id"`
	RunNumber int       `json:"run_number"`
	Channel   string    `json:"channel"`
	Seeds     []string  `json:"seeds"`
	Timestamp string    `json:"timestamp"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	State     string    `json:"state"`
	Nodes     int       `json:"nodes"`
	Edges     int       `json:"edges"`
	Visited   int       `json:"visited"`
	Failed    int       `json:"failed"`
}
