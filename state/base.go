package state

import "sort"

// Ledger records which channels have been visited and which failed. The two
// sets never overlap: the first outcome recorded for an identifier wins.
//
// A Ledger is owned by a single crawl loop and is not safe for concurrent use.
type Ledger struct {
	visited map[string]struct{}
	failed  map[string]struct{}
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		visited: make(map[string]struct{}),
		failed:  make(map[string]struct{}),
	}
}

// RestoreLedger rebuilds a ledger from checkpointed lists. An identifier
// present in both lists is kept as visited.
func RestoreLedger(visited, failed []string) *Ledger {
	l := NewLedger()
	for _, id := range visited {
		l.MarkVisited(id)
	}
	for _, id := range failed {
		l.MarkFailed(id)
	}
	return l
}

// MarkVisited records a successful fetch. It returns false when id already
// has an outcome.
func (l *Ledger) MarkVisited(id string) bool {
	if l.Seen(id) {
		return false
	}
	l.visited[id] = struct{}{}
	return true
}

// MarkFailed records a failed fetch. It returns false when id already has an
// outcome.
func (l *Ledger) MarkFailed(id string) bool {
	if l.Seen(id) {
		return false
	}
	l.failed[id] = struct{}{}
	return true
}

func (l *Ledger) IsVisited(id string) bool {
	_, ok := l.visited[id]
	return ok
}

func (l *Ledger) IsFailed(id string) bool {
	_, ok := l.failed[id]
	return ok
}

// Seen reports whether id has been either visited or failed.
func (l *Ledger) Seen(id string) bool {
	return l.IsVisited(id) || l.IsFailed(id)
}

func (l *Ledger) VisitedCount() int { return len(l.visited) }

func (l *Ledger) FailedCount() int { return len(l.failed) }

// VisitedList returns the visited identifiers sorted.
func (l *Ledger) VisitedList() []string { return sortedKeys(l.visited) }

// FailedList returns the failed identifiers sorted.
func (l *Ledger) FailedList() []string { return sortedKeys(l.failed) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
