package state

// Frontier is the FIFO queue of channels waiting to be fetched. An identifier
// is queued at most once, at the depth it was first discovered, and never
// once the ledger holds an outcome for it.
type Frontier struct {
	ledger *Ledger
	queue  []FrontierEntry
	queued map[string]struct{}
}

// NewFrontier returns an empty frontier that dedups against ledger.
func NewFrontier(ledger *Ledger) *Frontier {
	return &Frontier{
		ledger: ledger,
		queued: make(map[string]struct{}),
	}
}

// Enqueue appends id at depth unless it is already queued, visited or
// failed. It reports whether the entry was added.
func (f *Frontier) Enqueue(id string, depth int) bool {
	if id == "" || depth < 0 {
		return false
	}
	if _, ok := f.queued[id]; ok {
		return false
	}
	if f.ledger != nil && f.ledger.Seen(id) {
		return false
	}
	f.queue = append(f.queue, FrontierEntry{ID: id, Depth: depth})
	f.queued[id] = struct{}{}
	return true
}

// Dequeue removes and returns the oldest entry.
func (f *Frontier) Dequeue() (FrontierEntry, bool) {
	if len(f.queue) == 0 {
		return FrontierEntry{}, false
	}
	e := f.queue[0]
	f.queue[0] = FrontierEntry{}
	f.queue = f.queue[1:]
	delete(f.queued, e.ID)
	return e, true
}

// Requeue puts a just dequeued entry back at the head of the queue. The same
// dedup rules as Enqueue apply.
func (f *Frontier) Requeue(e FrontierEntry) bool {
	if _, ok := f.queued[e.ID]; ok {
		return false
	}
	if f.ledger != nil && f.ledger.Seen(e.ID) {
		return false
	}
	f.queue = append([]FrontierEntry{e}, f.queue...)
	f.queued[e.ID] = struct{}{}
	return true
}

// Peek returns the oldest entry without removing it.
func (f *Frontier) Peek() (FrontierEntry, bool) {
	if len(f.queue) == 0 {
		return FrontierEntry{}, false
	}
	return f.queue[0], true
}

// Contains reports whether id is currently queued.
func (f *Frontier) Contains(id string) bool {
	_, ok := f.queued[id]
	return ok
}

func (f *Frontier) Len() int { return len(f.queue) }

func (f *Frontier) IsEmpty() bool { return len(f.queue) == 0 }

// Entries returns a copy of the queue in order.
func (f *Frontier) Entries() []FrontierEntry {
	out := make([]FrontierEntry, len(f.queue))
	copy(out, f.queue)
	return out
}

// Restore enqueues checkpointed entries in order through the normal dedup
// rules and returns how many were accepted.
func (f *Frontier) Restore(entries []FrontierEntry) int {
	n := 0
	for _, e := range entries {
		if f.Enqueue(e.ID, e.Depth) {
			n++
		}
	}
	return n
}
