package state

import "sort"

// CancelEntry is one cancellation counted in a maker's window.
type CancelEntry struct {
	EventID string `json:"event_id"`
	AtMs    uint64 `json:"at_ms"`
}

// Window is a maker's recent cancellations ordered by time, oldest first.
type Window struct {
	Entries []CancelEntry `json:"entries"`
}

// Insert adds e in time order. An entry whose EventID is already present is ignored and
// Insert reports false.
func (w *Window) Insert(e CancelEntry) bool {
	for _, existing := range w.Entries {
		if existing.EventID == e.EventID {
			return false
		}
	}
	// Equal timestamps keep arrival order.
	i := sort.Search(len(w.Entries), func(i int) bool { return w.Entries[i].AtMs > e.AtMs })
	w.Entries = append(w.Entries, CancelEntry{})
	copy(w.Entries[i+1:], w.Entries[i:])
	w.Entries[i] = e
	return true
}

// EvictBefore drops entries older than cutoffMs and returns how many were dropped.
func (w *Window) EvictBefore(cutoffMs uint64) int {
	n := 0
	for n < len(w.Entries) && w.Entries[n].AtMs < cutoffMs {
		n++
	}
	w.Entries = w.Entries[n:]
	return n
}

// Len returns the number of entries.
func (w *Window) Len() int { return len(w.Entries) }

// StartMs is the time of the oldest entry, or 0 for an empty window.
func (w *Window) StartMs() uint64 {
	if len(w.Entries) == 0 {
		return 0
	}
	return w.Entries[0].AtMs
}

// NewestMs is the time of the newest entry, or 0 for an empty window.
func (w *Window) NewestMs() uint64 {
	if len(w.Entries) == 0 {
		return 0
	}
	return w.Entries[len(w.Entries)-1].AtMs
}
