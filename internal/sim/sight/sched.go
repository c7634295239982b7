package sight

import (
	"container/heap"
	"time"
)

// schedule is a min-heap of (due time, agent) slots. One loop pops due
// entries and re-pushes them, so N agents cost one timer, not N.
type schedule struct {
	entries schedHeap
	seq     uint64
}

type schedEntry struct {
	due   time.Time
	seq   uint64
	agent string
}

type schedHeap []schedEntry

func (h schedHeap) Len() int { return len(h) }

func (h schedHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h schedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *schedHeap) Push(x any) { *h = append(*h, x.(schedEntry)) }

func (h *schedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

func (s *schedule) push(agent string, due time.Time) {
	s.seq++
	heap.Push(&s.entries, schedEntry{due: due, seq: s.seq, agent: agent})
}

// popDue returns the next agent whose time has come, or "" when none is
// due. Entries for agents that detached since scheduling are skipped by the
// caller.
func (s *schedule) popDue(now time.Time) (string, bool) {
	for s.entries.Len() > 0 {
		if s.entries[0].due.After(now) {
			return "", false
		}
		e := heap.Pop(&s.entries).(schedEntry)
		return e.agent, true
	}
	return "", false
}
