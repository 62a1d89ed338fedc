package scheduler

import "time"

// entry is the scheduling state of one sequence. Guarded by Scheduler.mu.
type entry struct {
	seq   string
	state State
	// gen invalidates timers armed for an earlier transition.
	gen   uint64
	timer *time.Timer
	// front orders ready entries oldest-first.
	front time.Time
	index int
	// dirty records a Notify that arrived while evaluating.
	dirty    bool
	failures int
}

// readyHeap is a container/heap of due sequences ordered by the enqueue
// time of their front letter, then by sequence ID.
type readyHeap []*entry

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if !h[i].front.Equal(h[j].front) {
		return h[i].front.Before(h[j].front)
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
