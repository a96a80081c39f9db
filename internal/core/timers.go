package core

import (
	"container/heap"
	"slices"
	"time"
)

// timerSnapshot is the scheduling metadata captured when a timer is armed.
// Firing uses the snapshot, so an edit that re-arms the timer takes effect
// on the very next firing.
type timerSnapshot struct {
	Name     string
	Command  string
	Schedule *Schedule
}

type timerEntry struct {
	taskID   string
	nextFire time.Time
	snap     timerSnapshot
	seq      uint64
	index    int
}

// timerHeap implements heap.Interface ordered by fire time, ties broken by task ID.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return entryBefore(h[i], h[j])
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[0 : n-1]
	return e
}

func entryBefore(a, b *timerEntry) bool {
	if a.nextFire.Equal(b.nextFire) {
		return a.taskID < b.taskID
	}
	return a.nextFire.Before(b.nextFire)
}

// timerRegistry maps task IDs to their pending fire instant.
// It is not safe for concurrent use; the Scheduler serializes access.
type timerRegistry struct {
	heap timerHeap
	byID map[string]*timerEntry
	seq  uint64
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{byID: make(map[string]*timerEntry)}
}

// upsert arms or re-arms the timer for taskID and returns the entry's sequence number.
func (r *timerRegistry) upsert(taskID string, nextFire time.Time, snap timerSnapshot) uint64 {
	r.seq++
	if e, ok := r.byID[taskID]; ok {
		e.nextFire = nextFire
		e.snap = snap
		e.seq = r.seq
		heap.Fix(&r.heap, e.index)
		return e.seq
	}
	e := &timerEntry{taskID: taskID, nextFire: nextFire, snap: snap, seq: r.seq}
	heap.Push(&r.heap, e)
	r.byID[taskID] = e
	return e.seq
}

// remove drops the timer for taskID. Absent IDs are a no-op.
func (r *timerRegistry) remove(taskID string) bool {
	e, ok := r.byID[taskID]
	if !ok {
		return false
	}
	heap.Remove(&r.heap, e.index)
	delete(r.byID, taskID)
	return true
}

func (r *timerRegistry) get(taskID string) (*timerEntry, bool) {
	e, ok := r.byID[taskID]
	return e, ok
}

// peekDue returns the IDs of every entry due at now, earliest first.
func (r *timerRegistry) peekDue(now time.Time) []string {
	var due []*timerEntry
	for _, e := range r.heap {
		if !e.nextFire.After(now) {
			due = append(due, e)
		}
	}
	slices.SortFunc(due, func(a, b *timerEntry) int {
		switch {
		case entryBefore(a, b):
			return -1
		case entryBefore(b, a):
			return 1
		default:
			return 0
		}
	})
	ids := make([]string, len(due))
	for i, e := range due {
		ids[i] = e.taskID
	}
	return ids
}

// earliest returns the smallest fire instant, or false when the registry is empty.
func (r *timerRegistry) earliest() (time.Time, bool) {
	if len(r.heap) == 0 {
		return time.Time{}, false
	}
	return r.heap[0].nextFire, true
}

func (r *timerRegistry) size() int {
	return len(r.heap)
}

// entries returns copies of all entries in fire order.
func (r *timerRegistry) entries() []timerEntry {
	out := make([]timerEntry, 0, len(r.heap))
	for _, e := range r.heap {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b timerEntry) int {
		switch {
		case entryBefore(&a, &b):
			return -1
		case entryBefore(&b, &a):
			return 1
		default:
			return 0
		}
	})
	return out
}

func (r *timerRegistry) clear() {
	r.heap = nil
	r.byID = make(map[string]*timerEntry)
}
