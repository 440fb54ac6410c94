package scheduler

import (
	"container/heap"
	"sort"
	"time"
)

// pendingQueue is a min-heap of entries ordered by fire time, with an index
// by trigger id. It is not safe for concurrent use; the engine guards it.
type pendingQueue struct {
	items entryHeap
	byID  map[string]*Entry
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{byID: make(map[string]*Entry)}
}

func (q *pendingQueue) Len() int { return len(q.items) }

// Put inserts e, replacing any entry with the same trigger id.
func (q *pendingQueue) Put(e *Entry) {
	if old, ok := q.byID[e.TriggerID]; ok {
		heap.Remove(&q.items, old.index)
	}
	heap.Push(&q.items, e)
	q.byID[e.TriggerID] = e
}

// Remove drops the entry for id and returns it, or nil.
func (q *pendingQueue) Remove(id string) *Entry {
	e, ok := q.byID[id]
	if !ok {
		return nil
	}
	heap.Remove(&q.items, e.index)
	delete(q.byID, id)
	return e
}

func (q *pendingQueue) Get(id string) *Entry {
	return q.byID[id]
}

// Peek returns the earliest entry without removing it.
func (q *pendingQueue) Peek() *Entry {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// PopDue removes and returns every entry due at or before now, earliest
// first.
func (q *pendingQueue) PopDue(now time.Time) []*Entry {
	var due []*Entry
	for len(q.items) > 0 && !q.items[0].At.After(now) {
		e := heap.Pop(&q.items).(*Entry)
		delete(q.byID, e.TriggerID)
		due = append(due, e)
	}
	return due
}

// Snapshot copies the entries in fire-time order.
func (q *pendingQueue) Snapshot() []Entry {
	out := make([]Entry, 0, len(q.items))
	for _, e := range q.items {
		out = append(out, Entry{
			TriggerID:  e.TriggerID,
			ProfileID:  e.ProfileID,
			Expression: e.Expression,
			Timezone:   e.Timezone,
			Args:       e.Args,
			At:         e.At,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].TriggerID < out[j].TriggerID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].At.Equal(h[j].At) {
		return h[i].TriggerID < h[j].TriggerID
	}
	return h[i].At.Before(h[j].At)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
