package events

import (
	"container/heap"
	"time"
)

type deadline struct {
	ref  string
	at   time.Time
	slot int // position in the heap slice, kept current by Swap/Push
}

// deadlines is a min-heap of subscription expiries.
type deadlines []*deadline

func (d deadlines) Len() int           { return len(d) }
func (d deadlines) Less(i, j int) bool { return d[i].at.Before(d[j].at) }

func (d deadlines) Swap(i, j int) {
	d[i], d[j] = d[j], d[i]
	d[i].slot, d[j].slot = i, j
}

func (d *deadlines) Push(x any) {
	dl := x.(*deadline)
	dl.slot = len(*d)
	*d = append(*d, dl)
}

func (d *deadlines) Pop() any {
	last := len(*d) - 1
	dl := (*d)[last]
	(*d)[last] = nil
	*d = (*d)[:last]
	dl.slot = -1
	return dl
}

// expiryQueue tracks one deadline per subscription ref. The manager's lock
// guards it.
type expiryQueue struct {
	heap  deadlines
	byRef map[string]*deadline
}

func newExpiryQueue() *expiryQueue {
	return &expiryQueue{byRef: make(map[string]*deadline)}
}

// push sets ref's deadline; a renewed ref moves instead of duplicating.
func (q *expiryQueue) push(ref string, at time.Time) {
	if dl, ok := q.byRef[ref]; ok {
		dl.at = at
		heap.Fix(&q.heap, dl.slot)
		return
	}
	dl := &deadline{ref: ref, at: at}
	q.byRef[ref] = dl
	heap.Push(&q.heap, dl)
}

func (q *expiryQueue) remove(ref string) {
	if dl, ok := q.byRef[ref]; ok {
		heap.Remove(&q.heap, dl.slot)
		delete(q.byRef, ref)
	}
}

// due pops and returns every ref whose deadline is not after now, soonest first.
func (q *expiryQueue) due(now time.Time) []string {
	var refs []string
	for len(q.heap) > 0 && !q.heap[0].at.After(now) {
		dl := heap.Pop(&q.heap).(*deadline)
		delete(q.byRef, dl.ref)
		refs = append(refs, dl.ref)
	}
	return refs
}

func (q *expiryQueue) len() int { return len(q.heap) }
