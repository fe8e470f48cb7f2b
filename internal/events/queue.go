package events

import (
	"container/heap"

	"politicalsim/bridge/internal/protocol"
)

// queueEntry is one pending (priority, event) pair awaiting dispatch.
type queueEntry struct {
	priority protocol.Priority
	seq      int64
	event    Event
}

// priorityQueue orders entries by descending priority rank, breaking ties
// by ascending enqueue sequence so equal-priority events stay FIFO.
type priorityQueue []*queueEntry

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].priority.Rank() != q[j].priority.Rank() {
		return q[i].priority.Rank() > q[j].priority.Rank()
	}
	return q[i].seq < q[j].seq
}

func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *priorityQueue) Push(x any) { *q = append(*q, x.(*queueEntry)) }

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

var _ heap.Interface = (*priorityQueue)(nil)
