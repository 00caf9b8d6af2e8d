package dtp

import "container/heap"

// seqQueue is the sequencing (reorder) queue: out-of-order received
// PDUs awaiting their predecessors (§3, §4.6 step 12). It is sorted
// strictly by ascending sequence number and contains no duplicates.
//
// Modeled on PatrickLi2021-IP-TCP/priorityQueue/pq.go's EarlyArrivalPacket
// heap — the one early-arrival/out-of-order reordering structure in the
// retrieval pack — generalized from a plain byte-payload heap item to
// one carrying a *Buffer.
type seqQueue struct {
	h    seqHeap
	seen map[uint64]struct{}
}

func newSeqQueue() *seqQueue {
	return &seqQueue{seen: make(map[uint64]struct{})}
}

func (q *seqQueue) Len() int { return len(q.h) }

// push inserts b, keyed by b.SeqNum(). Duplicates (a sequence number
// already present) are rejected; the caller frees the buffer. Returns
// false if the queue is already at MaxSeqQLen (caller must drop with a
// rate-limited log, per §4.6 step 12).
func (q *seqQueue) push(b *Buffer) bool {
	if _, dup := q.seen[b.seqNum]; dup {
		return false
	}
	if len(q.h) >= MaxSeqQLen {
		return false
	}
	q.seen[b.seqNum] = struct{}{}
	heap.Push(&q.h, b)
	return true
}

// popReady removes and returns, in ascending sequence-number order, every
// entry whose (seqnum - rcvLWEPriv) <= maxSDUGap, advancing rcvLWEPriv
// past each one as it is popped (§4.6 step 10, normal.c seqq_pop_many).
func (q *seqQueue) popReady(rcvLWEPriv *uint64, maxSDUGap uint64) []*Buffer {
	var out []*Buffer
	for len(q.h) > 0 {
		top := q.h[0]
		if top.seqNum-*rcvLWEPriv > maxSDUGap {
			break
		}
		heap.Pop(&q.h)
		delete(q.seen, top.seqNum)
		*rcvLWEPriv = top.seqNum + 1
		out = append(out, top)
	}
	return out
}

// seqHeap implements container/heap.Interface over *Buffer ordered by
// ascending SeqNum, mirroring priorityQueue.PriorityQueue's Less/Swap/
// Push/Pop shape.
type seqHeap []*Buffer

func (h seqHeap) Len() int            { return len(h) }
func (h seqHeap) Less(i, j int) bool  { return h[i].seqNum < h[j].seqNum }
func (h seqHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *seqHeap) Push(x any) {
	*h = append(*h, x.(*Buffer))
}
func (h *seqHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
