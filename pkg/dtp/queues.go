package dtp

import "time"

// rtxQueue is the retransmission queue (§3, §4.3, §4.5 step 9): PDUs
// transmitted but not yet acknowledged, sorted by increasing send
// sequence number with a monotonically non-decreasing expiry along that
// order. A flow sends in strictly increasing sequence order, so a plain
// append-at-tail slice preserves the sort invariant for free; acks only
// ever remove a contiguous prefix (§4.7 step 4), and the retransmission
// timer only ever scans forward from rtxTmrNext.
type rtxQueue struct {
	entries []*Buffer
}

func (q *rtxQueue) len() int { return len(q.entries) }

// push appends a clone of b, due at now+interval.
func (q *rtxQueue) push(b *Buffer, now time.Time, interval time.Duration) *Buffer {
	clone := b.Clone()
	clone.rtxDeadline = now.Add(interval)
	q.entries = append(q.entries, clone)
	return clone
}

// ackUpTo removes every entry with seqnum <= ackSeq, in order, and
// returns the removed entries so the caller can check whether
// rtxTmrNext pointed at one of them.
func (q *rtxQueue) ackUpTo(ackSeq uint64) []*Buffer {
	i := 0
	for i < len(q.entries) && q.entries[i].seqNum <= ackSeq {
		i++
	}
	removed := q.entries[:i]
	q.entries = append([]*Buffer(nil), q.entries[i:]...)
	return removed
}

// head returns the earliest (lowest-seqnum, soonest-due) entry, or nil.
func (q *rtxQueue) head() *Buffer {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

// cwQueue is the closed-window queue (§3, §4.5 step 8): PDUs that
// exceeded the send window, held in FIFO order until it opens. A plain
// slice preserves order (§5 ordering guarantees: "the closed-window
// queue preserves order").
type cwQueue struct {
	entries []*Buffer
}

func (q *cwQueue) len() int { return len(q.entries) }

func (q *cwQueue) push(b *Buffer) { q.entries = append(q.entries, b) }

// popFront removes and returns the head entry, or nil if empty.
func (q *cwQueue) popFront() *Buffer {
	if len(q.entries) == 0 {
		return nil
	}
	b := q.entries[0]
	q.entries = q.entries[1:]
	return b
}
