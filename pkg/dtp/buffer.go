package dtp

import (
	"time"
)

// Buffer is a PDU container with a header-push/pop area, mirroring
// rlite's rlite_buf (§4.1). It keeps no reference count; memory is left
// to the garbage collector (see Free). Unlike a plain []byte it carries
// metadata unrelated to wire content: an expiry used by the
// retransmission queue, an owning flow back-reference, and the sequence
// number the sequencing queue orders by. The queues themselves are
// slices and a heap, not intrusive lists.
type Buffer struct {
	data   []byte // full backing array: [reserved header][payload]
	head   int    // offset of the first live byte (payload pointer)
	tail   int    // offset one past the last live byte

	// Retransmission-queue bookkeeping (§4.3, §9).
	rtxDeadline time.Time
	owner       *Flow

	// seqq ordering key, set on insertion (§4.6 step 12).
	seqNum uint64
}

// NewBuffer allocates a Buffer with dataLen payload bytes and headerRes
// bytes reserved ahead of the payload for header pushes.
func NewBuffer(dataLen, headerRes int) *Buffer {
	b := &Buffer{
		data: make([]byte, headerRes+dataLen),
		head: headerRes,
		tail: headerRes + dataLen,
	}
	return b
}

// WrapPayload builds a Buffer around an existing payload slice, reserving
// headerRes bytes ahead of it for header pushes. The slice is copied so
// the caller's buffer can be reused immediately.
func WrapPayload(payload []byte, headerRes int) *Buffer {
	b := NewBuffer(len(payload), headerRes)
	copy(b.data[b.head:b.tail], payload)
	return b
}

// Payload returns the live byte range (header already popped, if any).
func (b *Buffer) Payload() []byte {
	return b.data[b.head:b.tail]
}

// Len returns the number of live payload bytes.
func (b *Buffer) Len() int {
	return b.tail - b.head
}

// HeaderRoom returns how many bytes are available ahead of head for a
// PushHeader call.
func (b *Buffer) HeaderRoom() int {
	return b.head
}

// PushHeader reserves n bytes immediately before the current payload and
// returns that slice for the caller to fill in. Fails with
// ErrNoHeaderSpace if the reserved area is exhausted.
func (b *Buffer) PushHeader(n int) ([]byte, error) {
	if n > b.head {
		return nil, ErrNoHeaderSpace
	}
	b.head -= n
	return b.data[b.head : b.head+n], nil
}

// PopHeader advances the payload pointer past n header bytes and returns
// them. Fails with ErrTruncated if the buffer is shorter than n.
func (b *Buffer) PopHeader(n int) ([]byte, error) {
	if b.tail-b.head < n {
		return nil, ErrTruncated
	}
	hdr := b.data[b.head : b.head+n]
	b.head += n
	return hdr, nil
}

// Clone makes an independent copy of the buffer's current live bytes,
// reserving the same header room ahead of it. Safe to call from an
// atomic/interrupt-like context: it performs a single allocation and no
// locking of its own.
func (b *Buffer) Clone() *Buffer {
	res := b.head
	n := b.tail - b.head
	c := &Buffer{
		data:        make([]byte, res+n),
		head:        res,
		tail:        res + n,
		rtxDeadline: b.rtxDeadline,
		owner:       b.owner,
		seqNum:      b.seqNum,
	}
	copy(c.data[c.head:c.tail], b.data[b.head:b.tail])
	return c
}

// Free releases the buffer. With Go's GC this is a no-op placeholder;
// call sites still call it so every transfer of ownership is visible
// at the call site.
func (b *Buffer) Free() {}

// SeqNum returns the buffer's recorded sequence number, valid once a
// header has been pushed (PushPCI/PushCtrlPCI, e.g. by Flow.Send) or the
// receive path has recorded it (seqq insertion, delivery upward).
func (b *Buffer) SeqNum() uint64 { return b.seqNum }

// Owner returns the flow this buffer is queued against, if any.
func (b *Buffer) Owner() *Flow { return b.owner }
