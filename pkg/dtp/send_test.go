package dtp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSend_InOrderReliableDelivery covers scenario 1: a fully reliable
// window-flow-controlled flow sends four SDUs, all leave immediately,
// and a full ACK drains the retransmission queue and raises the
// window.
func TestSend_InOrderReliableDelivery(t *testing.T) {
	cfg := reliableWindowConfig(8, 4)
	tx := &fakeTransmitter{}
	f := newTestFlow(cfg, tx, nil)
	defer f.Destroy()

	ctx := context.Background()
	for _, p := range []string{"p0", "p1", "p2", "p3"} {
		require.NoError(t, f.Send(ctx, dataBuf(p), false))
	}

	assert.Equal(t, []uint64{0, 1, 2, 3}, tx.seqNums())
	assert.Equal(t, uint64(4), f.sndRWE)
	assert.Equal(t, uint64(4), f.sndLWE)
	assert.Equal(t, 4, f.rtxqLen())

	ackBuf, ackPCI := buildCtrl(&CtrlPCI{
		PCI:           PCI{Type: CtrlType(true, AckTypeACK, true)},
		AckNackSeqNum: 3,
		NewRWE:        8,
	})
	require.NoError(t, f.ReceiveCtrl(ctx, ackBuf, ackPCI))

	assert.Equal(t, 0, f.rtxqLen())
	assert.Nil(t, f.rtxTmrNext)
	assert.Equal(t, uint64(8), f.sndRWE)
}

// TestSend_ClosedWindowQueueing covers scenario 2: sending past the
// window queues the overflow in cwq in order, and a widened window
// drains it into the retransmission queue.
func TestSend_ClosedWindowQueueing(t *testing.T) {
	cfg := reliableWindowConfig(8, 4)
	tx := &fakeTransmitter{}
	f := newTestFlow(cfg, tx, nil)
	defer f.Destroy()

	ctx := context.Background()
	for _, p := range []string{"p0", "p1", "p2", "p3", "p4", "p5"} {
		require.NoError(t, f.Send(ctx, dataBuf(p), false))
	}

	assert.Equal(t, []uint64{0, 1, 2, 3}, tx.seqNums())
	assert.Equal(t, 2, f.cwqLen())
	assert.Equal(t, uint64(4), f.sndLWE)

	fcBuf, fcPCI := buildCtrl(&CtrlPCI{
		PCI:    PCI{Type: CtrlType(false, 0, true)},
		NewRWE: 6,
	})
	require.NoError(t, f.ReceiveCtrl(ctx, fcBuf, fcPCI))

	assert.Equal(t, 0, f.cwqLen())
	assert.Equal(t, uint64(6), f.sndLWE)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4, 5}, tx.seqNums())
	assert.Equal(t, 6, f.rtxqLen())
}

// TestSend_WouldBlockWhenFull checks that a non-blocking send past the
// closed send window, with the closed-window queue already full, returns
// ErrWouldBlock and leaves the queue unchanged.
func TestSend_WouldBlockWhenFull(t *testing.T) {
	cfg := reliableWindowConfig(2, 1)
	tx := &fakeTransmitter{}
	f := newTestFlow(cfg, tx, nil)
	defer f.Destroy()

	ctx := context.Background()
	// seq 0 goes out immediately (within the window of 1).
	require.NoError(t, f.Send(ctx, dataBuf("p0"), false))
	// seq 1, 2 queue into cwq (capacity 2).
	require.NoError(t, f.Send(ctx, dataBuf("p1"), false))
	require.NoError(t, f.Send(ctx, dataBuf("p2"), false))
	// cwq is now full; a further non-blocking send must report backpressure.
	buf := dataBuf("p3")
	err := f.Send(ctx, buf, false)
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.Equal(t, 2, f.cwqLen())
}

// TestErrHostUnreachable_Message checks the ErrHostUnreachable
// sentinel's message. The forwarding-miss scenario itself is covered by
// rmt's TestTransmit_ForwardingMiss against the pduft-backed RMT.
func TestErrHostUnreachable_Message(t *testing.T) {
	err := ErrHostUnreachable
	assert.EqualError(t, err, "dtp: host unreachable")
}
