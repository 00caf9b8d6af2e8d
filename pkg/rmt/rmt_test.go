package rmt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsneelam1981/rlite/pkg/dtp"
	"github.com/samsneelam1981/rlite/pkg/pduft"
)

type recordingLowerFlow struct {
	written []*dtp.Buffer
	block   bool
	wait    chan struct{}
}

func (f *recordingLowerFlow) Write(ctx context.Context, buf *dtp.Buffer, mayBlock bool) error {
	if f.block && !mayBlock {
		return dtp.ErrWouldBlock
	}
	f.written = append(f.written, buf)
	return nil
}

func (f *recordingLowerFlow) TxWait() <-chan struct{} {
	if f.wait == nil {
		f.wait = make(chan struct{})
	}
	return f.wait
}

type recordingLoopback struct {
	received []*dtp.Buffer
}

func (l *recordingLoopback) SduRx(ctx context.Context, buf *dtp.Buffer) error {
	l.received = append(l.received, buf)
	return nil
}

// TestTransmit_ForwardingMiss covers scenario 6: with an empty
// forwarding table and a non-local destination, Transmit must fail
// with ErrHostUnreachable and never touch a lower flow.
func TestTransmit_ForwardingMiss(t *testing.T) {
	table := pduft.New()
	r := New(42, table)
	lb := &recordingLoopback{}
	r.Loopback = lb

	buf := dtp.WrapPayload([]byte("x"), 16)
	err := r.Transmit(context.Background(), 99, buf, false)

	require.Error(t, err)
	assert.ErrorIs(t, err, dtp.ErrHostUnreachable)
	assert.Empty(t, lb.received)
}

func TestTransmit_LoopbackForOwnAddress(t *testing.T) {
	table := pduft.New()
	r := New(42, table)
	lb := &recordingLoopback{}
	r.Loopback = lb

	buf := dtp.WrapPayload([]byte("x"), 16)
	err := r.Transmit(context.Background(), 42, buf, false)

	require.NoError(t, err)
	require.Len(t, lb.received, 1)
	assert.Same(t, buf, lb.received[0])
}

func TestTransmit_RoutesViaForwardingTable(t *testing.T) {
	table := pduft.New()
	r := New(1, table)
	lf := &recordingLowerFlow{}
	table.Set(2, lf)

	buf := dtp.WrapPayload([]byte("x"), 16)
	require.NoError(t, r.Transmit(context.Background(), 2, buf, false))

	require.Len(t, lf.written, 1)
	assert.Same(t, buf, lf.written[0])
}

func TestTransmit_DefersWhenLowerFlowBlocked(t *testing.T) {
	table := pduft.New()
	r := New(1, table)
	lf := &recordingLowerFlow{block: true}
	table.Set(2, lf)

	buf := dtp.WrapPayload([]byte("x"), 16)
	require.NoError(t, r.Transmit(context.Background(), 2, buf, false))

	assert.Equal(t, 1, r.QueueLen())
	assert.Empty(t, lf.written)
}
