// Package memline provides an in-memory dtp.LowerFlow implementation:
// a bounded channel standing in for an N-1 shim flow, used by tests and
// the demo harness to connect two IPCP instances without a real
// network shim. Modeled on MAM-SYS-rahio/internal/proxy.Bridge's
// goroutine-per-direction copy, generalized from io.Reader/Writer to
// dtp.LowerFlow's buffer-at-a-time Write/TxWait contract.
package memline

import (
	"context"

	"github.com/samsneelam1981/rlite/pkg/dtp"
)

// Endpoint is one direction of an in-memory wire: a bounded channel of
// PDUs plus a writability signal raised whenever a PDU is drained, for
// callers waiting on TxWait. A Write in mayBlock mode does not use the
// signal; it blocks on the channel itself until there is room or ctx ends.
type Endpoint struct {
	out      chan *dtp.Buffer
	writable chan struct{}
}

// NewEndpoint allocates an endpoint with room for capacity in-flight
// PDUs before Write starts reporting backpressure.
func NewEndpoint(capacity int) *Endpoint {
	return &Endpoint{
		out:      make(chan *dtp.Buffer, capacity),
		writable: make(chan struct{}, 1),
	}
}

// Write implements dtp.LowerFlow.
func (e *Endpoint) Write(ctx context.Context, buf *dtp.Buffer, mayBlock bool) error {
	if !mayBlock {
		select {
		case e.out <- buf:
			return nil
		default:
			return dtp.ErrWouldBlock
		}
	}
	select {
	case e.out <- buf:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TxWait implements dtp.LowerFlow.
func (e *Endpoint) TxWait() <-chan struct{} {
	return e.writable
}

func (e *Endpoint) signalWritable() {
	select {
	case e.writable <- struct{}{}:
	default:
	}
}

// Pair is two endpoints wired head-to-tail, modeling a bidirectional
// in-memory link between two IPCP instances.
type Pair struct {
	AtoB *Endpoint
	BtoA *Endpoint
}

// NewPair allocates a Pair with the given per-direction capacity.
func NewPair(capacity int) *Pair {
	return &Pair{AtoB: NewEndpoint(capacity), BtoA: NewEndpoint(capacity)}
}

// Deliverer is the receiving side of one direction of the link — an
// IPCP's SduRx.
type Deliverer func(ctx context.Context, buf *dtp.Buffer) error

// Pump drains ep, handing each PDU to deliver in order, until ctx is
// cancelled. Run it in its own goroutine, one per direction.
func Pump(ctx context.Context, ep *Endpoint, deliver Deliverer) {
	for {
		select {
		case buf := <-ep.out:
			ep.signalWritable()
			if err := deliver(ctx, buf); err != nil {
				buf.Free()
			}
		case <-ctx.Done():
			return
		}
	}
}
