// Package rmt implements the Relaying and Multiplexing Task: the single
// transmit chokepoint through which every PDU leaving an IPCP instance
// passes, selecting an egress N-1 flow via the PDU forwarding table,
// looping SDUs back to the local receive pipeline for self-addressed
// traffic, and absorbing transient backpressure in a bounded deferred
// queue (§4.4).
package rmt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/samsneelam1981/rlite/pkg/dtp"
	"github.com/samsneelam1981/rlite/pkg/pduft"
)

// Loopback is the narrow interface RMT uses to hand a PDU addressed to
// this IPCP's own address back into its receive pipeline (normal.c
// rmt_tx's "ipcp->ops.sdu_rx(ipcp, rb)" branch).
type Loopback interface {
	SduRx(ctx context.Context, buf *dtp.Buffer) error
}

type queuedPDU struct {
	flow dtp.LowerFlow
	buf  *dtp.Buffer
}

// RMT is one IPCP instance's relaying task.
type RMT struct {
	OwnAddr  uint64
	Table    *pduft.Table
	Loopback Loopback

	mu sync.Mutex
	q  []queuedPDU

	dropLimiter *rate.Limiter // rate-limits "host unreachable"/"queue overrun" logs
}

// New constructs an RMT bound to table and addressed at ownAddr.
// Loopback is wired in after construction, since the IPCP that embeds
// it is usually what implements Loopback and needs the RMT to exist
// first (see ipcp.New).
func New(ownAddr uint64, table *pduft.Table) *RMT {
	return &RMT{
		OwnAddr:     ownAddr,
		Table:       table,
		dropLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Transmit is dtp.Transmitter: select an egress lower flow for destAddr
// via the forwarding table, or loop back if destAddr is this IPCP's own
// address and no more specific route exists (§4.4, normal.c rmt_tx).
func (r *RMT) Transmit(ctx context.Context, destAddr uint64, buf *dtp.Buffer, mayBlock bool) error {
	lf, ok := r.Table.Lookup(destAddr)
	if !ok {
		if destAddr != r.OwnAddr {
			buf.Free()
			if r.dropLimiter.Allow() {
				slog.Debug("rmt: no route, dropping pdu", "dest", destAddr)
			}
			return errors.Wrapf(dtp.ErrHostUnreachable, "no route to %d", destAddr)
		}
		if r.Loopback == nil {
			buf.Free()
			return errors.Wrap(dtp.ErrHostUnreachable, "loopback not wired")
		}
		return r.Loopback.SduRx(ctx, buf)
	}

	for {
		err := lf.Write(ctx, buf, mayBlock)
		if err == nil {
			return nil
		}
		if !errors.Is(err, dtp.ErrWouldBlock) {
			return err
		}
		if !mayBlock {
			return r.enqueue(lf, buf)
		}
		select {
		case <-lf.TxWait():
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// enqueue appends buf to the shared deferred-transmission queue
// (RMTQMaxLen = 64, §4.4, normal.c's lower_ipcp->rmtq) and arranges for
// it to be retried once lf next signals writability. Overrun drops the
// PDU, matching "rmtq overrun: dropping PDU".
func (r *RMT) enqueue(lf dtp.LowerFlow, buf *dtp.Buffer) error {
	r.mu.Lock()
	if len(r.q) >= dtp.RMTQMaxLen {
		r.mu.Unlock()
		buf.Free()
		if r.dropLimiter.Allow() {
			slog.Warn("rmt: deferred queue overrun, dropping pdu")
		}
		return nil
	}
	r.q = append(r.q, queuedPDU{flow: lf, buf: buf})
	r.mu.Unlock()

	go r.waitAndDrain(lf)
	return nil
}

// waitAndDrain blocks until lf signals writability, then retries every
// queued PDU addressed to lf, in FIFO order.
func (r *RMT) waitAndDrain(lf dtp.LowerFlow) {
	<-lf.TxWait()

	r.mu.Lock()
	var mine, rest []queuedPDU
	for _, e := range r.q {
		if e.flow == lf {
			mine = append(mine, e)
		} else {
			rest = append(rest, e)
		}
	}
	r.q = rest
	r.mu.Unlock()

	for _, e := range mine {
		if err := lf.Write(context.Background(), e.buf, false); err != nil {
			if errors.Is(err, dtp.ErrWouldBlock) {
				r.enqueue(lf, e.buf)
				continue
			}
			slog.Debug("rmt: deferred retransmit failed", "err", err)
			e.buf.Free()
		}
	}
}

// QueueLen reports the current deferred-queue depth, for tests and
// invariant checks (§8).
func (r *RMT) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.q)
}
