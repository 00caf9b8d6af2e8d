package dtp

import (
	"context"
	"log/slog"
)

// ReceiveData processes an incoming data-transfer PDU already identified
// as belonging to this flow, with its common header peeked (not yet
// popped) into pci (§4.6, normal.c rlite_normal_sdu_rx's DT-PDU branch).
// It takes ownership of buf.
func (f *Flow) ReceiveData(ctx context.Context, buf *Buffer, pci *PCI) error {
	seqnum := pci.SeqNum

	f.mu.Lock()

	if f.Cfg.DTCPPresent {
		f.timers.rearmReceiverInactivity()
	}

	if pci.Flags&FlagDRF != 0 {
		// DRF set: either the first PDU of the flow or a new run.
		// Reorder state from any previous run is no longer meaningful.
		f.seqq = newSeqQueue()
		f.rcvLWE = seqnum + 1
		f.rcvLWEPriv = seqnum + 1
		f.maxSeqNumRcvd = int64(seqnum)

		crb := f.svUpdate()
		f.stats.RxPkt++
		f.stats.RxByte += uint64(buf.Len())
		tx, destAddr := f.tx, f.RemoteAddr
		f.mu.Unlock()

		return f.popAndDeliver(ctx, buf, crb, tx, destAddr)
	}

	if seqnum < f.rcvLWEPriv {
		// Duplicate.
		f.stats.RxErr++
		var crb *Buffer
		if f.Cfg.DTCP.FlowControl && f.rcvLWE >= f.lastSndDataAck {
			crb = f.ctrlPDUAlloc(CtrlType(true, AckTypeACK, true), f.rcvLWE)
			if crb != nil {
				f.lastSndDataAck = f.rcvLWE
			}
		}
		tx, destAddr := f.tx, f.RemoteAddr
		f.mu.Unlock()

		buf.Free()
		return f.sendCrb(ctx, crb, tx, destAddr)
	}

	if f.maxSeqNumRcvd < 0 || seqnum > uint64(f.maxSeqNumRcvd) {
		f.maxSeqNumRcvd = int64(seqnum)
	}

	gap := seqnum - f.rcvLWEPriv

	// Gaps are only intolerable when the flow demands ordered/reliable
	// delivery and has no retransmission control to fill them later
	// (§4.6 step 9; normal.c's parallel "a" timeout term is always true
	// in the reference kernel, since that variable is never actually
	// armed there, so it drops out of the condition here). A gap within
	// tolerance still waits in seqq for its predecessors rather than
	// delivering out of order; only an exact-next PDU (gap == 0) goes
	// straight through.
	drop := (f.Cfg.InOrderDelivery || f.Cfg.DTCPPresent) &&
		!f.Cfg.DTCP.RtxControl && gap > f.Cfg.MaxSDUGap
	deliver := !drop && gap == 0

	if deliver {
		f.rcvLWEPriv = seqnum + 1
		popped := f.seqq.popReady(&f.rcvLWEPriv, f.Cfg.MaxSDUGap)

		var crb *Buffer
		if f.upper != nil {
			f.rcvLWE = f.rcvLWEPriv
			crb = f.svUpdate()
		}
		f.stats.RxPkt++
		f.stats.RxByte += uint64(buf.Len())

		tx, destAddr := f.tx, f.RemoteAddr
		f.mu.Unlock()

		if err := f.popAndDeliverNoSend(ctx, buf); err != nil {
			slog.Debug("dtp: pop header failed on in-order deliver", "flow", f.logID(), "err", err)
		}
		for _, qb := range popped {
			if err := f.popAndDeliverNoSend(ctx, qb); err != nil {
				slog.Debug("dtp: pop header failed delivering from seqq", "flow", f.logID(), "err", err)
			}
		}
		return f.sendCrb(ctx, crb, tx, destAddr)
	}

	if drop {
		f.stats.RxErr++
		buf.Free()
	} else {
		buf.seqNum = seqnum
		if !f.seqq.push(buf) {
			if f.dropLimiter.Allow() {
				slog.Warn("dtp: seqq full or duplicate, dropping pdu",
					"flow", f.logID(), "seq", seqnum)
			}
			buf.Free()
		}
		f.stats.RxPkt++
		f.stats.RxByte += uint64(buf.Len())
	}

	crb := f.svUpdate()
	tx, destAddr := f.tx, f.RemoteAddr
	f.mu.Unlock()

	return f.sendCrb(ctx, crb, tx, destAddr)
}

// popAndDeliver pops buf's PCI header and hands the payload to the
// upper consumer, then transmits crb if non-nil.
func (f *Flow) popAndDeliver(ctx context.Context, buf, crb *Buffer, tx Transmitter, destAddr uint64) error {
	if err := f.popAndDeliverNoSend(ctx, buf); err != nil {
		return err
	}
	return f.sendCrb(ctx, crb, tx, destAddr)
}

func (f *Flow) popAndDeliverNoSend(ctx context.Context, buf *Buffer) error {
	pci, err := f.flavour.PopPCI(buf)
	if err != nil {
		buf.Free()
		return err
	}
	// Popping only consumes header bytes; stamp the buffer with its
	// sequence number so the upper consumer can hand it back unchanged
	// to ConsumeSDU once it's done with the payload.
	buf.seqNum = pci.SeqNum
	if f.upper != nil {
		f.upper.Deliver(f, buf)
	}
	return nil
}

func (f *Flow) sendCrb(ctx context.Context, crb *Buffer, tx Transmitter, destAddr uint64) error {
	if crb == nil || tx == nil {
		return nil
	}
	return tx.Transmit(ctx, destAddr, crb, false)
}

// ConsumeSDU is called by the upper consumer once it has finished with a
// delivered SDU, advancing the advertised receive window and emitting
// an ACK/flow-control PDU if the configuration calls for one (§4.6
// "sdu_rx_consumed", normal.c rlite_normal_sdu_rx_consumed). consumedSeq
// is the sequence number of the SDU just consumed.
func (f *Flow) ConsumeSDU(ctx context.Context, consumedSeq uint64) error {
	f.mu.Lock()
	f.rcvLWE = consumedSeq + 1
	crb := f.svUpdate()
	tx, destAddr := f.tx, f.RemoteAddr
	f.mu.Unlock()

	return f.sendCrb(ctx, crb, tx, destAddr)
}
