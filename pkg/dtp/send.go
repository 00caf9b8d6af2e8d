package dtp

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// backpressured reports whether Send must hold buf rather than transmit
// it now (§4.5 step 3, normal.c:419-423): the send window is closed and
// the closed-window queue is already at capacity, or the retransmission
// queue is already at capacity.
func (f *Flow) backpressured() bool {
	fc := &f.Cfg.DTCP.FC
	if fc.FCType == FCTypeWindow &&
		f.nextSeqNumToSend >= f.sndRWE && f.cwq.len() >= f.maxCwqLen {
		return true
	}
	if f.Cfg.DTCP.RtxControl && f.rtxq.len() >= f.maxRtxqLen {
		return true
	}
	return false
}

// Send hands a single SDU, already wrapped in buf with header room
// reserved ahead of its payload, down through DTP (§4.5). It takes
// ownership of buf: on every return other than ErrWouldBlock the buffer
// has either been transmitted, queued, or freed.
//
// When mayBlock is true and the flow is backpressured, Send waits on
// writeCond until the window reopens or the flow is destroyed, instead
// of returning ErrWouldBlock immediately (normal.c's write-side callers
// retry on -EAGAIN; mayBlock folds that retry loop in here, mirroring
// MAM-SYS-rahio/pkg/rahio/conn.go's Write wait-on-fcCond loop).
func (f *Flow) Send(ctx context.Context, buf *Buffer, mayBlock bool) error {
	f.mu.Lock()

	if f.destroyed {
		f.mu.Unlock()
		buf.Free()
		return errors.Wrap(ErrInvalidArgument, "flow destroyed")
	}

	dtcpPresent := f.Cfg.DTCPPresent
	if dtcpPresent {
		f.timers.rearmSenderInactivity()
	}

	for f.backpressured() {
		if !mayBlock {
			f.mu.Unlock()
			return ErrWouldBlock
		}
		f.writeCond.Wait()
		if f.destroyed {
			f.mu.Unlock()
			buf.Free()
			return errors.Wrap(ErrInvalidArgument, "flow destroyed")
		}
	}

	origLen := buf.Len()
	pci := &PCI{
		DstAddr: f.RemoteAddr,
		SrcAddr: f.ownAddr,
		QoSID:   f.QoSID,
		DstCEP:  f.RemoteCEP,
		SrcCEP:  f.LocalCEP,
		Type:    PDUTypeDT,
		PDULen:  uint64(origLen + f.flavour.HeaderLen()),
		SeqNum:  f.nextSeqNumToSend,
	}
	if f.setDRF {
		pci.Flags |= FlagDRF
	}

	if err := f.flavour.PushPCI(buf, pci); err != nil {
		f.stats.TxErr++
		f.mu.Unlock()
		buf.Free()
		return err
	}

	f.nextSeqNumToSend++
	f.stats.TxPkt++
	f.stats.TxByte += uint64(buf.Len())
	f.setDRF = false

	var toSend *Buffer = buf

	if !dtcpPresent {
		f.sndLWE = f.nextSeqNumToSend
		f.lastSeqNumSent = int64(pci.SeqNum)
	} else {
		fc := &f.Cfg.DTCP.FC
		if fc.FCType == FCTypeWindow {
			if pci.SeqNum >= f.sndRWE {
				// Outside the sender window: queue it; the check above
				// already guarantees room in the cwq (§4.5 step 8).
				f.cwq.push(buf)
				toSend = nil
			} else {
				f.sndLWE = f.nextSeqNumToSend
				f.lastSeqNumSent = int64(pci.SeqNum)
			}
		}

		if toSend != nil && f.Cfg.DTCP.RtxControl {
			f.rtxq.push(toSend, time.Now(), f.rtxTmrInt)
			f.timers.armRtxIfIdle()
		}
	}

	destAddr := f.RemoteAddr
	tx := f.tx
	f.mu.Unlock()

	if toSend == nil {
		return nil
	}
	return tx.Transmit(ctx, destAddr, toSend, mayBlock)
}
