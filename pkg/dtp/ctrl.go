package dtp

import (
	"context"
	"log/slog"
	"time"
)

// ctrlPDUAlloc builds a fresh control PDU addressed to this flow's peer,
// stamped with the current window/sequence state (§4.7, normal.c
// ctrl_pdu_alloc). Must be called under f.mu.
func (f *Flow) ctrlPDUAlloc(pduType uint8, ackNackSeqNum uint64) *Buffer {
	c := &CtrlPCI{
		PCI: PCI{
			DstAddr: f.RemoteAddr,
			SrcAddr: f.ownAddr,
			QoSID:   f.QoSID,
			DstCEP:  f.RemoteCEP,
			SrcCEP:  f.LocalCEP,
			Type:    pduType,
			SeqNum:  f.nextSndCtlSeq,
		},
		LastCtrlSeqRcvd: f.lastCtrlSeqNumRcvd,
		AckNackSeqNum:   ackNackSeqNum,
		NewRWE:          f.rcvRWE,
		NewLWE:          f.rcvLWE,
		MyRWE:           f.sndRWE,
		MyLWE:           f.sndLWE,
	}
	f.nextSndCtlSeq++

	total := f.flavour.HeaderLen() + f.flavour.CtrlExtraLen()
	buf := NewBuffer(0, total)
	c.PDULen = uint64(total)
	if err := f.flavour.PushCtrlPCI(buf, c); err != nil {
		slog.Debug("dtp: ctrl pdu alloc failed", "flow", f.logID(), "err", err)
		return nil
	}
	return buf
}

// svUpdate builds the status-vector acknowledgement/flow-control PDU
// that follows a successful receive, per the flow's DTCP configuration
// (§4.7, normal.c sdu_rx_sv_update). Must be called under f.mu, after
// rcv_lwe has already been advanced.
func (f *Flow) svUpdate() *Buffer {
	dc := &f.Cfg.DTCP
	var pduType uint8
	var ackNackSeqNum uint64

	if dc.FlowControl && dc.FC.FCType == FCTypeWindow {
		f.rcvRWE = f.rcvLWE + dc.FC.Window.InitialCredit
	}

	if dc.RtxControl {
		ackNackSeqNum = f.rcvLWE - 1
		pduType = CtrlType(true, AckTypeACK, dc.FlowControl)
	} else if dc.FlowControl {
		pduType = CtrlType(false, 0, true)
	}

	if pduType == 0 {
		return nil
	}
	return f.ctrlPDUAlloc(pduType, ackNackSeqNum)
}

// ReceiveCtrl processes an incoming control PDU whose common header has
// already been peeked into pci (§4.7, normal.c sdu_rx_ctrl). It takes
// ownership of buf.
func (f *Flow) ReceiveCtrl(ctx context.Context, buf *Buffer, pci *PCI) error {
	if !IsCtrl(pci.Type) {
		slog.Debug("dtp: unknown pdu type on ctrl path", "flow", f.logID(), "type", pci.Type)
		buf.Free()
		return nil
	}

	c, err := f.flavour.PopCtrlPCI(buf, *pci)
	if err != nil {
		buf.Free()
		return err
	}

	f.mu.Lock()

	var cwqBatch []*Buffer
	duplicate := false

	if c.SeqNum > f.lastCtrlSeqNumRcvd+1 {
		onLostControlPDU(f, f.lastCtrlSeqNumRcvd, c.SeqNum)
	} else if f.haveRcvdCtrl && c.SeqNum <= f.lastCtrlSeqNumRcvd {
		duplicate = true
	}

	if !duplicate {
		f.lastCtrlSeqNumRcvd = c.SeqNum
		f.haveRcvdCtrl = true

		if pci.Type&CtrlFlagFC != 0 {
			if c.NewRWE < f.sndRWE {
				slog.Debug("dtp: peer advertised window going backward, ignoring",
					"flow", f.logID(), "sndRWE", f.sndRWE, "newRWE", c.NewRWE)
			} else {
				f.sndRWE = c.NewRWE
				for f.sndLWE < f.sndRWE {
					qb := f.cwq.popFront()
					if qb == nil {
						break
					}
					f.lastSeqNumSent = int64(f.sndLWE)
					f.sndLWE++
					if f.Cfg.DTCP.RtxControl {
						f.rtxq.push(qb, time.Now(), f.rtxTmrInt)
						f.timers.armRtxIfIdle()
					}
					cwqBatch = append(cwqBatch, qb)
				}
			}
		}

		if pci.Type&CtrlFlagACK != 0 {
			switch AckSubtype(pci.Type & CtrlAckMask) {
			case AckTypeACK:
				wasNext := f.rtxTmrNext
				removed := f.rtxq.ackUpTo(c.AckNackSeqNum)
				clearedNext := false
				for _, r := range removed {
					if r == wasNext {
						clearedNext = true
						break
					}
				}
				if clearedNext {
					if head := f.rtxq.head(); head != nil {
						f.timers.rearmRtxAt(head)
					} else {
						f.timers.cancelRtx()
					}
				} else if f.rtxq.len() == 0 {
					f.timers.cancelRtx()
				}
			case AckTypeNACK, AckTypeSACK, AckTypeSNACK:
				onNegativeAck(f, AckSubtype(pci.Type&CtrlAckMask), c)
			}
		}
	}

	f.writeCond.Broadcast()
	destAddr := f.RemoteAddr
	tx := f.tx
	f.mu.Unlock()

	buf.Free()

	for _, qb := range cwqBatch {
		if tx == nil {
			continue
		}
		if err := tx.Transmit(ctx, destAddr, qb, false); err != nil {
			slog.Debug("dtp: cwq release transmit failed", "flow", f.logID(), "err", err)
		}
	}

	return nil
}
