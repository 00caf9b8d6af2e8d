package dtp

import (
	"context"
	"sync"
)

// fakeTransmitter is a dtp.Transmitter test double recording every PDU
// handed to it, in order, without actually moving bytes anywhere.
type fakeTransmitter struct {
	mu   sync.Mutex
	sent []*Buffer
}

func (t *fakeTransmitter) Transmit(ctx context.Context, destAddr uint64, buf *Buffer, mayBlock bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, buf)
	return nil
}

func (t *fakeTransmitter) seqNums() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint64, len(t.sent))
	for i, b := range t.sent {
		out[i] = b.seqNum
	}
	return out
}

// fakeUpper is a dtp.UpperConsumer test double recording the sequence
// numbers of delivered SDUs in the order Deliver was called.
type fakeUpper struct {
	mu        sync.Mutex
	delivered []uint64
}

func (u *fakeUpper) Deliver(f *Flow, buf *Buffer) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.delivered = append(u.delivered, buf.SeqNum())
}

func (u *fakeUpper) seqNums() []uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]uint64, len(u.delivered))
	copy(out, u.delivered)
	return out
}

func newTestFlow(cfg FlowConfig, tx Transmitter, upper UpperConsumer) *Flow {
	f := NewFlow(1, 2, 100, 0, cfg, 1, DefaultFlavour, tx, upper)
	f.Init()
	return f
}

func dataBuf(payload string) *Buffer {
	return WrapPayload([]byte(payload), DefaultFlavour.HeaderLen())
}

// buildCtrl constructs a control PDU's wire bytes from c and peeks its
// common header back out, the way ipcp.SduRx would before handing it
// to Flow.ReceiveCtrl.
func buildCtrl(c *CtrlPCI) (*Buffer, *PCI) {
	total := DefaultFlavour.HeaderLen() + DefaultFlavour.CtrlExtraLen()
	buf := NewBuffer(0, total)
	if err := DefaultFlavour.PushCtrlPCI(buf, c); err != nil {
		panic(err)
	}
	pci, err := DefaultFlavour.PeekPCI(buf)
	if err != nil {
		panic(err)
	}
	return buf, pci
}

// dataPDU builds a raw incoming DT PDU with the given seqnum and
// flags, ready to hand to Flow.ReceiveData after peeking.
func dataPDU(seqnum uint64, flags uint8, payload string) (*Buffer, *PCI) {
	buf := WrapPayload([]byte(payload), DefaultFlavour.HeaderLen())
	pci := &PCI{
		DstAddr: 1,
		SrcAddr: 100,
		DstCEP:  1,
		SrcCEP:  2,
		Type:    PDUTypeDT,
		Flags:   flags,
		SeqNum:  seqnum,
	}
	pci.PDULen = uint64(buf.Len() + DefaultFlavour.HeaderLen())
	if err := DefaultFlavour.PushPCI(buf, pci); err != nil {
		panic(err)
	}
	peeked, err := DefaultFlavour.PeekPCI(buf)
	if err != nil {
		panic(err)
	}
	return buf, peeked
}

func reliableWindowConfig(maxCwqLen int, initialCredit uint64) FlowConfig {
	return FlowConfig{
		DTCPPresent:     true,
		InOrderDelivery: true,
		MaxSDUGap:       0,
		DTCP: DTCPConfig{
			FlowControl: true,
			RtxControl:  true,
			FC: FCConfig{
				FCType: FCTypeWindow,
				Window: WindowConfig{MaxCwqLen: maxCwqLen, InitialCredit: initialCredit},
			},
			Rtx: RtxConfig{InitialTR: DefaultInitialTR, DataRxmsMax: DefaultDataRxmsMax},
		},
	}
}
