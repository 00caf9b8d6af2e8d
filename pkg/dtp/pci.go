package dtp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// PDU type byte and flag/mask constants (§6.1). Concrete numeric values
// are implementation-defined so long as they are disjoint and stable
// within a deployment; the ACK bit sits outside the two ack-subtype bits
// so an ACK (subtype 0) stays distinguishable from a NACK (subtype 1).
const (
	PDUTypeDT      uint8 = 0x80
	PDUTypeMGMT    uint8 = 0x40
	PDUTypeCtrlMask uint8 = 0xC0

	FlagDRF uint8 = 0x01 // Data Run Flag, bit 0

	CtrlFlagFC  uint8 = 0x04
	CtrlFlagACK uint8 = 0x08
	CtrlAckMask uint8 = 0x03
)

// IsCtrl reports whether a PDU type byte is a control PDU.
func IsCtrl(t uint8) bool { return t&PDUTypeCtrlMask == PDUTypeCtrlMask }

// CtrlType builds a control PDU type byte carrying the given ack
// subtype, optionally OR-ing in the FC bit and the ACK bit.
func CtrlType(withAck bool, sub AckSubtype, withFC bool) uint8 {
	t := PDUTypeCtrlMask
	if withAck {
		t |= CtrlFlagACK | uint8(sub)
	}
	if withFC {
		t |= CtrlFlagFC
	}
	return t
}

// Flavour selects the wire width, in bytes, of each PCI field (§6.1).
// This repo fixes one concrete flavour (DefaultFlavour); the codec
// stays table-driven rather than hardcoding field widths so a
// different deployment's flavour only needs a different Flavour value.
type Flavour struct {
	AddrLen   int // width of destination/source address
	SeqLen    int // width of sequence numbers (data and control)
	PDULenLen int // width of the PDU length field
	CEPLen    int // width of CEP-ids
	QoSLen    int // width of the QoS-id
}

// DefaultFlavour is this repository's concrete wire flavour: 4-byte
// addresses and CEP-ids, 8-byte sequence numbers, 2-byte PDU length,
// 1-byte QoS-id.
var DefaultFlavour = Flavour{AddrLen: 4, SeqLen: 8, PDULenLen: 2, CEPLen: 4, QoSLen: 1}

// HeaderLen returns the size in bytes of the common PCI header under f.
func (f Flavour) HeaderLen() int {
	return f.AddrLen*2 + f.QoSLen + f.CEPLen*2 + 1 /*type*/ + 1 /*flags*/ + f.PDULenLen + f.SeqLen
}

// CtrlExtraLen returns the size of the control-PDU extension fields
// (last-ctrl-seq-received, ack/nack seqnum, new_lwe, new_rwe, my_lwe, my_rwe).
func (f Flavour) CtrlExtraLen() int {
	return f.SeqLen * 6
}

// PCI is the decoded common PDU header (§3, §6.1).
type PCI struct {
	DstAddr uint64
	SrcAddr uint64
	QoSID   uint64
	DstCEP  uint64
	SrcCEP  uint64
	Type    uint8
	Flags   uint8
	PDULen  uint64
	SeqNum  uint64
}

// CtrlPCI extends PCI with the control-PDU fields (§3).
type CtrlPCI struct {
	PCI
	LastCtrlSeqRcvd uint64
	AckNackSeqNum   uint64
	NewLWE          uint64
	NewRWE          uint64
	MyLWE           uint64
	MyRWE           uint64
}

func putUint(b []byte, n int, v uint64) {
	switch n {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func getUint(b []byte, n int) uint64 {
	switch n {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// EncodePCI writes pci into the header area reserved by PushHeader,
// following f's field widths.
func (f Flavour) EncodePCI(hdr []byte, pci *PCI) {
	o := 0
	putUint(hdr[o:], f.AddrLen, pci.DstAddr)
	o += f.AddrLen
	putUint(hdr[o:], f.AddrLen, pci.SrcAddr)
	o += f.AddrLen
	putUint(hdr[o:], f.QoSLen, pci.QoSID)
	o += f.QoSLen
	putUint(hdr[o:], f.CEPLen, pci.DstCEP)
	o += f.CEPLen
	putUint(hdr[o:], f.CEPLen, pci.SrcCEP)
	o += f.CEPLen
	hdr[o] = pci.Type
	o++
	hdr[o] = pci.Flags
	o++
	putUint(hdr[o:], f.PDULenLen, pci.PDULen)
	o += f.PDULenLen
	putUint(hdr[o:], f.SeqLen, pci.SeqNum)
}

// DecodePCI parses hdr (of length f.HeaderLen()) into a PCI.
func (f Flavour) DecodePCI(hdr []byte) (*PCI, error) {
	if len(hdr) < f.HeaderLen() {
		return nil, errors.Wrap(ErrTruncated, "decoding PCI")
	}
	pci := &PCI{}
	o := 0
	pci.DstAddr = getUint(hdr[o:], f.AddrLen)
	o += f.AddrLen
	pci.SrcAddr = getUint(hdr[o:], f.AddrLen)
	o += f.AddrLen
	pci.QoSID = getUint(hdr[o:], f.QoSLen)
	o += f.QoSLen
	pci.DstCEP = getUint(hdr[o:], f.CEPLen)
	o += f.CEPLen
	pci.SrcCEP = getUint(hdr[o:], f.CEPLen)
	o += f.CEPLen
	pci.Type = hdr[o]
	o++
	pci.Flags = hdr[o]
	o++
	pci.PDULen = getUint(hdr[o:], f.PDULenLen)
	o += f.PDULenLen
	pci.SeqNum = getUint(hdr[o:], f.SeqLen)
	return pci, nil
}

// EncodeCtrlExtra writes the control-PDU extension fields following the
// common header.
func (f Flavour) EncodeCtrlExtra(buf []byte, c *CtrlPCI) {
	o := 0
	s := f.SeqLen
	putUint(buf[o:], s, c.LastCtrlSeqRcvd)
	o += s
	putUint(buf[o:], s, c.AckNackSeqNum)
	o += s
	putUint(buf[o:], s, c.NewLWE)
	o += s
	putUint(buf[o:], s, c.NewRWE)
	o += s
	putUint(buf[o:], s, c.MyLWE)
	o += s
	putUint(buf[o:], s, c.MyRWE)
}

// DecodeCtrlExtra parses the control-PDU extension fields from buf.
func (f Flavour) DecodeCtrlExtra(buf []byte, pci PCI) (*CtrlPCI, error) {
	if len(buf) < f.CtrlExtraLen() {
		return nil, errors.Wrap(ErrTruncated, "decoding control PCI extension")
	}
	c := &CtrlPCI{PCI: pci}
	o := 0
	s := f.SeqLen
	c.LastCtrlSeqRcvd = getUint(buf[o:], s)
	o += s
	c.AckNackSeqNum = getUint(buf[o:], s)
	o += s
	c.NewLWE = getUint(buf[o:], s)
	o += s
	c.NewRWE = getUint(buf[o:], s)
	o += s
	c.MyLWE = getUint(buf[o:], s)
	o += s
	c.MyRWE = getUint(buf[o:], s)
	return c, nil
}

// PushPCI reserves header space in b and encodes pci into it. Returns
// ErrNoHeaderSpace if b's reserve is too small.
func (f Flavour) PushPCI(b *Buffer, pci *PCI) error {
	hdr, err := b.PushHeader(f.HeaderLen())
	if err != nil {
		return err
	}
	f.EncodePCI(hdr, pci)
	b.seqNum = pci.SeqNum
	return nil
}

// PushCtrlPCI reserves header space in b for the common header plus the
// control extension and encodes c into it.
func (f Flavour) PushCtrlPCI(b *Buffer, c *CtrlPCI) error {
	total := f.HeaderLen() + f.CtrlExtraLen()
	hdr, err := b.PushHeader(total)
	if err != nil {
		return err
	}
	f.EncodePCI(hdr[:f.HeaderLen()], &c.PCI)
	f.EncodeCtrlExtra(hdr[f.HeaderLen():], c)
	b.seqNum = c.SeqNum
	return nil
}

// PopPCI pops and decodes the common header from b.
func (f Flavour) PopPCI(b *Buffer) (*PCI, error) {
	hdr, err := b.PopHeader(f.HeaderLen())
	if err != nil {
		return nil, err
	}
	return f.DecodePCI(hdr)
}

// PeekPCI decodes the common header from b without advancing its
// payload pointer — used by the receive pipeline to classify a PDU
// before deciding whether to pop it.
func (f Flavour) PeekPCI(b *Buffer) (*PCI, error) {
	return f.DecodePCI(b.Payload())
}

// PopCtrlPCI pops and decodes the common header plus control extension
// from b (the common header must already have been peeked into pci).
func (f Flavour) PopCtrlPCI(b *Buffer, pci PCI) (*CtrlPCI, error) {
	total := f.HeaderLen() + f.CtrlExtraLen()
	hdr, err := b.PopHeader(total)
	if err != nil {
		return nil, err
	}
	return f.DecodeCtrlExtra(hdr[f.HeaderLen():], pci)
}
