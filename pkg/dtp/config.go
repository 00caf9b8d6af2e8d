package dtp

import "time"

// FlowControlType selects the flow-control policy in effect on a flow.
// Only window-based credit control is implemented; the others are named
// so the dispatch in svUpdate/ReceiveCtrl stays table-driven (§9 policy note).
type FlowControlType int

const (
	FCTypeNone FlowControlType = iota
	FCTypeWindow
)

// AckSubtype is the low two bits of a control PDU's type mask (§6.1).
type AckSubtype uint8

const (
	AckTypeACK AckSubtype = iota
	AckTypeNACK
	AckTypeSACK
	AckTypeSNACK
)

// AllOnesGap is the max_sdu_gap sentinel meaning "unreliable: never drop
// for gap reasons" (§3, §7).
const AllOnesGap uint64 = ^uint64(0)

// MaxRTXQLen is the default bound on the retransmission queue (§4.8, §8).
const MaxRTXQLen = 64

// MaxSeqQLen is the hard bound on the sequencing (reorder) queue (§4.6 step 12, §8).
const MaxSeqQLen = 64

// RMTQMaxLen bounds the RMT's shared deferred-transmission queue (§4.4).
const RMTQMaxLen = 64

// Defaults applied at flow_init when the corresponding config field is
// zero (normal.c:190-231).
const (
	DefaultMPL         = 1000 * time.Millisecond
	DefaultInitialTR   = 1000 * time.Millisecond
	DefaultDataRxmsMax = 10
)

// WindowConfig is the window-flow-control parameter set (fc.cfg.w).
type WindowConfig struct {
	MaxCwqLen      int    // bound on the closed-window queue
	InitialCredit  uint64 // seeds both snd_rwe and rcv_rwe
}

// FCConfig is the flow-control parameter set (dtcp.fc).
type FCConfig struct {
	FCType FlowControlType
	Window WindowConfig
}

// RtxConfig is the retransmission-control parameter set (dtcp.rtx).
type RtxConfig struct {
	InitialTR    time.Duration // initial retransmission interval; 0 -> DefaultInitialTR
	DataRxmsMax  int           // retransmission budget factor; 0 -> DefaultDataRxmsMax
}

// DTCPConfig is the nested dtcp configuration block (§3).
type DTCPConfig struct {
	FlowControl bool
	RtxControl  bool
	InitialA    time.Duration
	FC          FCConfig
	Rtx         RtxConfig
}

// FlowConfig is the relevant subset of per-flow configuration (§3).
type FlowConfig struct {
	DTCPPresent     bool
	InOrderDelivery bool
	MaxSDUGap       uint64 // 0 = reliable, AllOnesGap = unreliable
	DTCP            DTCPConfig
	MPL             time.Duration // Maximum PDU Lifetime; 0 -> DefaultMPL
}
