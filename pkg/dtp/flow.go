package dtp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LowerFlow is the narrow interface the core consumes from each N-1
// (lower) IPCP (§6.3). Shims (Ethernet, UDP/IPv4, TCP/IPv4, loopback,
// VM channel) are out of scope and are reached only through this
// interface.
type LowerFlow interface {
	// Write pushes buf to the lower flow. It returns ErrWouldBlock if
	// the lower flow signals backpressure and mayBlock is false; the
	// caller retains ownership of buf in that case.
	Write(ctx context.Context, buf *Buffer, mayBlock bool) error
	// TxWait returns a channel closed/signalled when the flow becomes
	// writable again, for RMT's blocking egress path.
	TxWait() <-chan struct{}
}

// Transmitter is the narrow interface DTP uses to hand PDUs to the RMT
// (§4.4-§4.6): selecting a lower flow by destination address and
// pushing, or looping back to the local receive pipeline.
type Transmitter interface {
	Transmit(ctx context.Context, destAddr uint64, buf *Buffer, mayBlock bool) error
}

// UpperConsumer is the narrow interface DTP delivers in-order SDUs to
// (§2 "upper consumer"). The POSIX-like application API that implements
// it is out of scope (§1).
type UpperConsumer interface {
	Deliver(flow *Flow, buf *Buffer)
}

// Flow is per-direction bidirectional state identified by (local CEP-id,
// remote CEP-id, remote address); it carries configuration and a DTP
// block (§3).
type Flow struct {
	LocalCEP  uint64
	RemoteCEP uint64
	RemoteAddr uint64
	QoSID     uint64

	Cfg FlowConfig

	flavour Flavour
	tx      Transmitter
	upper   UpperConsumer
	ownAddr uint64

	mu sync.Mutex

	// writeCond is signalled whenever backpressure that made Send return
	// ErrWouldBlock might have cleared: the send window opened, the cwq
	// or rtxq drained. Modeled on MAM-SYS-rahio/pkg/rahio/conn.go's
	// fcCond, which wakes blocked Write calls the same way.
	writeCond *sync.Cond

	// Sender sequence state and window edges (§3).
	setDRF           bool
	nextSeqNumToSend uint64
	lastSeqNumSent   int64 // -1 sentinel: nothing sent yet
	sndLWE           uint64
	sndRWE           uint64

	// Receiver sequence state (§3).
	rcvLWE        uint64
	rcvLWEPriv    uint64
	rcvRWE        uint64
	maxSeqNumRcvd int64 // -1 sentinel: nothing received yet
	lastSndDataAck uint64

	// Control-channel sequence counters (§3).
	nextSndCtlSeq       uint64
	lastCtrlSeqNumRcvd  uint64
	haveRcvdCtrl        bool

	cwq  cwQueue
	rtxq rtxQueue
	seqq *seqQueue

	rtxTmrNext *Buffer
	rtxTmrInt  time.Duration
	mplRA      time.Duration

	maxCwqLen  int
	maxRtxqLen int

	timers *timerSet

	stats FlowStats

	dropLimiter *rate.Limiter // rate-limits "dropped/duplicate" logs (§7)

	destroyed bool
}

// NewFlow constructs an uninitialized Flow; call Init before use.
func NewFlow(localCEP, remoteCEP, remoteAddr, qosID uint64, cfg FlowConfig, ownAddr uint64, flavour Flavour, tx Transmitter, upper UpperConsumer) *Flow {
	f := &Flow{
		LocalCEP:   localCEP,
		RemoteCEP:  remoteCEP,
		RemoteAddr: remoteAddr,
		QoSID:      qosID,
		Cfg:        cfg,
		flavour:    flavour,
		tx:         tx,
		upper:      upper,
		ownAddr:    ownAddr,
		seqq:       newSeqQueue(),
		dropLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	f.writeCond = sync.NewCond(&f.mu)
	return f
}

func (f *Flow) logID() string {
	return fmt.Sprintf("cep=%d/%d remote=%d", f.LocalCEP, f.RemoteCEP, f.RemoteAddr)
}

// Init derives mpl_r_a, applies defaults, seeds window edges, and
// installs the three timer callbacks (§4.8, normal.c:193-266).
func (f *Flow) Init() {
	f.setDRF = true
	f.nextSeqNumToSend = 0
	f.sndLWE = 0
	f.sndRWE = 0
	f.lastSeqNumSent = -1
	f.rcvLWE, f.rcvLWEPriv, f.rcvRWE = 0, 0, 0
	f.maxSeqNumRcvd = -1
	f.lastSndDataAck = 0
	f.nextSndCtlSeq, f.lastCtrlSeqNumRcvd = 0, 0
	f.haveRcvdCtrl = false

	mpl := f.Cfg.MPL
	if mpl == 0 {
		mpl = DefaultMPL
	}

	dc := &f.Cfg.DTCP
	if dc.Rtx.InitialTR == 0 {
		dc.Rtx.InitialTR = DefaultInitialTR
	}
	if dc.Rtx.DataRxmsMax == 0 {
		dc.Rtx.DataRxmsMax = DefaultDataRxmsMax
	}

	r := dc.Rtx.InitialTR * time.Duration(dc.Rtx.DataRxmsMax)
	f.mplRA = mpl + r + dc.InitialA

	f.rtxTmrInt = dc.Rtx.InitialTR
	f.rtxTmrNext = nil

	if dc.FC.FCType == FCTypeWindow {
		f.maxCwqLen = dc.FC.Window.MaxCwqLen
		f.sndRWE += dc.FC.Window.InitialCredit
		f.rcvRWE += dc.FC.Window.InitialCredit
	}

	if dc.RtxControl {
		f.maxRtxqLen = MaxRTXQLen
	}

	f.timers = newTimerSet(f)
}

// Destroy cancels all three timers synchronously, drains the three
// queues, and marks the flow dead. It does not touch the forwarding
// table: PDUFT entries route to lower flows (dtp.LowerFlow), not to
// DTP flows, and are removed per lower flow with
// pduft.Table.DelAllOwnedBy.
func (f *Flow) Destroy() {
	f.timers.stopAndWait()

	f.mu.Lock()
	f.cwq = cwQueue{}
	f.rtxq = rtxQueue{}
	f.seqq = newSeqQueue()
	f.destroyed = true
	f.writeCond.Broadcast()
	f.mu.Unlock()
}

// Stats returns a snapshot of the flow's packet/byte counters.
func (f *Flow) Stats() FlowStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// rtxqLen / cwqLen / seqqLen expose queue depths for tests and invariant
// checks (§8).
func (f *Flow) rtxqLen() int { return f.rtxq.len() }
func (f *Flow) cwqLen() int  { return f.cwq.len() }
func (f *Flow) seqqLen() int { return f.seqq.Len() }
