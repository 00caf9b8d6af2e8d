// Package ipcp implements the normal IPC process instance (C0): the
// management-plane-facing Core API that owns an address, a PDU
// forwarding table, a relaying task, and the set of active DTP flows
// keyed by local CEP-id (§6.2, normal.c's normal_factory ops table).
package ipcp

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/samsneelam1981/rlite/pkg/dtp"
	"github.com/samsneelam1981/rlite/pkg/pduft"
	"github.com/samsneelam1981/rlite/pkg/rmt"
)

// MgmtRoutingType selects how MgmtSduWrite picks an egress N-1 flow
// (normal.c rlite_normal_mgmt_sdu_write's mhdr->type).
type MgmtRoutingType int

const (
	// MgmtRouteByDestAddr routes via the forwarding table, like a data
	// PDU would.
	MgmtRouteByDestAddr MgmtRoutingType = iota
	// MgmtRouteByLocalPort routes directly over a specific already-
	// allocated N-1 flow. Out of scope here: this IPCP has no local-port
	// registry of raw N-1 flows independent of the forwarding table
	// (§1 Non-goals exclude the wider flow-allocation/port machinery),
	// so this routing type always fails with ErrInvalidArgument.
	MgmtRouteByLocalPort
)

// MgmtHeader mirrors struct rlite_mgmt_hdr's routing fields.
type MgmtHeader struct {
	Type         MgmtRoutingType
	RemoteAddr   uint64
	LocalPortRef uint64
}

// IPCP is one normal IPC process instance.
type IPCP struct {
	mu   sync.RWMutex
	addr uint64

	flavour dtp.Flavour
	table   *pduft.Table
	rmt     *rmt.RMT

	flowsByCEP map[uint64]*dtp.Flow
	nextCEP    uint64
}

// New constructs an IPCP instance (normal.c rlite_normal_create). addr
// is the initial own address; Config("address", ...) may change it
// later.
func New(addr uint64, flavour dtp.Flavour) *IPCP {
	ip := &IPCP{
		addr:       addr,
		flavour:    flavour,
		table:      pduft.New(),
		flowsByCEP: make(map[uint64]*dtp.Flow),
	}
	ip.rmt = rmt.New(addr, ip.table)
	ip.rmt.Loopback = ip
	return ip
}

// Destroy tears down every flow and clears the forwarding table
// (normal.c rlite_normal_destroy).
func (ip *IPCP) Destroy() {
	ip.mu.Lock()
	flows := make([]*dtp.Flow, 0, len(ip.flowsByCEP))
	for _, f := range ip.flowsByCEP {
		flows = append(flows, f)
	}
	ip.flowsByCEP = make(map[uint64]*dtp.Flow)
	ip.mu.Unlock()

	for _, f := range flows {
		f.Destroy()
	}
	ip.table.Flush()
}

// Config applies a single named configuration parameter (normal.c
// rlite_normal_config). Only "address" is recognised.
func (ip *IPCP) Config(paramName, paramValue string) error {
	if paramName != "address" {
		return errors.Wrapf(dtp.ErrInvalidArgument, "unknown config parameter %q", paramName)
	}
	addr, err := strconv.ParseUint(paramValue, 10, 64)
	if err != nil {
		return errors.Wrapf(dtp.ErrInvalidArgument, "bad address %q", paramValue)
	}
	ip.mu.Lock()
	ip.addr = addr
	ip.rmt.OwnAddr = addr
	ip.mu.Unlock()
	slog.Info("ipcp: address set", "addr", addr)
	return nil
}

// Addr returns the IPCP's own address.
func (ip *IPCP) Addr() uint64 {
	ip.mu.RLock()
	defer ip.mu.RUnlock()
	return ip.addr
}

// Table exposes the forwarding table for pduft_set/del/flush callers
// that want to address a lower flow directly (e.g. the demo harness
// wiring an in-memory loopback pair).
func (ip *IPCP) Table() *pduft.Table { return ip.table }

// RMT exposes the relaying task, mainly so tests can inspect its
// deferred-queue depth.
func (ip *IPCP) RMT() *rmt.RMT { return ip.rmt }

// FlowInit allocates and initializes a new DTP flow bound to this IPCP
// (normal.c rlite_normal_flow_init), keyed by a freshly assigned local
// CEP-id. The RMT is wired in as the flow's Transmitter.
func (ip *IPCP) FlowInit(remoteCEP, remoteAddr, qosID uint64, cfg dtp.FlowConfig, upper dtp.UpperConsumer) *dtp.Flow {
	ip.mu.Lock()
	localCEP := ip.nextCEP
	ip.nextCEP++
	ownAddr := ip.addr
	ip.mu.Unlock()

	f := dtp.NewFlow(localCEP, remoteCEP, remoteAddr, qosID, cfg, ownAddr, ip.flavour, ip.rmt, upper)
	f.Init()

	ip.mu.Lock()
	ip.flowsByCEP[localCEP] = f
	ip.mu.Unlock()

	return f
}

// FlowDestroy tears down a single flow and removes it from the CEP
// index. The forwarding table is left as it is: its entries route to
// lower flows, so a DTP flow owns none of them.
func (ip *IPCP) FlowDestroy(f *dtp.Flow) {
	ip.mu.Lock()
	delete(ip.flowsByCEP, f.LocalCEP)
	ip.mu.Unlock()

	f.Destroy()
}

// PduftSet installs a forwarding-table route (normal.c
// rlite_normal_pduft_set).
func (ip *IPCP) PduftSet(destAddr uint64, lowerFlow dtp.LowerFlow) {
	ip.table.Set(destAddr, lowerFlow)
}

// PduftDel removes a single forwarding-table route (normal.c
// rlite_normal_pduft_del).
func (ip *IPCP) PduftDel(destAddr uint64) {
	ip.table.Del(destAddr)
}

// PduftFlush removes every forwarding-table route (normal.c
// rlite_normal_pduft_flush).
func (ip *IPCP) PduftFlush() {
	ip.table.Flush()
}

// MgmtSduWrite addresses and sends a management SDU (normal.c
// rlite_normal_mgmt_sdu_write): the caller supplies a raw payload
// already wrapped as a Buffer with header room reserved.
func (ip *IPCP) MgmtSduWrite(ctx context.Context, mhdr MgmtHeader, buf *dtp.Buffer) error {
	if mhdr.Type != MgmtRouteByDestAddr {
		return errors.Wrap(dtp.ErrInvalidArgument, "unsupported mgmt routing type")
	}

	ip.mu.RLock()
	ownAddr := ip.addr
	ip.mu.RUnlock()

	pci := &dtp.PCI{
		DstAddr: mhdr.RemoteAddr,
		SrcAddr: ownAddr,
		Type:    dtp.PDUTypeMGMT,
		PDULen:  uint64(buf.Len() + ip.flavour.HeaderLen()),
	}
	if err := ip.flavour.PushPCI(buf, pci); err != nil {
		return err
	}
	return ip.rmt.Transmit(ctx, mhdr.RemoteAddr, buf, false)
}

// SduWrite sends a single SDU on flow (normal.c rlite_normal_sdu_write,
// minus the backpressure/retry plumbing that lives in dtp.Flow.Send).
func (ip *IPCP) SduWrite(ctx context.Context, f *dtp.Flow, buf *dtp.Buffer, mayBlock bool) error {
	return f.Send(ctx, buf, mayBlock)
}

// SduRx is called by a lower flow on receipt of a PDU (normal.c
// rlite_normal_sdu_rx): if it is not addressed to this IPCP it is
// forwarded on; otherwise it is demultiplexed to a flow by destination
// CEP-id and handed to the control or data receive path. SduRx also
// implements rmt.Loopback, so self-addressed PDUs reach here directly.
func (ip *IPCP) SduRx(ctx context.Context, buf *dtp.Buffer) error {
	pci, err := ip.flavour.PeekPCI(buf)
	if err != nil {
		buf.Free()
		return err
	}

	ip.mu.RLock()
	ownAddr := ip.addr
	ip.mu.RUnlock()

	if pci.DstAddr != ownAddr {
		return ip.rmt.Transmit(ctx, pci.DstAddr, buf, false)
	}

	ip.mu.RLock()
	f := ip.flowsByCEP[pci.DstCEP]
	ip.mu.RUnlock()

	if f == nil {
		slog.Debug("ipcp: no flow for cep-id, dropping pdu", "cep", pci.DstCEP)
		buf.Free()
		return nil
	}

	if dtp.IsCtrl(pci.Type) {
		return f.ReceiveCtrl(ctx, buf, pci)
	}
	return f.ReceiveData(ctx, buf, pci)
}

// SduRxConsumed notifies the flow that the upper consumer has finished
// with a delivered SDU (normal.c rlite_normal_sdu_rx_consumed).
func (ip *IPCP) SduRxConsumed(ctx context.Context, f *dtp.Flow, consumedSeq uint64) error {
	return f.ConsumeSDU(ctx, consumedSeq)
}

// FlowGetStats returns a snapshot of f's counters (normal.c
// rlite_normal_flow_get_stats).
func (ip *IPCP) FlowGetStats(f *dtp.Flow) dtp.FlowStats {
	return f.Stats()
}
