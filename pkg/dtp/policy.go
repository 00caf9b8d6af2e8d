package dtp

import "log/slog"

// The functions below are the named policy hooks: lost control PDUs,
// negative/selective acknowledgement, and the two inactivity timers are
// each routed through a named function rather than handled inline in
// the data path. None is implemented; each logs at debug level on every
// call so the seam stays visible.

// onLostControlPDU is POL: "lost control PDU" — invoked when a gap is
// observed in the control-PDU sequence space. The control channel has
// no retransmission of its own, so this is a no-op hook.
func onLostControlPDU(flow *Flow, gapFrom, gapTo uint64) {
	slog.Debug("dtp: policy lost-control-pdu",
		"flow", flow.logID(), "from", gapFrom, "to", gapTo)
}

// onNegativeAck handles NACK/SACK/SNACK control PDUs. Recognised but
// not yet implemented.
func onNegativeAck(flow *Flow, sub AckSubtype, c *CtrlPCI) {
	slog.Debug("dtp: policy negative-ack (unimplemented)",
		"flow", flow.logID(), "subtype", sub, "ackNackSeq", c.AckNackSeqNum)
}

// onSenderInactivity is POL: the sender-inactivity timer handler.
// Mirrors normal.c's snd_inact_tmr_cb, which only sets DRF; the rest
// is left as an unimplemented hook.
func onSenderInactivity(flow *Flow) {
	slog.Debug("dtp: sender-inactivity timer fired (stub: set_drf only)",
		"flow", flow.logID())
}

// onReceiverInactivity is POL: the receiver-inactivity timer handler.
// Mirrors normal.c's rcv_inact_tmr_cb, a complete no-op; kept as a
// named hook rather than removed so its absence is visible.
func onReceiverInactivity(flow *Flow) {
	slog.Debug("dtp: receiver-inactivity timer fired (stub: no-op)",
		"flow", flow.logID())
}
