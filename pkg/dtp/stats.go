package dtp

// FlowStats are the packet/byte counters kept per flow, restored from
// rlite's struct rl_flow_stats (normal.c:1197-1208).
type FlowStats struct {
	TxPkt  uint64
	TxByte uint64
	RxPkt  uint64
	RxByte uint64
	TxErr  uint64
	RxErr  uint64
}
