// Package pduft implements the PDU Forwarding Table: the address to
// lower-flow mapping an RMT consults to select an egress N-1 flow for a
// given destination address (§4.2).
package pduft

import (
	"sync"

	"github.com/google/btree"

	"github.com/samsneelam1981/rlite/pkg/dtp"
)

// entry is the btree.Item backing a single forwarding-table row,
// structurally modeled on normal.c's struct pduft_entry (address, owning
// lower flow, and membership in that flow's entry list). The owning
// flow is an N-1 (lower) flow — dtp.LowerFlow — not a DTP flow of this
// IPCP's own instance.
type entry struct {
	address uint64
	flow    dtp.LowerFlow
}

func (e *entry) Less(than btree.Item) bool {
	return e.address < than.(*entry).address
}

// Table is the forwarding table of a single IPCP instance: one
// btree ordered by destination address, plus a reverse index of which
// addresses each lower flow currently owns so that DelAllOwnedBy can
// clean up in bulk when a lower flow goes down (normal.c's per-flow
// pduft_entries list hung off flow_entry).
//
// Structurally parallel to MAM-SYS-rahio's scheduler package: a narrow,
// separately-packaged piece of routing/scheduling state guarded by its
// own mutex rather than the caller's.
type Table struct {
	mu     sync.Mutex
	tree   *btree.BTree
	owners map[dtp.LowerFlow]map[uint64]struct{}
}

// New constructs an empty forwarding table.
func New() *Table {
	return &Table{
		tree:   btree.New(32),
		owners: make(map[dtp.LowerFlow]map[uint64]struct{}),
	}
}

// Set installs or moves the route to destAddr onto flow (normal.c
// rlite_normal_pduft_set): if destAddr already routes through a
// different flow, that flow's ownership record is updated to drop it.
func (t *Table) Set(destAddr uint64, flow dtp.LowerFlow) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old := t.tree.Get(&entry{address: destAddr}); old != nil {
		oe := old.(*entry)
		if set := t.owners[oe.flow]; set != nil {
			delete(set, destAddr)
		}
	}

	t.tree.ReplaceOrInsert(&entry{address: destAddr, flow: flow})

	set := t.owners[flow]
	if set == nil {
		set = make(map[uint64]struct{})
		t.owners[flow] = set
	}
	set[destAddr] = struct{}{}
}

// Lookup returns the lower flow currently routing destAddr, if any
// (normal.c pduft_lookup_internal).
func (t *Table) Lookup(destAddr uint64) (dtp.LowerFlow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	item := t.tree.Get(&entry{address: destAddr})
	if item == nil {
		return nil, false
	}
	return item.(*entry).flow, true
}

// Del removes a single route (normal.c rlite_normal_pduft_del).
func (t *Table) Del(destAddr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	item := t.tree.Delete(&entry{address: destAddr})
	if item == nil {
		return
	}
	oe := item.(*entry)
	if set := t.owners[oe.flow]; set != nil {
		delete(set, destAddr)
	}
}

// DelAllOwnedBy removes every route currently forwarding through flow,
// used when the underlying N-1 flow is torn down.
func (t *Table) DelAllOwnedBy(flow dtp.LowerFlow) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.owners[flow]
	for addr := range set {
		t.tree.Delete(&entry{address: addr})
	}
	delete(t.owners, flow)
}

// Flush removes every route (normal.c rlite_normal_pduft_flush).
func (t *Table) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tree.Clear(false)
	t.owners = make(map[dtp.LowerFlow]map[uint64]struct{})
}

// Dump returns every (address, flow) pair in ascending address order,
// for introspection/tests.
func (t *Table) Dump() []struct {
	Address uint64
	Flow    dtp.LowerFlow
} {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]struct {
		Address uint64
		Flow    dtp.LowerFlow
	}, 0, t.tree.Len())
	t.tree.Ascend(func(i btree.Item) bool {
		e := i.(*entry)
		out = append(out, struct {
			Address uint64
			Flow    dtp.LowerFlow
		}{Address: e.address, Flow: e.flow})
		return true
	})
	return out
}
