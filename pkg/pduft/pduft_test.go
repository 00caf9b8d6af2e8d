package pduft

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsneelam1981/rlite/pkg/dtp"
)

type fakeLowerFlow struct{ id string }

func (f *fakeLowerFlow) Write(ctx context.Context, buf *dtp.Buffer, mayBlock bool) error {
	return nil
}
func (f *fakeLowerFlow) TxWait() <-chan struct{} { return nil }

func TestSetLookup_RoundTrip(t *testing.T) {
	tbl := New()
	lf := &fakeLowerFlow{id: "a"}

	tbl.Set(42, lf)

	got, ok := tbl.Lookup(42)
	require.True(t, ok)
	assert.Same(t, lf, got)
}

func TestDel_RemovesEntry(t *testing.T) {
	tbl := New()
	lf := &fakeLowerFlow{id: "a"}
	tbl.Set(42, lf)

	tbl.Del(42)

	_, ok := tbl.Lookup(42)
	assert.False(t, ok)
}

func TestFlush_RemovesAllEntries(t *testing.T) {
	tbl := New()
	tbl.Set(1, &fakeLowerFlow{})
	tbl.Set(2, &fakeLowerFlow{})

	tbl.Flush()

	_, ok1 := tbl.Lookup(1)
	_, ok2 := tbl.Lookup(2)
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.Equal(t, 0, len(tbl.Dump()))
}

func TestSet_Idempotent(t *testing.T) {
	tbl := New()
	lf := &fakeLowerFlow{}

	tbl.Set(7, lf)
	tbl.Set(7, lf)

	dump := tbl.Dump()
	count := 0
	for _, e := range dump {
		if e.Address == 7 {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSet_MovesOwnership(t *testing.T) {
	tbl := New()
	lfA := &fakeLowerFlow{id: "a"}
	lfB := &fakeLowerFlow{id: "b"}

	tbl.Set(7, lfA)
	tbl.Set(7, lfB)

	got, ok := tbl.Lookup(7)
	require.True(t, ok)
	assert.Same(t, lfB, got)

	tbl.DelAllOwnedBy(lfA)
	_, stillThere := tbl.Lookup(7)
	assert.True(t, stillThere, "route now owned by lfB must survive lfA's cleanup")
}

func TestDelAllOwnedBy_RemovesEveryRouteForThatFlow(t *testing.T) {
	tbl := New()
	lf := &fakeLowerFlow{}
	other := &fakeLowerFlow{}
	tbl.Set(1, lf)
	tbl.Set(2, lf)
	tbl.Set(3, other)

	tbl.DelAllOwnedBy(lf)

	_, ok1 := tbl.Lookup(1)
	_, ok2 := tbl.Lookup(2)
	_, ok3 := tbl.Lookup(3)
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.True(t, ok3)
}

func TestLookup_Miss(t *testing.T) {
	tbl := New()
	_, ok := tbl.Lookup(99)
	assert.False(t, ok)
}
