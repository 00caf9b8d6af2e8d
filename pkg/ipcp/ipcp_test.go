package ipcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsneelam1981/rlite/internal/memline"
	"github.com/samsneelam1981/rlite/pkg/dtp"
)

type collectingConsumer struct {
	mu       sync.Mutex
	payloads [][]byte
	ip       *IPCP
	flow     *dtp.Flow
}

func (c *collectingConsumer) Deliver(f *dtp.Flow, buf *dtp.Buffer) {
	c.mu.Lock()
	c.payloads = append(c.payloads, append([]byte(nil), buf.Payload()...))
	c.mu.Unlock()
	_ = c.ip.SduRxConsumed(context.Background(), f, buf.SeqNum())
}

func (c *collectingConsumer) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

// TestEndToEnd_ReliableDeliveryAcrossTwoIPCPs wires two IPCP instances
// over an in-memory link and confirms a reliable flow delivers SDUs in
// order end to end, exercising SduWrite/SduRx/PDUFT/RMT together.
func TestEndToEnd_ReliableDeliveryAcrossTwoIPCPs(t *testing.T) {
	ipA := New(1, dtp.DefaultFlavour)
	ipB := New(2, dtp.DefaultFlavour)
	defer ipA.Destroy()
	defer ipB.Destroy()

	link := memline.NewPair(16)
	ipA.Table().Set(2, link.AtoB)
	ipB.Table().Set(1, link.BtoA)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go memline.Pump(ctx, link.AtoB, ipB.SduRx)
	go memline.Pump(ctx, link.BtoA, ipA.SduRx)

	cfg := dtp.FlowConfig{
		DTCPPresent:     true,
		InOrderDelivery: true,
		DTCP: dtp.DTCPConfig{
			FlowControl: true,
			RtxControl:  true,
			FC: dtp.FCConfig{
				FCType: dtp.FCTypeWindow,
				Window: dtp.WindowConfig{MaxCwqLen: 16, InitialCredit: 8},
			},
			Rtx: dtp.RtxConfig{InitialTR: dtp.DefaultInitialTR, DataRxmsMax: dtp.DefaultDataRxmsMax},
		},
	}

	consumer := &collectingConsumer{ip: ipB}
	flowB := ipB.FlowInit(0, ipA.Addr(), 0, cfg, consumer)
	flowA := ipA.FlowInit(flowB.LocalCEP, ipB.Addr(), 0, cfg, nil)
	flowB.RemoteCEP = flowA.LocalCEP
	consumer.flow = flowB

	for _, p := range []string{"hello", "world", "from", "dtp"} {
		buf := dtp.WrapPayload([]byte(p), 64)
		require.NoError(t, ipA.SduWrite(ctx, flowA, buf, true))
	}

	waitFor(t, time.Second, func() bool { return len(consumer.snapshot()) == 4 })

	got := consumer.snapshot()
	want := []string{"hello", "world", "from", "dtp"}
	for i, p := range want {
		assert.Equal(t, p, string(got[i]))
	}
}

// TestPduftRoundTrip_ViaIPCP exercises the forwarding-table invariant
// through the Core API surface: set then lookup returns the flow; del
// or flush clears it.
func TestPduftRoundTrip_ViaIPCP(t *testing.T) {
	ip := New(1, dtp.DefaultFlavour)
	defer ip.Destroy()

	link := memline.NewEndpoint(4)
	ip.PduftSet(2, link)

	got, ok := ip.Table().Lookup(2)
	require.True(t, ok)
	assert.Same(t, link, got)

	ip.PduftDel(2)
	_, ok = ip.Table().Lookup(2)
	assert.False(t, ok)

	ip.PduftSet(3, link)
	ip.PduftFlush()
	_, ok = ip.Table().Lookup(3)
	assert.False(t, ok)
}

func TestConfig_SetsAddress(t *testing.T) {
	ip := New(1, dtp.DefaultFlavour)
	defer ip.Destroy()

	require.NoError(t, ip.Config("address", "7"))
	assert.Equal(t, uint64(7), ip.Addr())

	err := ip.Config("bogus", "x")
	assert.Error(t, err)
}
