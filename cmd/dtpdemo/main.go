// Command dtpdemo wires two in-process IPCP instances together over an
// in-memory N-1 flow and fronts one of them with a SOCKS5 proxy, so a
// normal browser/curl client can be driven end-to-end through the
// DTP/DTCP/RMT/PDUFT stack without any real network shim. Modeled on
// MAM-SYS-rahio/cmd/client's flag parsing, slog setup, and go-socks5
// wiring.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/armon/go-socks5"

	"github.com/samsneelam1981/rlite/internal/memline"
	"github.com/samsneelam1981/rlite/internal/proxy"
	"github.com/samsneelam1981/rlite/pkg/dtp"
	"github.com/samsneelam1981/rlite/pkg/ipcp"
)

func main() {
	socksAddr := flag.String("socks", "127.0.0.1:1080", "local SOCKS5 listen address")
	addrA := flag.Uint64("addr-a", 1, "client-side IPCP address")
	addrB := flag.Uint64("addr-b", 2, "server-side IPCP address")
	linkCapacity := flag.Int("link-capacity", 16, "in-memory link depth in PDUs, per direction")
	reliable := flag.Bool("reliable", true, "use full DTCP (flow+retransmission control) instead of best-effort")
	initialCredit := flag.Uint64("initial-credit", 8, "window-flow-control initial credit")
	maxCwqLen := flag.Int("max-cwq-len", 16, "closed-window queue bound")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ipA := ipcp.New(*addrA, dtp.DefaultFlavour)
	ipB := ipcp.New(*addrB, dtp.DefaultFlavour)

	link := memline.NewPair(*linkCapacity)
	ipA.Table().Set(*addrB, link.AtoB)
	ipB.Table().Set(*addrA, link.BtoA)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go memline.Pump(ctx, link.AtoB, ipB.SduRx)
	go memline.Pump(ctx, link.BtoA, ipA.SduRx)

	cfg := flowConfig(*reliable, *initialCredit, *maxCwqLen)

	srv, err := socks5.New(&socks5.Config{
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialThroughStack(ipA, ipB, cfg, addr)
		},
	})
	if err != nil {
		slog.Error("dtpdemo: socks5.New failed", "err", err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", *socksAddr)
	if err != nil {
		slog.Error("dtpdemo: listen failed", "addr", *socksAddr, "err", err)
		os.Exit(1)
	}
	slog.Info("dtpdemo: SOCKS5 proxy ready",
		"socks", *socksAddr, "addrA", *addrA, "addrB", *addrB, "reliable", *reliable)

	if err := srv.Serve(ln); err != nil {
		slog.Error("dtpdemo: socks5 server error", "err", err)
		os.Exit(1)
	}
}

// flowConfig builds the per-flow DTP/DTCP configuration for the demo's
// single static tunnel shape: either full window-flow-control plus
// retransmission control, or a best-effort unreliable flow.
func flowConfig(reliable bool, initialCredit uint64, maxCwqLen int) dtp.FlowConfig {
	if !reliable {
		return dtp.FlowConfig{
			DTCPPresent:     false,
			InOrderDelivery: false,
			MaxSDUGap:       dtp.AllOnesGap,
		}
	}
	return dtp.FlowConfig{
		DTCPPresent:     true,
		InOrderDelivery: true,
		MaxSDUGap:       0,
		DTCP: dtp.DTCPConfig{
			FlowControl: true,
			RtxControl:  true,
			InitialA:    0,
			FC: dtp.FCConfig{
				FCType: dtp.FCTypeWindow,
				Window: dtp.WindowConfig{
					MaxCwqLen:     maxCwqLen,
					InitialCredit: initialCredit,
				},
			},
			Rtx: dtp.RtxConfig{
				InitialTR:   dtp.DefaultInitialTR,
				DataRxmsMax: dtp.DefaultDataRxmsMax,
			},
		},
	}
}

// dialThroughStack allocates a matched pair of DTP flows between ipA
// and ipB (standing in for the flow-allocation handshake this repo
// does not implement), then dials addr in the background on ipB's
// side and bridges the two halves.
func dialThroughStack(ipA, ipB *ipcp.IPCP, cfg dtp.FlowConfig, addr string) (net.Conn, error) {
	connA, connB := newFlowPair(ipA, ipB, cfg)

	go func() {
		tcpConn, err := net.Dial("tcp", addr)
		if err != nil {
			slog.Error("dtpdemo: server-side dial failed", "addr", addr, "err", err)
			connB.Close()
			return
		}
		proxy.Bridge(connB, tcpConn)
		connB.Close()
		tcpConn.Close()
	}()

	return connA, nil
}

// newFlowPair creates the server-side flow first so the client-side
// flow can be initialized with the right remote CEP-id, then patches
// the server-side flow's remote CEP-id to match — the manual
// equivalent of what a real flow-allocation exchange would negotiate.
func newFlowPair(ipA, ipB *ipcp.IPCP, cfg dtp.FlowConfig) (*AppConn, *AppConn) {
	connA := newAppConn(ipA)
	connB := newAppConn(ipB)

	flowB := ipB.FlowInit(0, ipA.Addr(), 0, cfg, connB)
	flowA := ipA.FlowInit(flowB.LocalCEP, ipB.Addr(), 0, cfg, connA)
	flowB.RemoteCEP = flowA.LocalCEP

	connA.flow = flowA
	connB.flow = flowB
	return connA, connB
}

// headerRoom is the header space reserved ahead of each written SDU: the
// common data-PDU header (29 bytes under dtp.DefaultFlavour), rounded up.
// Control PDUs (77 bytes of header) are allocated by the DTP engine with
// their own exact room and do not use this constant.
const headerRoom = 64

// AppConn adapts a dtp.Flow to net.Conn so the SOCKS5 library and
// net.Dial-oriented bridging code can treat a RINA flow like any other
// stream, and to dtp.UpperConsumer so delivered SDUs land on a channel
// Read can drain.
type AppConn struct {
	ip   *ipcp.IPCP
	flow *dtp.Flow

	rx      chan []byte
	closed  chan struct{}
	closeFn func()
	readBuf []byte
}

func newAppConn(ip *ipcp.IPCP) *AppConn {
	return &AppConn{
		ip:     ip,
		rx:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// Deliver implements dtp.UpperConsumer: it hands the payload to Read
// and immediately acknowledges consumption, since this demo has no
// separate application-level buffering stage to delay that past.
func (c *AppConn) Deliver(flow *dtp.Flow, buf *dtp.Buffer) {
	payload := append([]byte(nil), buf.Payload()...)
	seq := buf.SeqNum()
	buf.Free()

	select {
	case c.rx <- payload:
	case <-c.closed:
		return
	}
	if err := c.ip.SduRxConsumed(context.Background(), flow, seq); err != nil {
		slog.Debug("dtpdemo: sdu_rx_consumed failed", "err", err)
	}
}

func (c *AppConn) Read(p []byte) (int, error) {
	if len(c.readBuf) == 0 {
		select {
		case b, ok := <-c.rx:
			if !ok {
				return 0, io.EOF
			}
			c.readBuf = b
		case <-c.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *AppConn) Write(p []byte) (int, error) {
	buf := dtp.WrapPayload(p, headerRoom)
	if err := c.ip.SduWrite(context.Background(), c.flow, buf, true); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *AppConn) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	c.ip.FlowDestroy(c.flow)
	return nil
}

func (c *AppConn) LocalAddr() net.Addr  { return flowAddr{cep: c.flow.LocalCEP} }
func (c *AppConn) RemoteAddr() net.Addr { return flowAddr{cep: c.flow.RemoteCEP} }

func (c *AppConn) SetDeadline(t time.Time) error      { return nil }
func (c *AppConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *AppConn) SetWriteDeadline(t time.Time) error { return nil }

// flowAddr is a minimal net.Addr over a DTP CEP-id, since flows have no
// socket address of their own.
type flowAddr struct{ cep uint64 }

func (a flowAddr) Network() string { return "dtp" }
func (a flowAddr) String() string  { return "cep:" + itoa(a.cep) }

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
