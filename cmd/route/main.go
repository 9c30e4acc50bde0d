//go:build linux

package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/sidd-27/fluxnet/engine"
	"github.com/sidd-27/fluxnet/ifacestat"
	"github.com/sidd-27/fluxnet/packet"
	"github.com/sidd-27/fluxnet/ratelimit"
	"github.com/sidd-27/fluxnet/raw"
	"github.com/sidd-27/fluxnet/ring"
	"github.com/sidd-27/fluxnet/xsk"
)

// Topology:
//
// sender.interface  <->  router.interface1
// router.interface2 <->  receiver.interface
//
// Router:
//   dst IP 10.0.1.x -> out interface1
//   dst IP 10.0.2.x -> out interface2
//   else            -> drop

type Config struct {
	XDPObj  string `yaml:"xdp-obj"`
	XDPProg string `yaml:"xdp-prog"`

	Router struct {
		Interface1     string `yaml:"interface1"`
		Interface2     string `yaml:"interface2"`
		PreferZerocopy bool   `yaml:"prefer-zerocopy"`
		BatchSize      uint32 `yaml:"batch-size"`
	} `yaml:"router"`

	Sender struct {
		Interface      string `yaml:"interface"`
		PreferZerocopy bool   `yaml:"prefer-zerocopy"`
		Queue          uint   `yaml:"queue"`

		DestMAC   string `yaml:"dest-mac"` // MAC of router.interface1
		SrcIP     string `yaml:"src-ip"`
		DstIP     string `yaml:"dst-ip"`
		SrcPort   uint16 `yaml:"src-port"`
		DstPort   uint16 `yaml:"dst-port"`
		BatchSize uint32 `yaml:"batch-size"`
		RatePPS   uint64 `yaml:"rate-pps"` // 0 = unlimited, max speed.
	} `yaml:"sender"`

	Receiver struct {
		Interface      string `yaml:"interface"`
		PreferZerocopy bool   `yaml:"prefer-zerocopy"`
		BatchSize      uint32 `yaml:"batch-size"`
	} `yaml:"receiver"`

	MTU   uint32 `yaml:"mtu"`
	Count uint64 `yaml:"count"`
	Test  bool   `yaml:"test"`
}

func loadConfig() (*Config, error) {
	fConfig := flag.String("config", "route.yaml", "path to config YAML file")
	fMode := flag.String("m", "", "overwrite copy/zc mode for all interfaces")
	fRate := flag.Int64("r", -1, "sender rate limit in PPS (<0 falls back to config)")
	fCount := flag.Uint64("n", 0, "packet count override")
	fMTU := flag.Uint("l", 0, "pkt size override (MTU)")
	fTest := flag.Bool("test", false, "enable test mode (override)")
	fXDPObj := flag.String("xdp-obj", "", "path to a pre-built XDP program object file")
	fXDPProg := flag.String("xdp-prog", "", "entrypoint program name inside -xdp-obj")
	flag.Parse()

	b, err := os.ReadFile(*fConfig)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var conf Config
	if err := yaml.Unmarshal(b, &conf); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	switch *fMode {
	case "copy":
		conf.Sender.PreferZerocopy, conf.Receiver.PreferZerocopy = false, false
		conf.Router.PreferZerocopy = false
	case "zerocopy":
		conf.Sender.PreferZerocopy, conf.Receiver.PreferZerocopy = true, true
		conf.Router.PreferZerocopy = true
	}
	if *fRate >= 0 {
		conf.Sender.RatePPS = uint64(*fRate)
	}
	if *fCount != 0 {
		conf.Count = *fCount
	}
	if *fMTU != 0 {
		conf.MTU = uint32(*fMTU)
	}
	if *fTest {
		conf.Test = true
	}
	if *fXDPObj != "" {
		conf.XDPObj = *fXDPObj
	}
	if *fXDPProg != "" {
		conf.XDPProg = *fXDPProg
	}
	if conf.XDPProg == "" {
		conf.XDPProg = "xdp_sock_prog"
	}

	if conf.Router.Interface1 == "" || conf.Router.Interface2 == "" {
		return nil, errors.New("router.interface1 and router.interface2 must be set")
	}
	if conf.Sender.Interface == "" {
		return nil, errors.New("sender.interface must be set")
	}
	if conf.Receiver.Interface == "" {
		return nil, errors.New("receiver.interface must be set")
	}
	if conf.XDPObj == "" {
		return nil, errors.New("xdp-obj must be set: this module never generates eBPF bytecode")
	}
	if conf.Sender.DestMAC == "" {
		return nil, errors.New("sender.dest-mac must be set (MAC of router.interface1)")
	}
	if _, err := net.ParseMAC(conf.Sender.DestMAC); err != nil {
		return nil, fmt.Errorf("invalid sender.dest-mac %q: %w", conf.Sender.DestMAC, err)
	}
	if conf.Sender.SrcIP == "" || net.ParseIP(conf.Sender.SrcIP) == nil {
		return nil, fmt.Errorf("invalid sender.src-ip %q", conf.Sender.SrcIP)
	}
	if conf.Sender.DstIP == "" || net.ParseIP(conf.Sender.DstIP) == nil {
		return nil, fmt.Errorf("invalid sender.dst-ip %q", conf.Sender.DstIP)
	}
	if conf.Count == 0 {
		return nil, errors.New("count must be > 0")
	}
	if conf.MTU < 64 || conf.MTU > 1500 {
		return nil, errors.New("unsupported mtu")
	}
	if conf.Router.BatchSize == 0 {
		conf.Router.BatchSize = 64
	}
	if conf.Sender.BatchSize == 0 {
		conf.Sender.BatchSize = 64
	}
	if conf.Receiver.BatchSize == 0 {
		conf.Receiver.BatchSize = 64
	}

	return &conf, nil
}

func fatalIf(err error, msgf string, a ...any) {
	if err != nil {
		fmt.Fprintf(os.Stderr, msgf+": %v\n", append(a, err)...)
		os.Exit(1)
	}
}

func mustGetIfaceInfo(name string) (idx int, mac [6]byte) {
	iface, err := net.InterfaceByName(name)
	fatalIf(err, "getting interface %q", name)
	copy(mac[:], iface.HardwareAddr)
	return iface.Index, mac
}

func ipChecksum(buf []byte) uint16 {
	var sum uint32
	for len(buf) > 1 {
		sum += uint32(binary.BigEndian.Uint16(buf))
		buf = buf[2:]
	}
	if len(buf) > 0 {
		sum += uint32(buf[0]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

func buildUDPPacket(
	buf []byte,
	srcMAC, dstMAC net.HardwareAddr,
	srcIP, dstIP net.IP,
	srcPort, dstPort uint16,
	seq uint32,
	pktSize uint32,
) uint32 {
	const ethLen = 14
	const ipLen = 20
	const udpLen = 8

	minSize := uint32(ethLen + ipLen + udpLen + 4)
	if pktSize < minSize {
		pktSize = minSize
	}

	payloadLen := pktSize - (ethLen + ipLen + udpLen)

	copy(buf[0:6], dstMAC)
	copy(buf[6:12], srcMAC)
	buf[12], buf[13] = 0x08, 0x00

	ip := buf[ethLen:]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:], uint16(ipLen+udpLen+payloadLen))
	ip[8], ip[9] = 64, 17
	copy(ip[12:16], srcIP.To4())
	copy(ip[16:20], dstIP.To4())
	binary.BigEndian.PutUint16(ip[10:], ipChecksum(ip[:20]))

	udp := ip[20:]
	binary.BigEndian.PutUint16(udp[0:], srcPort)
	binary.BigEndian.PutUint16(udp[2:], dstPort)
	binary.BigEndian.PutUint16(udp[4:], uint16(udpLen+payloadLen))

	payload := udp[8:]
	binary.BigEndian.PutUint32(payload, seq)

	return pktSize
}

type Stats struct {
	TxPackets   atomic.Uint64
	TxCompleted atomic.Uint64
	TxBytes     atomic.Uint64

	RxPackets atomic.Uint64
	RxBytes   atomic.Uint64

	Elapsed atomic.Int64
}

type TestResult struct {
	Received atomic.Uint64
	Errors   atomic.Uint64
}

const (
	routeDrop = -1
)

// makeRouterHandler builds the routing decision function:
//   - 10.0.1.x -> out interface1 (index if1Index)
//   - 10.0.2.x -> out interface2 (index if2Index), with L2 rewrite
//   - else     -> drop
//
// buf is rewritten in place when routed onto interface2.
func makeRouterHandler(
	if1Index, if2Index int, router2MAC, receiverMAC [6]byte,
) func(buf []byte) int {
	const (
		ethHdrLen = 14
		ipHdrMin  = 20
	)

	return func(buf []byte) int {
		if len(buf) < ethHdrLen+ipHdrMin {
			return routeDrop
		}

		ethType := binary.BigEndian.Uint16(buf[12:14])
		if ethType != 0x0800 {
			return routeDrop
		}

		ip := buf[ethHdrLen:]
		if ip[0]>>4 != 4 {
			return routeDrop
		}

		dst := binary.BigEndian.Uint32(ip[16:20])
		if (dst & 0xFFFF0000) != 0x0A000000 {
			return routeDrop
		}

		switch byte(dst >> 8) {
		case 1:
			return if1Index
		case 2:
			copy(buf[0:6], receiverMAC[:])
			copy(buf[6:12], router2MAC[:])
			return if2Index
		}
		return routeDrop
	}
}

// refillFill tops sock's fill ring up from its own free pool. Needed by
// runRouterLeg since it drives sock's rings directly rather than
// through engine, which does this as part of processBatch.
func refillFill(sock *xsk.Socket) {
	_, fill, _, _ := raw.Rings(sock)
	want := fill.Available()
	if want == 0 {
		return
	}
	guard := fill.Reserve(want)
	n := guard.N()
	var i uint32
	for ; i < n; i++ {
		addr, ok := sock.AllocFrame()
		if !ok {
			break
		}
		guard.Write(i, addr)
	}
	guard.Commit(i)
}

// runRouterLeg drains self's RX ring, decides each packet's outgoing
// interface via handler, and for packets not dropped or destined back
// onto self, copies the frame bytes into a freshly allocated frame on
// peer's UMEM and submits it on peer's TX ring. Packet bytes must be
// copied because self and peer are bound to independent UMEM arenas;
// there is no zero-copy path across two sockets.
func runRouterLeg(
	ctx context.Context,
	self, peer *xsk.Socket,
	selfIndex int,
	handler func([]byte) int,
	batchSize uint32,
) {
	selfRX, _, _, _ := raw.Rings(self)
	selfArena := raw.Arena(self)
	peerArena := raw.Arena(peer)

	for ctx.Err() == nil {
		self.PollCompletions(batchSize)
		peer.PollCompletions(batchSize)

		rxGuard := selfRX.Consume(batchSize)
		n := rxGuard.N()
		if n == 0 {
			rxGuard.Release(0)
			if self.NeedsWakeupRX() {
				_ = self.WakeupRX()
			}
			refillFill(self)
			_ = self.Wait(1)
			continue
		}

		descs := make([]ring.Descriptor, n)
		for i := uint32(0); i < n; i++ {
			descs[i] = rxGuard.Read(i)
		}
		rxGuard.Release(n)

		var forwarded uint32
		_, _, peerTX, _ := raw.Rings(peer)

		for _, d := range descs {
			frame, off := selfArena.FrameAt(d.Addr)
			buf := frame[off : off+int(d.Len)]

			target := handler(buf)
			if target != routeDrop && target != selfIndex {
				addr, ok := peer.AllocFrame()
				if ok {
					pframe, poff := peerArena.FrameAt(addr)
					copy(pframe[poff:], buf)

					txGuard := peerTX.Reserve(1)
					if txGuard.N() == 1 {
						txGuard.Write(0, ring.Descriptor{Addr: addr, Len: d.Len})
						txGuard.Commit(1)
						forwarded++
					} else {
						peer.FreeFrame(addr)
					}
				}
			}
			self.FreeFrame(d.Addr)
		}

		if forwarded > 0 && peer.NeedsWakeupTX() {
			_ = peer.WakeupTX()
		}

		refillFill(self)
	}
}

// runRouter attaches the router's XDP program to both legs and forwards
// between them until ctx is cancelled.
func runRouter(ctx context.Context, conf *Config, spec *ebpf.CollectionSpec, router2MAC, receiverMAC [6]byte) error {
	iface1, err := xsk.MakeInterface(conf.Router.Interface1, xsk.InterfaceConfig{
		PreferZerocopy: conf.Router.PreferZerocopy,
		Program:        spec,
		ProgramName:    conf.XDPProg,
	})
	if err != nil {
		return fmt.Errorf("router iface1: %w", err)
	}
	defer iface1.Close()

	iface2, err := xsk.MakeInterface(conf.Router.Interface2, xsk.InterfaceConfig{
		PreferZerocopy: conf.Router.PreferZerocopy,
		Program:        spec,
		ProgramName:    conf.XDPProg,
	})
	if err != nil {
		return fmt.Errorf("router iface2: %w", err)
	}
	defer iface2.Close()

	if1Index, _ := mustGetIfaceInfo(conf.Router.Interface1)
	if2Index, _ := mustGetIfaceInfo(conf.Router.Interface2)

	sock1, err := iface1.Open(xsk.NewSocketConfig(
		xsk.WithFrames(1024*16, 2048),
		xsk.WithRingSizes(1024*2, 1024*2, 1024*2),
		xsk.WithBatchSize(conf.Router.BatchSize),
	))
	if err != nil {
		return fmt.Errorf("router socket1: %w", err)
	}
	defer sock1.Close()

	sock2, err := iface2.Open(xsk.NewSocketConfig(
		xsk.WithFrames(1024*16, 2048),
		xsk.WithRingSizes(1024*2, 1024*2, 1024*2),
		xsk.WithBatchSize(conf.Router.BatchSize),
	))
	if err != nil {
		return fmt.Errorf("router socket2: %w", err)
	}
	defer sock2.Close()

	handler := makeRouterHandler(if1Index, if2Index, router2MAC, receiverMAC)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		runRouterLeg(ctx, sock1, sock2, if1Index, handler, conf.Router.BatchSize)
	}()
	go func() {
		defer wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		runRouterLeg(ctx, sock2, sock1, if2Index, handler, conf.Router.BatchSize)
	}()
	wg.Wait()
	return ctx.Err()
}

// ----- Sender / Receiver (edge) -----

type SenderConfig struct {
	Iface   string
	DstMAC  string
	SrcIP   string
	DstIP   string
	SrcPort uint16
	Port    uint16
	Count   uint64
	PktSize uint32
	Queue   uint
	RatePPS uint64
}

func runSender(
	iface *xsk.Interface,
	conf *SenderConfig,
	stats *Stats,
	batchSize uint32,
) {
	_, srcMAC := mustGetIfaceInfo(conf.Iface)
	dstMAC, err := net.ParseMAC(conf.DstMAC)
	fatalIf(err, "parse sender dst mac")

	srcIP := net.ParseIP(conf.SrcIP).To4()
	dstIP := net.ParseIP(conf.DstIP).To4()

	sock, err := iface.Open(xsk.NewSocketConfig(
		xsk.WithQueueID(uint32(conf.Queue)),
		xsk.WithFrames(1024*16, 2048),
		xsk.WithRingSizes(1024*2, 1024*2, 1024*2),
		xsk.WithBatchSize(batchSize),
	))
	fatalIf(err, "open TX socket")
	defer sock.Close()

	fmt.Fprintf(os.Stderr, "TX on %s:%d (zerocopy=%t)\n",
		conf.Iface, conf.Queue, sock.IsZerocopy())

	var seq uint32
	limiter := ratelimit.New(conf.RatePPS)
	start := time.Now()
	arena := sock.Arena()

	for stats.TxPackets.Load() < conf.Count {
		stats.TxCompleted.Add(uint64(sock.PollCompletions(batchSize)))

		want := batchSize
		if remaining := conf.Count - stats.TxPackets.Load(); uint64(want) > remaining {
			want = uint32(remaining)
		}

		guard := sock.TX().Reserve(want)
		n := guard.N()
		if n == 0 {
			if c := sock.PollCompletions(batchSize); c > 0 {
				stats.TxCompleted.Add(uint64(c))
				continue
			}
			fatalIf(sock.Wait(1), "TX wait")
			continue
		}

		limiter.ThrottleN(uint64(n))

		written := uint32(0)
		for i := uint32(0); i < n; i++ {
			addr, ok := sock.AllocFrame()
			if !ok {
				break
			}
			frame, off := arena.FrameAt(addr)
			plen := buildUDPPacket(
				frame[off:], srcMAC[:], dstMAC, srcIP, dstIP,
				conf.SrcPort, conf.Port, seq, conf.PktSize,
			)
			guard.Write(written, ring.Descriptor{Addr: addr, Len: plen})
			stats.TxPackets.Add(1)
			stats.TxBytes.Add(uint64(plen))
			seq++
			written++
		}
		guard.Commit(written)

		if sock.NeedsWakeupTX() {
			fatalIf(sock.WakeupTX(), "wakeup tx")
		}
		if c := sock.PollCompletions(written); c > 0 {
			stats.TxCompleted.Add(uint64(c))
		}
	}

	for stats.TxCompleted.Load() < stats.TxPackets.Load() {
		if c := sock.PollCompletions(batchSize); c > 0 {
			stats.TxCompleted.Add(uint64(c))
		} else {
			fatalIf(sock.Wait(1), "final TX wait")
		}
	}

	stats.Elapsed.Store(time.Since(start).Nanoseconds())
}

func runReceiverBenchmark(
	ctx context.Context,
	iface *xsk.Interface,
	ifaceName string,
	stats *Stats,
	batch uint32,
) *sync.WaitGroup {
	qs, err := iface.RXQueueIDs()
	fatalIf(err, "listing RX queues")
	if len(qs) == 0 {
		panic("no RX queues on receiver")
	}

	var done sync.WaitGroup
	var wgReady sync.WaitGroup
	wgReady.Add(len(qs))

	for _, qid := range qs {
		q := qid
		done.Add(1)
		go func() {
			defer done.Done()
			sock, err := iface.Open(xsk.NewSocketConfig(
				xsk.WithQueueID(q),
				xsk.WithFrames(1024*16, 2048),
				xsk.WithRingSizes(1024*2, 1024*2, 1024*2),
				xsk.WithBatchSize(batch),
			))
			fatalIf(err, "opening RX socket")
			defer sock.Close()

			fmt.Fprintf(os.Stderr, "RX on %s:%d (zerocopy=%t)\n",
				ifaceName, q, sock.IsZerocopy())
			wgReady.Done()

			e := engine.New[*xsk.Socket](sock, sock.FreeStack(), engine.WithPoller(engine.Adaptive))
			runErr := e.Run(ctx, func(b *engine.Batch) {
				b.Refs(func(r packet.Ref) {
					stats.RxPackets.Add(1)
					stats.RxBytes.Add(uint64(r.Len()))
					r.DropPacket()
				})
			})
			if runErr != nil && runErr != context.Canceled {
				fmt.Fprintf(os.Stderr, "RX queue %d: %v\n", q, runErr)
			}
		}()
	}

	wgReady.Wait()
	return &done
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// runReceiverTest verifies ordered, lossless delivery on the final
// interface by checking strictly-increasing sequence numbers.
func runReceiverTest(
	ctx context.Context,
	iface *xsk.Interface,
	ifaceName string,
	conf *Config,
	routerMAC, recvMAC [6]byte,
	result *TestResult,
	stats *Stats,
) *sync.WaitGroup {
	qs, err := iface.RXQueueIDs()
	fatalIf(err, "listing RX queues")
	if len(qs) == 0 {
		panic("no RX queues on receiver")
	}

	expectedCount := conf.Count
	dstMAC := recvMAC
	srcMAC := routerMAC

	etherTypeIPv4 := []byte{0x08, 0x00}
	srcIP := net.ParseIP(conf.Sender.SrcIP).To4()
	dstIP := net.ParseIP(conf.Sender.DstIP).To4()
	srcPort := conf.Sender.SrcPort
	dstPort := conf.Sender.DstPort

	var done sync.WaitGroup
	var wgReady sync.WaitGroup
	wgReady.Add(len(qs))

	var nextSeq atomic.Uint64

	for _, qid := range qs {
		q := qid
		done.Add(1)
		go func() {
			defer done.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			sock, err := iface.Open(xsk.NewSocketConfig(
				xsk.WithQueueID(q),
				xsk.WithFrames(1024*16, 2048),
				xsk.WithRingSizes(1024*2, 1024*2, 1024*2),
				xsk.WithBatchSize(conf.Receiver.BatchSize),
			))
			fatalIf(err, "opening test RX socket")
			defer sock.Close()

			fmt.Fprintf(os.Stderr,
				"TEST RX on %s:%d (zerocopy=%t)\n",
				ifaceName, q, sock.IsZerocopy(),
			)
			wgReady.Done()

			arena := sock.Arena()
			batchSize := conf.Receiver.BatchSize

			for ctx.Err() == nil {
				rxGuard := sock.RX().Consume(batchSize)
				n := rxGuard.N()
				if n == 0 {
					rxGuard.Release(0)
					if sock.NeedsWakeupRX() {
						_ = sock.WakeupRX()
					}
					fatalIf(sock.Wait(1), "RX wait")
					continue
				}

				descs := make([]ring.Descriptor, n)
				for i := uint32(0); i < n; i++ {
					descs[i] = rxGuard.Read(i)
				}
				rxGuard.Release(n)

				for _, d := range descs {
					frame, off := arena.FrameAt(d.Addr)
					buf := frame[off : off+int(d.Len)]

					if len(buf) < 14+20+8+4 {
						sock.FreeFrame(d.Addr)
						continue
					}
					if !equalBytes(buf[0:6], dstMAC[:]) ||
						!equalBytes(buf[6:12], srcMAC[:]) ||
						!equalBytes(buf[12:14], etherTypeIPv4) {
						sock.FreeFrame(d.Addr)
						continue
					}

					ip := buf[14:]
					if ip[0]>>4 != 4 || !equalBytes(ip[12:16], srcIP) || !equalBytes(ip[16:20], dstIP) || ip[9] != 17 {
						sock.FreeFrame(d.Addr)
						continue
					}

					udp := ip[20:]
					if len(udp) < 8+4 ||
						binary.BigEndian.Uint16(udp[0:2]) != srcPort ||
						binary.BigEndian.Uint16(udp[2:4]) != dstPort {
						sock.FreeFrame(d.Addr)
						continue
					}

					seq := binary.BigEndian.Uint32(udp[8:12])
					exp := nextSeq.Load()
					if uint64(seq) != exp {
						result.Errors.Add(1)
						fmt.Fprintf(os.Stderr,
							"TEST ERROR: out-of-order seq: got %d want %d\n", seq, exp)
						sock.FreeFrame(d.Addr)
						os.Exit(1)
					}

					nextSeq.Add(1)
					received := result.Received.Add(1)
					stats.RxPackets.Add(1)
					stats.RxBytes.Add(uint64(d.Len))
					sock.FreeFrame(d.Addr)

					if received == expectedCount {
						return
					}
				}

				fill := sock.Fill()
				if avail := fill.Available(); avail > 0 {
					fguard := fill.Reserve(avail)
					var i uint32
					for ; i < fguard.N(); i++ {
						addr, ok := sock.AllocFrame()
						if !ok {
							break
						}
						fguard.Write(i, addr)
					}
					fguard.Commit(i)
				}
			}
		}()
	}

	wgReady.Wait()
	return &done
}

func runStatsPrinter(stats *Stats) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	var lastTxPkts, lastTxBytes uint64
	var lastRxPkts, lastRxBytes uint64
	lastTime := time.Now()

	for range t.C {
		now := time.Now()
		dt := now.Sub(lastTime).Seconds()
		lastTime = now

		txPkts := stats.TxPackets.Load()
		rxPkts := stats.RxPackets.Load()
		txBytes := stats.TxBytes.Load()
		rxBytes := stats.RxBytes.Load()

		dTxPkts := txPkts - lastTxPkts
		dRxPkts := rxPkts - lastRxPkts
		dTxBytes := txBytes - lastTxBytes
		dRxBytes := rxBytes - lastRxBytes

		lastTxPkts, lastTxBytes = txPkts, txBytes
		lastRxPkts, lastRxBytes = rxPkts, rxBytes

		txPPS := uint64(float64(dTxPkts) / dt)
		rxPPS := uint64(float64(dRxPkts) / dt)
		txMbps := float64(dTxBytes*8) / 1e6 / dt
		rxMbps := float64(dRxBytes*8) / 1e6 / dt

		fmt.Printf(
			"TX=%d RX=%d TX-PPS=%d RX-PPS=%d TX-Mbps=%.1f RX-Mbps=%.1f\n",
			txPkts, rxPkts, txPPS, rxPPS, txMbps, rxMbps,
		)
	}
}

func printFinalReport(stats *Stats) {
	txPackets := stats.TxPackets.Load()
	rxPackets := stats.RxPackets.Load()
	txBytes := stats.TxBytes.Load()
	rxBytes := stats.RxBytes.Load()

	drops := txPackets - rxPackets
	elapsed := float64(stats.Elapsed.Load()) / 1e9
	txAvgPPS := uint64(float64(txPackets) / elapsed)
	rxAvgPPS := uint64(float64(rxPackets) / elapsed)
	txAvgMbps := float64(txBytes*8) / 1e6 / elapsed
	rxAvgMbps := float64(rxBytes*8) / 1e6 / elapsed

	p := message.NewPrinter(language.English)
	p.Print("\nFINAL REPORT\n")
	p.Printf(" Elapsed:           %.3f s\n", elapsed)
	p.Printf(" TX:                %d packets\n", txPackets)
	p.Printf(" RX:                %d packets\n", rxPackets)
	p.Printf(" TX Avg PPS:        %d\n", txAvgPPS)
	p.Printf(" RX Avg PPS:        %d\n", rxAvgPPS)
	p.Printf(" TX Avg rate:       %.1f Mbps\n", txAvgMbps)
	p.Printf(" RX Avg rate:       %.1f Mbps\n", rxAvgMbps)
	p.Printf(" Dropped:           %d (%.4f%%)\n",
		drops, float64(drops)/float64(txPackets)*100)
}

func runBenchmark(ctx context.Context, conf *Config, spec *ebpf.CollectionSpec, stats *Stats) {
	b, err := yaml.Marshal(conf)
	fatalIf(err, "encoding final YAML config")
	_, _ = os.Stderr.Write(b)
	fmt.Fprintln(os.Stderr)

	_, router2MAC := mustGetIfaceInfo(conf.Router.Interface2)
	_, recvMAC := mustGetIfaceInfo(conf.Receiver.Interface)

	ifaceSender, err := xsk.MakeInterface(conf.Sender.Interface, xsk.InterfaceConfig{
		PreferZerocopy: conf.Sender.PreferZerocopy,
		Program:        spec,
		ProgramName:    conf.XDPProg,
	})
	fatalIf(err, "sender iface")
	defer ifaceSender.Close()

	ifaceReceiver, err := xsk.MakeInterface(conf.Receiver.Interface, xsk.InterfaceConfig{
		PreferZerocopy: conf.Receiver.PreferZerocopy,
		Program:        spec,
		ProgramName:    conf.XDPProg,
	})
	fatalIf(err, "receiver iface")
	defer ifaceReceiver.Close()

	ctxRouter, cancelRouter := context.WithCancel(ctx)
	defer cancelRouter()

	go func() {
		err := runRouter(ctxRouter, conf, spec, router2MAC, recvMAC)
		if err != nil && !errors.Is(err, context.Canceled) {
			fatalIf(err, "running router")
		}
	}()

	wait(1000*time.Millisecond, "router")

	go runStatsPrinter(stats)

	ctxRecv, cancelRecv := context.WithCancel(ctx)
	defer cancelRecv()
	wgRecvDone := runReceiverBenchmark(
		ctxRecv, ifaceReceiver, conf.Receiver.Interface, stats, conf.Receiver.BatchSize)

	wait(1000*time.Millisecond, "receiver")

	runSender(ifaceSender, &SenderConfig{
		Iface:   conf.Sender.Interface,
		DstMAC:  conf.Sender.DestMAC,
		SrcIP:   conf.Sender.SrcIP,
		DstIP:   conf.Sender.DstIP,
		SrcPort: conf.Sender.SrcPort,
		Port:    conf.Sender.DstPort,
		Count:   conf.Count,
		PktSize: conf.MTU,
		Queue:   conf.Sender.Queue,
		RatePPS: conf.Sender.RatePPS,
	}, stats, conf.Sender.BatchSize)

	wait(1000*time.Millisecond, "sender")
	cancelRecv()
	wgRecvDone.Wait()

	printFinalReport(stats)
}

func runTest(ctx context.Context, conf *Config, spec *ebpf.CollectionSpec, stats *Stats) {
	fmt.Fprintf(os.Stderr, "FORWARDING TEST CONFIG:\n")
	b, err := yaml.Marshal(conf)
	fatalIf(err, "encoding final YAML config")
	_, _ = os.Stderr.Write(b)
	fmt.Fprintln(os.Stderr)

	_, router2MAC := mustGetIfaceInfo(conf.Router.Interface2)
	_, recvMAC := mustGetIfaceInfo(conf.Receiver.Interface)

	ifaceSender, err := xsk.MakeInterface(conf.Sender.Interface, xsk.InterfaceConfig{
		PreferZerocopy: conf.Sender.PreferZerocopy,
		Program:        spec,
		ProgramName:    conf.XDPProg,
	})
	fatalIf(err, "sender iface")
	defer ifaceSender.Close()

	ifaceReceiver, err := xsk.MakeInterface(conf.Receiver.Interface, xsk.InterfaceConfig{
		PreferZerocopy: conf.Receiver.PreferZerocopy,
		Program:        spec,
		ProgramName:    conf.XDPProg,
	})
	fatalIf(err, "receiver iface")
	defer ifaceReceiver.Close()

	ctxRouter, cancelRouter := context.WithCancel(ctx)
	defer cancelRouter()

	go func() {
		err := runRouter(ctxRouter, conf, spec, router2MAC, recvMAC)
		if err != nil && !errors.Is(err, context.Canceled) {
			fatalIf(err, "running router")
		}
	}()

	wait(1000*time.Millisecond, "router")

	var result TestResult

	go runStatsPrinter(stats)

	ctxRecv, cancelRecv := context.WithCancel(ctx)
	wgRecvDone := runReceiverTest(
		ctxRecv, ifaceReceiver, conf.Receiver.Interface, conf, router2MAC, recvMAC, &result, stats)

	wait(1000*time.Millisecond, "receiver")

	runSender(ifaceSender, &SenderConfig{
		Iface:   conf.Sender.Interface,
		DstMAC:  conf.Sender.DestMAC,
		SrcIP:   conf.Sender.SrcIP,
		DstIP:   conf.Sender.DstIP,
		SrcPort: conf.Sender.SrcPort,
		Port:    conf.Sender.DstPort,
		Count:   conf.Count,
		PktSize: conf.MTU,
		Queue:   conf.Sender.Queue,
		RatePPS: conf.Sender.RatePPS,
	}, stats, conf.Sender.BatchSize)

	wait(1000*time.Millisecond, "sender")

	cancelRecv()
	wgRecvDone.Wait()

	if result.Errors.Load() > 0 {
		fmt.Fprintf(os.Stderr, "TEST FAILED: %d errors\n", result.Errors.Load())
		os.Exit(1)
	}
	if received := result.Received.Load(); received != conf.Count {
		fmt.Fprintf(os.Stderr, "TEST FAILED: received %d of %d\n", received, conf.Count)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "TEST PASSED: received all %d packets in order\n", conf.Count)
	printFinalReport(stats)
}

func main() {
	conf, err := loadConfig()
	fatalIf(err, "reading config")

	spec, err := ebpf.LoadCollectionSpec(conf.XDPObj)
	fatalIf(err, "loading XDP object")

	ifaceList := []string{
		conf.Sender.Interface,
		conf.Router.Interface1,
		conf.Router.Interface2,
		conf.Receiver.Interface,
	}
	counters := []ifacestat.Counter{
		ifacestat.TxPackets, ifacestat.TxBytes,
		ifacestat.RxPackets, ifacestat.RxBytes,
	}

	ifaceStatsBefore, err := ifacestat.Snapshot(ifaceList, counters...)
	fatalIf(err, "taking interface stats (before)")

	ctx := context.Background()

	var stats Stats
	if conf.Test {
		runTest(ctx, conf, spec, &stats)
	} else {
		runBenchmark(ctx, conf, spec, &stats)
	}

	statsAfter, err := ifacestat.Snapshot(ifaceList, counters...)
	fatalIf(err, "taking interface stats (after)")

	ifaceDeltas := statsAfter.Since(ifaceStatsBefore)

	fmt.Fprintf(os.Stderr, "\nINTERFACE COUNTERS:\n")
	err = ifacestat.Print(os.Stderr, ifaceDeltas, map[string]string{
		conf.Sender.Interface:   "sender",
		conf.Router.Interface1:  "router1",
		conf.Router.Interface2:  "router2",
		conf.Receiver.Interface: "receiver",
	})
	fatalIf(err, "printing interface stats diff")
	fmt.Fprintln(os.Stderr)
}

func wait(dur time.Duration, subject string) {
	fmt.Fprintf(os.Stderr, "waiting %s for %s...\n", dur, subject)
	time.Sleep(dur)
}
