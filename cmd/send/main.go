//go:build linux

package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/dustin/go-humanize"

	"github.com/sidd-27/fluxnet/ring"
	"github.com/sidd-27/fluxnet/xsk"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func mustGetIfaceInfo(name string) (index int, macAddr [6]byte) {
	iface, err := net.InterfaceByName(name)
	must(err)
	copy(macAddr[:], iface.HardwareAddr[:6])
	return iface.Index, macAddr
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

func buildUDPPacket(buf []byte,
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
	ip[8] = 64
	ip[9] = 17
	copy(ip[12:16], srcIP.To4())
	copy(ip[16:20], dstIP.To4())
	binary.BigEndian.PutUint16(ip[10:], ipChecksum(ip[:20]))

	udp := ip[20:]
	binary.BigEndian.PutUint16(udp[0:], srcPort)
	binary.BigEndian.PutUint16(udp[2:], dstPort)
	binary.BigEndian.PutUint16(udp[4:], uint16(udpLen+payloadLen))

	payload := udp[8:]
	binary.BigEndian.PutUint32(payload[:4], seq)

	return pktSize
}

func main() {
	fIface := flag.String("i", "", "Interface")
	fDestMACStr := flag.String("d", "", "Destination MAC")
	fSrcIPStr := flag.String("s", "", "Source IP")
	fDestIPStr := flag.String("D", "", "Destination IP")
	fPort := flag.Int("p", 0, "Destination port")
	fCount := flag.Uint64("n", 0, "Packets to send")
	fPktSize := flag.Uint("l", 1360, "Packet size")
	fQueue := flag.Uint("q", 0, "Queue ID")
	fZeroCopy := flag.Bool("z", false, "Prefer zerocopy "+
		"(automatically falls back to copy mode if not supported)")
	fXDPObj := flag.String("xdp-obj", "", "Path to a pre-built XDP program object file")
	fXDPProg := flag.String("xdp-prog", "xdp_sock_prog", "Entrypoint program name inside -xdp-obj")
	flag.Parse()

	ifaceIndex, srcMAC := mustGetIfaceInfo(*fIface)

	dstMAC, err := net.ParseMAC(*fDestMACStr)
	must(err)
	srcIP := net.ParseIP(*fSrcIPStr).To4()
	dstIP := net.ParseIP(*fDestIPStr).To4()

	if *fXDPObj == "" {
		fmt.Fprint(os.Stderr, "missing -xdp-obj: this module never generates eBPF bytecode, supply a pre-built program\n")
		os.Exit(1)
	}
	spec, err := ebpf.LoadCollectionSpec(*fXDPObj)
	must(err)

	iface, err := xsk.MakeInterface(*fIface, xsk.InterfaceConfig{
		PreferZerocopy: *fZeroCopy,
		Program:        spec,
		ProgramName:    *fXDPProg,
	})
	must(err)
	defer iface.Close()

	sock, err := iface.Open(xsk.NewSocketConfig(
		xsk.WithQueueID(uint32(*fQueue)),
		xsk.WithFrames(1024*8, 2048),
		xsk.WithRingSizes(2048, 2048, 2048),
	))
	must(err)
	defer sock.Close()

	fmt.Fprintf(os.Stderr,
		"AF_XDP TX:\niface=%s queue=%d dst_mac=%s src_ip=%s dst_ip=%s dst_port=%d count=%d zc=%t\n",
		*fIface, *fQueue, dstMAC, srcIP, dstIP, *fPort, *fCount, sock.IsZerocopy(),
	)
	fmt.Fprintf(os.Stderr, "bound: ifindex=%d zerocopy=%t\n", ifaceIndex, sock.IsZerocopy())

	const dstPort = 12345
	const maxBatch = 128
	var (
		seq       uint32
		sent      uint64
		completed uint64
		bytes     uint64
	)

	arena := sock.Arena()
	start := time.Now()

	for sent < *fCount {
		completed += uint64(sock.PollCompletions(maxBatch))

		want := uint32(maxBatch)
		if remaining := *fCount - sent; uint64(want) > remaining {
			want = uint32(remaining)
		}

		guard := sock.TX().Reserve(want)
		n := guard.N()
		if n == 0 {
			if c := sock.PollCompletions(maxBatch); c > 0 {
				completed += uint64(c)
				continue
			}
			_ = sock.Wait(1)
			continue
		}

		written := uint32(0)
		for i := uint32(0); i < n; i++ {
			addr, ok := sock.AllocFrame()
			if !ok {
				break
			}
			frame, off := arena.FrameAt(addr)
			plen := buildUDPPacket(
				frame[off:],
				srcMAC[:], dstMAC, srcIP, dstIP,
				dstPort, uint16(*fPort), seq, uint32(*fPktSize),
			)
			guard.Write(written, ring.Descriptor{Addr: addr, Len: plen})
			seq++
			sent++
			bytes += uint64(plen)
			written++
		}
		guard.Commit(written)

		if sock.NeedsWakeupTX() {
			must(sock.WakeupTX())
		}
		completed += uint64(sock.PollCompletions(written))
	}

	for completed < sent {
		if c := sock.PollCompletions(maxBatch); c > 0 {
			completed += uint64(c)
			continue
		}
		_ = sock.Wait(1)
	}

	elapsed := time.Since(start)
	pps := float64(sent) / elapsed.Seconds()

	fmt.Fprintf(os.Stderr,
		"finished: sent=%s completed=%s bytes=%s | duration=%s | rate=%s pps\n",
		humanize.Comma(int64(sent)),
		humanize.Comma(int64(completed)),
		humanize.Bytes(bytes),
		elapsed,
		humanize.Comma(int64(pps)),
	)
}
