//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cilium/ebpf"

	"github.com/sidd-27/fluxnet/engine"
	"github.com/sidd-27/fluxnet/packet"
	"github.com/sidd-27/fluxnet/xsk"
)

func main() {
	fIface := flag.String("i", "", "Interface")
	fZeroCopy := flag.Bool("z", false, "Use zerocopy")
	fXDPObj := flag.String("xdp-obj", "", "Path to a pre-built XDP program object file")
	fXDPProg := flag.String("xdp-prog", "xdp_sock_prog", "Entrypoint program name inside -xdp-obj")
	flag.Parse()

	if *fIface == "" {
		fmt.Fprint(os.Stderr, "missing -i interface\n")
		os.Exit(1)
	}
	if *fXDPObj == "" {
		fmt.Fprint(os.Stderr, "missing -xdp-obj: this module never generates eBPF bytecode, supply a pre-built program\n")
		os.Exit(1)
	}

	spec, err := ebpf.LoadCollectionSpec(*fXDPObj)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading XDP object: %v\n", err)
		os.Exit(1)
	}

	iface, err := xsk.MakeInterface(*fIface, xsk.InterfaceConfig{
		PreferZerocopy: *fZeroCopy,
		Program:        spec,
		ProgramName:    *fXDPProg,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing interface: %v\n", err)
		os.Exit(1)
	}
	defer iface.Close()

	queues, err := iface.RXQueueIDs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing queue ids: %v\n", err)
		os.Exit(1)
	}
	if len(queues) == 0 {
		fmt.Fprintf(os.Stderr, "no RX queues found for %s\n", *fIface)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr,
		"AF_XDP RX: iface=%s use_zerocopy=%t queues=%v\n",
		*fIface, *fZeroCopy, queues,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var totalPackets atomic.Uint64
	var totalBytes atomic.Uint64

	// One socket per queue, each pinned to its own goroutine/thread.
	for _, qid := range queues {
		go func(queueID uint32) {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			sock, err := iface.Open(xsk.NewSocketConfig(xsk.WithQueueID(queueID)))
			if err != nil {
				fmt.Fprintf(os.Stderr, "queue %d: %v\n", queueID, err)
				return
			}
			defer sock.Close()
			fmt.Fprintf(os.Stderr, "socket on queue %d (zerocopy=%t)\n", queueID, sock.IsZerocopy())

			e := engine.New[*xsk.Socket](sock, sock.FreeStack(), engine.WithPoller(engine.Adaptive))
			err = e.Run(ctx, func(b *engine.Batch) {
				b.Refs(func(r packet.Ref) {
					totalPackets.Add(1)
					totalBytes.Add(uint64(r.Len()))
					r.DropPacket()
				})
			})
			if err != nil && err != context.Canceled {
				fmt.Fprintf(os.Stderr, "queue %d: %v\n", queueID, err)
			}
		}(qid)
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var (
		lastPackets uint64
		lastBytes   uint64
		maxPPS      float64
		maxMbps     float64
	)

	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(lastTime).Seconds()

			pkts := totalPackets.Load()
			bytes := totalBytes.Load()

			curPkts := pkts - lastPackets
			curBytes := bytes - lastBytes

			pps := float64(curPkts) / elapsed
			mbps := float64(curBytes*8) / elapsed / 1e6

			if pps > maxPPS {
				maxPPS = pps
			}
			if mbps > maxMbps {
				maxMbps = mbps
			}

			fmt.Printf(
				"total=%d | cur=%.0f pps %.2f Mbit/s | max=%.0f pps %.2f Mbit/s\n",
				pkts, pps, mbps, maxPPS, maxMbps,
			)

			lastPackets = pkts
			lastBytes = bytes
			lastTime = now
		}
	}
}
