//go:build linux

package xsk

import (
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/cilium/ebpf"

	"github.com/sidd-27/fluxnet/xdpprog"
)

// InterfaceConfig controls how a caller-supplied XDP program is
// attached to a network interface.
type InterfaceConfig struct {
	// PreferZerocopy requests driver-mode XDP attachment, required for
	// zero-copy AF_XDP sockets. Individual sockets may still fall back
	// to copy mode if the driver does not support it on a given queue.
	PreferZerocopy bool
	// Program is the caller-supplied, pre-built XDP program. The module
	// only loads and attaches it; authoring or generating the eBPF
	// bytecode is the caller's responsibility.
	Program *ebpf.CollectionSpec
	// ProgramName names the entrypoint program within Program.
	ProgramName string
}

// Interface is a NIC with a caller-supplied XDP program attached. It
// owns the attachment and can open AF_XDP sockets bound to individual
// hardware queues.
type Interface struct {
	ifaceName      string
	ifaceIndex     int
	preferZerocopy bool

	attachment *xdpprog.Attachment
}

// MakeInterface attaches conf.Program to iface and returns a handle
// that can open AF_XDP sockets on its queues.
func MakeInterface(iface string, conf InterfaceConfig) (*Interface, error) {
	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("xsk: getting interface: %w", err)
	}

	att, err := xdpprog.Attach(iface, netIf.Index, conf.Program, conf.ProgramName, conf.PreferZerocopy)
	if err != nil {
		return nil, fmt.Errorf("xsk: attaching XDP program: %w", err)
	}

	return &Interface{
		ifaceName:      iface,
		ifaceIndex:     netIf.Index,
		preferZerocopy: conf.PreferZerocopy,
		attachment:     att,
	}, nil
}

// RXQueueIDs returns the interface's RX queue IDs in ascending order,
// read from /sys/class/net/<iface>/queues.
func (i *Interface) RXQueueIDs() ([]uint32, error) {
	path := "/sys/class/net/" + i.ifaceName + "/queues"
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("xsk: reading %q: %w", path, err)
	}
	var ids []uint32
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "rx-") {
			idStr := e.Name()[3:]
			id, err := strconv.Atoi(idStr)
			if err != nil {
				return nil, fmt.Errorf("xsk: parsing entry %q: %w", idStr, err)
			}
			ids = append(ids, uint32(id))
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Close detaches the XDP program from the interface. It does not close
// any Socket opened against it; those must be closed first.
func (i *Interface) Close() error {
	if i.attachment == nil {
		return nil
	}
	err := i.attachment.Close()
	i.attachment = nil
	return err
}
