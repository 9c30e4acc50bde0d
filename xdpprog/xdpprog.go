//go:build linux

// Package xdpprog attaches a caller-supplied XDP program to a network
// interface and keeps its xsks_map in sync with bound AF_XDP sockets.
// It never builds or generates eBPF bytecode itself: the program is
// always supplied by the caller as an *ebpf.CollectionSpec, typically
// produced by bpf2go from a .c source outside this module, and Attach
// loads it into the kernel.
package xdpprog

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
)

// ErrXsksMapNotFound is returned when the supplied collection has no
// map named "xsks_map", so no socket fd can ever be registered.
var ErrXsksMapNotFound = errors.New("xdpprog: xsks_map not found in program")

// ErrProgramNotFound is returned when progName does not name a program
// in the supplied collection.
var ErrProgramNotFound = errors.New("xdpprog: program not found in collection")

// Attachment is a caller-supplied XDP program attached to one
// interface, plus the xsks_map used to redirect frames into bound
// AF_XDP sockets.
type Attachment struct {
	link    link.Link
	coll    *ebpf.Collection
	xsksMap *ebpf.Map
}

// Attach loads progName out of coll and attaches it to iface. When
// zerocopy is true, driver-mode attachment is requested so zero-copy
// AF_XDP sockets can bind to the interface's queues.
func Attach(iface string, ifaceIndex int, coll *ebpf.CollectionSpec, progName string, zerocopy bool) (*Attachment, error) {
	c, err := ebpf.NewCollection(coll)
	if err != nil {
		return nil, fmt.Errorf("xdpprog: loading collection: %w", err)
	}

	prog, ok := c.Programs[progName]
	if !ok {
		c.Close()
		return nil, ErrProgramNotFound
	}

	xsksMap, ok := c.Maps["xsks_map"]
	if !ok {
		c.Close()
		return nil, ErrXsksMapNotFound
	}

	opts := link.XDPOptions{Program: prog, Interface: ifaceIndex}
	if zerocopy {
		opts.Flags = link.XDPDriverMode
	}

	l, err := link.AttachXDP(opts)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("xdpprog: attaching XDP to %s: %w", iface, err)
	}

	return &Attachment{link: l, coll: c, xsksMap: xsksMap}, nil
}

// RegisterSocket updates xsks_map so the attached program redirects
// queue's frames into the socket identified by fd.
func (a *Attachment) RegisterSocket(fd int, queue uint32) error {
	if a.xsksMap == nil {
		return ErrXsksMapNotFound
	}
	return a.xsksMap.Update(queue, uint32(fd), ebpf.UpdateAny)
}

// UnregisterSocket removes queue's redirect entry, if any.
func (a *Attachment) UnregisterSocket(queue uint32) error {
	if a.xsksMap == nil {
		return ErrXsksMapNotFound
	}
	return a.xsksMap.Delete(queue)
}

// Close detaches the program and releases the collection's file
// descriptors.
func (a *Attachment) Close() error {
	var errs []error
	if a.link != nil {
		if err := a.link.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing XDP link: %w", err))
		}
		a.link = nil
	}
	if a.coll != nil {
		a.coll.Close()
		a.coll = nil
	}
	return errors.Join(errs...)
}
