//go:build linux

package xsk

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func rawBind(fd int, sa *sockaddrXDP) error {
	_, _, e := unix.Syscall(unix.SYS_BIND,
		uintptr(fd),
		uintptr(unsafe.Pointer(sa)),
		unsafe.Sizeof(*sa),
	)
	if e != 0 {
		return e
	}
	return nil
}

func setsockopt(fd, level, name int, val unsafe.Pointer, vallen uintptr) error {
	_, _, e := unix.Syscall6(unix.SYS_SETSOCKOPT,
		uintptr(fd), uintptr(level), uintptr(name),
		uintptr(val), vallen, 0)
	if e != 0 {
		return e
	}
	return nil
}

func getsockopt(fd, level, name int, val unsafe.Pointer, vallen uintptr) error {
	l := uint32(vallen)
	_, _, e := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd), uintptr(level), uintptr(name),
		uintptr(val), uintptr(unsafe.Pointer(&l)), 0)
	if e != 0 {
		return e
	}
	return nil
}

// mmapRegion maps one ring's kernel-shared region at the given socket
// page offset.
func mmapRegion(fd int, length uintptr, offset uintptr) ([]byte, error) {
	return unix.Mmap(fd, int64(offset), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
}

var zeroBuf []byte

// wakeupQueue kicks the kernel to process a ring whose needs_wakeup bit
// is set. AF_XDP treats a zero-length sendto with MSG_DONTWAIT as a
// doorbell; EAGAIN/EBUSY are backpressure, not failure.
func wakeupQueue(fd int) error {
	err := unix.Sendto(fd, zeroBuf, unix.MSG_DONTWAIT, nil)
	if err == unix.EAGAIN || err == unix.EBUSY {
		return nil
	}
	return err
}

// flagsWord returns a pointer to the needs-wakeup flags word located
// off bytes into region.
func flagsWord(region []byte, off uint64) *uint32 {
	return (*uint32)(unsafe.Add(unsafe.Pointer(&region[0]), off))
}
