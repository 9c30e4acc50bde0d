//go:build linux

package umem

import "golang.org/x/sys/unix"

// mapArena reserves an anonymous, page-backed, populate-on-map region
// for UMEM. unix.Mmap accepts the MAP_ANONYMOUS/fd=-1 combination this
// needs without any loss of control over flags.
func mapArena(size uint64, hugePages bool) ([]byte, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_POPULATE
	if hugePages {
		flags |= unix.MAP_HUGETLB
	}
	region, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		if hugePages && err == unix.ENOMEM {
			return nil, ErrPermissionDenied
		}
		return nil, ErrOutOfMemory
	}
	return region, nil
}

func unmapArena(region []byte) error {
	return unix.Munmap(region)
}
