//go:build unix

package vm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocate returns size bytes of zeroed anonymous memory and a release
// func that unmaps it.
func allocate(size int) ([]byte, func() error, error) {
	if size == 0 {
		return nil, func() error { return nil }, nil
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return buf, func() error { return unix.Munmap(buf) }, nil
}
