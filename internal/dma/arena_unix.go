//go:build linux || darwin || freebsd || netbsd || openbsd

package dma

import "golang.org/x/sys/unix"

func allocRegion(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func freeRegion(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}
