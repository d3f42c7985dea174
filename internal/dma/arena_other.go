//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package dma

// Hosts without anonymous mmap fall back to the Go heap. The runtime does
// not move heap objects, so the region stays put for the arena lifetime.
func allocRegion(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func freeRegion([]byte) error {
	return nil
}
