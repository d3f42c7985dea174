package dma

import (
	"fmt"
	"sync"
)

const pageSize = 4096

// Arena is a page-aligned region of DMA-coherent memory with a bump
// allocator. Memory handed out by Alloc stays valid until Close.
type Arena struct {
	mu     sync.Mutex
	region []byte
	off    int
	closed bool
}

// NewArena reserves size bytes, rounded up to whole pages.
func NewArena(size int) (*Arena, error) {
	if size <= 0 {
		return nil, fmt.Errorf("dma: invalid arena size %d", size)
	}
	size = (size + pageSize - 1) &^ (pageSize - 1)
	region, err := allocRegion(size)
	if err != nil {
		return nil, fmt.Errorf("dma: allocate arena of %d bytes: %w", size, err)
	}
	return &Arena{region: region}, nil
}

// Alloc carves n bytes aligned to align (a power of two) from the arena.
func (a *Arena) Alloc(n int, align int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("dma: invalid allocation size %d", n)
	}
	if align <= 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("dma: alignment %d is not a power of two", align)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, fmt.Errorf("dma: arena closed")
	}
	start := (a.off + align - 1) &^ (align - 1)
	if start+n > len(a.region) {
		return nil, fmt.Errorf("%w: need %d bytes, %d left", ErrArenaFull, n, len(a.region)-a.off)
	}
	a.off = start + n
	return a.region[start : start+n : start+n], nil
}

// Size returns the arena size in bytes.
func (a *Arena) Size() int {
	return len(a.region)
}

// Close releases the region. Slices returned by Alloc must not be used
// afterwards.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	region := a.region
	a.region = nil
	return freeRegion(region)
}
