package dma

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

const iovaAlign = 64

type mapping struct {
	buf []byte
	dir Direction
}

// Space is an in-process IOMMU: it assigns device addresses to CPU buffers
// from a bounded mapping table and lets a device model resolve those
// addresses back to memory.
type Space struct {
	mu       sync.Mutex
	max      int
	next     uint64
	base     uint64
	mappings map[uint64]mapping

	maps   atomic.Uint64
	unmaps atomic.Uint64
}

// NewSpace creates a mapping space whose device addresses start at base.
// At most maxMappings buffers may be mapped at once.
func NewSpace(base uint64, maxMappings int) *Space {
	if base == 0 {
		base = 0x1000
	}
	return &Space{
		max:      maxMappings,
		next:     base,
		base:     base,
		mappings: make(map[uint64]mapping),
	}
}

// Map implements Mapper.
func (s *Space) Map(buf []byte, dir Direction) (Handle, error) {
	if len(buf) == 0 {
		return Handle{}, fmt.Errorf("dma: map of empty buffer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.max > 0 && len(s.mappings) >= s.max {
		return Handle{}, ErrNoMappings
	}
	addr := s.next
	s.next += (uint64(len(buf)) + iovaAlign - 1) &^ (iovaAlign - 1)
	s.mappings[addr] = mapping{buf: buf, dir: dir}
	s.maps.Add(1)
	return Handle{Addr: addr, Size: len(buf), Dir: dir}, nil
}

// Unmap implements Mapper.
func (s *Space) Unmap(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mappings[h.Addr]; !ok {
		return fmt.Errorf("%w: %#x", ErrUnknownHandle, h.Addr)
	}
	delete(s.mappings, h.Addr)
	s.unmaps.Add(1)
	return nil
}

// Memory returns the n bytes of mapped memory starting at device address
// addr. The returned slice aliases the mapped buffer.
func (s *Space) Memory(addr uint64, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.mappings[addr]; ok {
		if n > len(m.buf) {
			return nil, fmt.Errorf("dma: access of %d bytes at %#x exceeds mapping of %d", n, addr, len(m.buf))
		}
		return m.buf[:n], nil
	}
	for start, m := range s.mappings {
		if addr < start || addr >= start+uint64(len(m.buf)) {
			continue
		}
		off := int(addr - start)
		if off+n > len(m.buf) {
			return nil, fmt.Errorf("dma: access of %d bytes at %#x crosses mapping end", n, addr)
		}
		return m.buf[off : off+n], nil
	}
	return nil, fmt.Errorf("dma: no mapping at %#x", addr)
}

// Outstanding returns the number of live mappings.
func (s *Space) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mappings)
}

// Counts returns the total number of Map and Unmap calls that succeeded.
func (s *Space) Counts() (maps, unmaps uint64) {
	return s.maps.Load(), s.unmaps.Load()
}

// Addresses lists live mapping addresses in ascending order.
func (s *Space) Addresses() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.mappings))
	for addr := range s.mappings {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var _ Mapper = (*Space)(nil)
