package dma

import (
	"fmt"
	"sync"
	"unsafe"
)

// Pool hands out fixed-size packet buffers carved from an Arena.
type Pool struct {
	mu      sync.Mutex
	bufSize int
	free    [][]byte
	inUse   map[*byte]struct{}
	total   int
}

// NewPool carves count buffers of bufSize bytes from a. Buffers are aligned
// to 64 bytes so that descriptor addresses stay cache-line aligned.
func NewPool(a *Arena, count, bufSize int) (*Pool, error) {
	if count <= 0 || bufSize <= 0 {
		return nil, fmt.Errorf("dma: invalid pool geometry %d x %d", count, bufSize)
	}
	p := &Pool{
		bufSize: bufSize,
		free:    make([][]byte, 0, count),
		inUse:   make(map[*byte]struct{}, count),
		total:   count,
	}
	for i := 0; i < count; i++ {
		b, err := a.Alloc(bufSize, 64)
		if err != nil {
			return nil, fmt.Errorf("dma: carve pool buffer %d: %w", i, err)
		}
		p.free = append(p.free, b)
	}
	return p, nil
}

// Get takes a buffer from the pool. The returned slice has length BufSize.
func (p *Pool) Get() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, ErrPoolExhausted
	}
	b := p.free[n-1]
	p.free = p.free[:n-1]
	p.inUse[unsafe.SliceData(b)] = struct{}{}
	return b[:p.bufSize], nil
}

// Put returns a buffer obtained from Get.
func (p *Pool) Put(b []byte) error {
	if cap(b) == 0 {
		return fmt.Errorf("dma: put of empty buffer")
	}
	key := unsafe.SliceData(b)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inUse[key]; !ok {
		return fmt.Errorf("dma: buffer %p not owned by pool", key)
	}
	delete(p.inUse, key)
	p.free = append(p.free, b[:p.bufSize:p.bufSize])
	return nil
}

// BufSize returns the size of every buffer in the pool.
func (p *Pool) BufSize() int {
	return p.bufSize
}

// Available returns the number of free buffers.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Len returns the total number of buffers.
func (p *Pool) Len() int {
	return p.total
}
