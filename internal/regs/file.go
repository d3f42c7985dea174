package regs

import (
	"fmt"
	"sync/atomic"
)

// File is a flat bank of 32-bit registers without side effects. Emulated
// controllers embed it as backing storage and layer register semantics on
// top.
type File struct {
	words []atomic.Uint32
}

// NewFile allocates a register bank covering span bytes.
func NewFile(span uint32) *File {
	return &File{words: make([]atomic.Uint32, span/4)}
}

func (f *File) index(off uint32) int {
	if off%4 != 0 {
		panic(fmt.Sprintf("regs: unaligned register offset %#x", off))
	}
	idx := int(off / 4)
	if idx >= len(f.words) {
		panic(fmt.Sprintf("regs: register offset %#x outside bank of %#x bytes", off, len(f.words)*4))
	}
	return idx
}

// Load returns the stored value at off.
func (f *File) Load(off uint32) uint32 {
	return f.words[f.index(off)].Load()
}

// Store replaces the value at off.
func (f *File) Store(off uint32, val uint32) {
	f.words[f.index(off)].Store(val)
}

// Or sets bits at off.
func (f *File) Or(off uint32, bits uint32) {
	f.words[f.index(off)].Or(bits)
}

// AndNot clears bits at off.
func (f *File) AndNot(off uint32, bits uint32) {
	f.words[f.index(off)].And(^bits)
}

// Add increments the value at off, wrapping like a hardware counter.
func (f *File) Add(off uint32, delta uint32) {
	f.words[f.index(off)].Add(delta)
}

// Reset zeroes every register.
func (f *File) Reset() {
	for i := range f.words {
		f.words[i].Store(0)
	}
}

// Snapshot copies the registers at the given offsets.
func (f *File) Snapshot(offs ...uint32) map[uint32]uint32 {
	out := make(map[uint32]uint32, len(offs))
	for _, off := range offs {
		out[off] = f.Load(off)
	}
	return out
}
