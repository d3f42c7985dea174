package dma

import (
	"encoding/binary"
	"fmt"
)

// Width is the transfer unit used when moving bytes between packet buffers
// and device memory. Some bus bridges only accept 16 or 32-bit accesses.
type Width uint8

const (
	Width8  Width = 1
	Width16 Width = 2
	Width32 Width = 4
)

// Valid reports whether w is a supported transfer unit.
func (w Width) Valid() bool {
	return w == Width8 || w == Width16 || w == Width32
}

func (w Width) String() string {
	if !w.Valid() {
		return fmt.Sprintf("width(%d)", uint8(w))
	}
	return fmt.Sprintf("%d-bit", int(w)*8)
}

// ReadUnit reads one w-sized little-endian unit at off.
func ReadUnit(b []byte, off int, w Width) uint32 {
	switch w {
	case Width16:
		return uint32(binary.LittleEndian.Uint16(b[off:]))
	case Width32:
		return binary.LittleEndian.Uint32(b[off:])
	default:
		return uint32(b[off])
	}
}

// WriteUnit writes one w-sized little-endian unit at off.
func WriteUnit(b []byte, off int, w Width, v uint32) {
	switch w {
	case Width16:
		binary.LittleEndian.PutUint16(b[off:], uint16(v))
	case Width32:
		binary.LittleEndian.PutUint32(b[off:], v)
	default:
		b[off] = byte(v)
	}
}

// CopyUnits copies min(len(dst), len(src)) bytes in w-sized units. A tail
// shorter than one unit is moved bytewise. It returns the number of bytes
// copied.
func CopyUnits(dst, src []byte, w Width) int {
	if !w.Valid() {
		w = Width8
	}
	n := min(len(dst), len(src))
	step := int(w)
	off := 0
	for ; off+step <= n; off += step {
		WriteUnit(dst, off, w, ReadUnit(src, off, w))
	}
	for ; off < n; off++ {
		dst[off] = src[off]
	}
	return n
}
