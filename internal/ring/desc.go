package ring

import (
	"sync/atomic"
	"unsafe"
)

// DescSize is the size of one descriptor in bytes.
const DescSize = 16

// Descriptor word 3 bits shared by the read and write-back formats.
const (
	Des3OWN uint32 = 1 << 31
	Des3FD  uint32 = 1 << 29 // first descriptor of a frame
	Des3LD  uint32 = 1 << 28 // last descriptor of a frame
)

// Read format (software to hardware).
const (
	Des2IOC       uint32 = 1 << 31 // TX: interrupt on completion
	Des2B1LMask   uint32 = 0x3fff  // TX: buffer 1 length
	Des3FLMask    uint32 = 0x7fff  // TX: frame length
	Des3RxIOC     uint32 = 1 << 30 // RX: interrupt on completion
	Des3RxBUF1V   uint32 = 1 << 24 // RX: buffer 1 address valid
	Des3ReadFlags        = Des3OWN | Des3RxIOC | Des3RxBUF1V
)

// RX write-back format (hardware to software).
const (
	Des3RxPLMask uint32 = 0x7fff  // packet length including FCS-stripped payload
	Des3RxES     uint32 = 1 << 15 // error summary
	Des3RxDE     uint32 = 1 << 19 // dribble bit error
	Des3RxRE     uint32 = 1 << 20 // receive error
	Des3RxOE     uint32 = 1 << 21 // overflow error
	Des3RxRWT    uint32 = 1 << 22 // receive watchdog timeout
	Des3RxGP     uint32 = 1 << 23 // giant packet
	Des3RxCE     uint32 = 1 << 24 // CRC error
)

// TX write-back format.
const (
	Des3TxES  uint32 = 1 << 15 // error summary
	Des3TxJT  uint32 = 1 << 14 // jabber timeout
	Des3TxLoC uint32 = 1 << 11 // loss of carrier
	Des3TxNC  uint32 = 1 << 10 // no carrier
	Des3TxEC  uint32 = 1 << 8  // excessive collisions
	Des3TxUF  uint32 = 1 << 2  // underflow
)

// Desc is a view of one descriptor in DMA memory. Words 0 to 2 are written
// by whichever side owns the descriptor; word 3 carries the OWN bit and is
// only accessed atomically so that ownership transfer orders the other
// words. Descriptor memory uses host byte order, which matches the
// little-endian controllers this package targets.
type Desc []byte

func (d Desc) ptr(w int) *uint32 {
	return (*uint32)(unsafe.Pointer(&d[w*4]))
}

// Word returns descriptor word w (0-2). The caller must own the descriptor.
func (d Desc) Word(w int) uint32 {
	return *d.ptr(w)
}

// SetWord stores descriptor word w (0-2). The caller must own the descriptor.
func (d Desc) SetWord(w int, v uint32) {
	*d.ptr(w) = v
}

// Status loads word 3 with acquire semantics.
func (d Desc) Status() uint32 {
	return atomic.LoadUint32(d.ptr(3))
}

// Publish stores word 3 with release semantics. Every prior write to the
// descriptor or its buffer happens before the other side observes v.
func (d Desc) Publish(v uint32) {
	atomic.StoreUint32(d.ptr(3), v)
}

// Addr returns the buffer address held in words 0 and 1.
func (d Desc) Addr() uint64 {
	return uint64(d.Word(0)) | uint64(d.Word(1))<<32
}

// SetAddr stores a buffer address into words 0 and 1.
func (d Desc) SetAddr(addr uint64) {
	d.SetWord(0, uint32(addr))
	d.SetWord(1, uint32(addr>>32))
}

// Clear zeroes the descriptor, publishing OWN=0 last.
func (d Desc) Clear() {
	d.SetWord(0, 0)
	d.SetWord(1, 0)
	d.SetWord(2, 0)
	d.Publish(0)
}

// Aligned reports whether b can hold descriptors.
func Aligned(b []byte) bool {
	return len(b) > 0 && uintptr(unsafe.Pointer(&b[0]))%4 == 0
}
