// Package ring implements the fixed-capacity descriptor rings shared between
// the driver and the controller's DMA engine.
//
// Software fills slots at head and reclaims them at tail. One slot is always
// left empty so that head == tail means empty, never full, giving a usable
// capacity of Len()-1 slots.
package ring

import (
	"errors"
	"fmt"

	"github.com/sophgo/dwmac/internal/dma"
)

var (
	// ErrFull is returned by Push when Len()-1 slots are in flight.
	ErrFull = errors.New("ring: full")
	// ErrEmpty is returned by Advance when nothing is in flight.
	ErrEmpty = errors.New("ring: empty")
	// ErrHardwareOwned is returned when software touches a slot that the
	// DMA engine still owns.
	ErrHardwareOwned = errors.New("ring: slot owned by hardware")
)

// Kind selects the descriptor read format.
type Kind uint8

const (
	Transmit Kind = iota
	Receive
)

func (k Kind) String() string {
	if k == Receive {
		return "rx"
	}
	return "tx"
}

// Owner says which side may access a slot's buffer.
type Owner uint8

const (
	Software Owner = iota
	Hardware
)

func (o Owner) String() string {
	if o == Hardware {
		return "hardware"
	}
	return "software"
}

// Flags carry per-slot fragment markers.
type Flags uint8

const (
	First Flags = 1 << iota
	Last

	Whole = First | Last
)

// SlotData is what software hands to Push.
type SlotData struct {
	Handle dma.Handle
	// Buffer is the CPU view of the mapped memory.
	Buffer []byte
	Length int
	Flags  Flags
	// Cookie is opaque to the ring and returned with the slot.
	Cookie any
}

// Slot describes one ring entry.
type Slot struct {
	Index  int
	Handle dma.Handle
	Buffer []byte
	Length int
	Owner  Owner
	Flags  Flags
	// Status is descriptor word 3 as last observed. Only meaningful once
	// the slot is back in software ownership.
	Status uint32
	Cookie any
}

// Ring is a descriptor ring over DMA memory. It is not safe for concurrent
// use by multiple software threads; callers serialise access. The hardware
// side only communicates through descriptor word 3.
type Ring struct {
	kind   Kind
	mem    []byte
	base   uint64
	n      int
	head   int
	tail   int
	shadow []SlotData
}

// New lays a ring of n descriptors over mem, which the device sees at base.
func New(kind Kind, mem []byte, base uint64, n int) (*Ring, error) {
	if n < 2 {
		return nil, fmt.Errorf("ring: need at least 2 descriptors, got %d", n)
	}
	if len(mem) < n*DescSize {
		return nil, fmt.Errorf("ring: %d bytes of descriptor memory for %d descriptors", len(mem), n)
	}
	if !Aligned(mem) {
		return nil, fmt.Errorf("ring: descriptor memory is not word aligned")
	}
	r := &Ring{
		kind:   kind,
		mem:    mem[:n*DescSize],
		base:   base,
		n:      n,
		shadow: make([]SlotData, n),
	}
	for i := 0; i < n; i++ {
		r.desc(i).Clear()
	}
	return r, nil
}

func (r *Ring) desc(i int) Desc {
	return Desc(r.mem[i*DescSize : (i+1)*DescSize])
}

func (r *Ring) next(i int) int {
	i++
	if i == r.n {
		return 0
	}
	return i
}

// Kind returns the ring direction.
func (r *Ring) Kind() Kind { return r.kind }

// Len returns the number of descriptors.
func (r *Ring) Len() int { return r.n }

// Cap returns the number of slots that may be in flight at once.
func (r *Ring) Cap() int { return r.n - 1 }

// Head returns the next slot software fills.
func (r *Ring) Head() int { return r.head }

// Tail returns the oldest unreclaimed slot.
func (r *Ring) Tail() int { return r.tail }

// InFlight returns (head - tail) mod Len.
func (r *Ring) InFlight() int {
	return (r.head - r.tail + r.n) % r.n
}

// Base returns the device address of descriptor 0.
func (r *Ring) Base() uint64 { return r.base }

// Addr returns the device address of descriptor i.
func (r *Ring) Addr(i int) uint64 {
	return r.base + uint64(i)*DescSize
}

// Owner reports the current owner of slot i.
func (r *Ring) Owner(i int) Owner {
	if r.desc(i).Status()&Des3OWN != 0 {
		return Hardware
	}
	return Software
}

// Push fills the head slot and hands it to hardware. The OWN bit is
// published last so the DMA engine never observes a partial descriptor.
func (r *Ring) Push(d SlotData) (int, error) {
	if r.InFlight() == r.n-1 {
		return 0, ErrFull
	}
	i := r.head
	desc := r.desc(i)
	if desc.Status()&Des3OWN != 0 {
		return 0, fmt.Errorf("%w: push to slot %d", ErrHardwareOwned, i)
	}

	desc.SetAddr(d.Handle.Addr)
	var w3 uint32
	switch r.kind {
	case Transmit:
		desc.SetWord(2, uint32(d.Length)&Des2B1LMask|Des2IOC)
		w3 = Des3OWN | uint32(d.Length)&Des3FLMask
		if d.Flags&First != 0 {
			w3 |= Des3FD
		}
		if d.Flags&Last != 0 {
			w3 |= Des3LD
		}
	case Receive:
		desc.SetWord(2, 0)
		w3 = Des3ReadFlags
	}
	r.shadow[i] = d
	desc.Publish(w3)
	r.head = r.next(i)
	return i, nil
}

func (r *Ring) slot(i int, status uint32) Slot {
	sd := r.shadow[i]
	s := Slot{
		Index:  i,
		Handle: sd.Handle,
		Buffer: sd.Buffer,
		Length: sd.Length,
		Owner:  Software,
		Flags:  sd.Flags,
		Status: status,
		Cookie: sd.Cookie,
	}
	if status&Des3OWN != 0 {
		s.Owner = Hardware
		return s
	}
	if r.kind == Receive {
		s.Length = int(status & Des3RxPLMask)
		s.Flags = 0
		if status&Des3FD != 0 {
			s.Flags |= First
		}
		if status&Des3LD != 0 {
			s.Flags |= Last
		}
	}
	return s
}

// Peek returns the oldest in-flight slot without advancing.
func (r *Ring) Peek() (Slot, bool) {
	if r.head == r.tail {
		return Slot{}, false
	}
	return r.slot(r.tail, r.desc(r.tail).Status()), true
}

// Advance releases the oldest slot back to software and returns it. The
// caller takes over the slot's handle and buffer.
func (r *Ring) Advance() (Slot, error) {
	if r.head == r.tail {
		return Slot{}, ErrEmpty
	}
	i := r.tail
	desc := r.desc(i)
	status := desc.Status()
	if status&Des3OWN != 0 {
		return Slot{}, fmt.Errorf("%w: advance over slot %d", ErrHardwareOwned, i)
	}
	s := r.slot(i, status)
	r.shadow[i] = SlotData{}
	desc.Clear()
	r.tail = r.next(i)
	return s, nil
}

// Reset drops every in-flight slot regardless of ownership and rewinds the
// ring. It must only be called while the DMA engine is halted. The dropped
// slots are returned so their buffers can be released.
func (r *Ring) Reset() []Slot {
	var out []Slot
	for i := r.tail; i != r.head; i = r.next(i) {
		out = append(out, r.slot(i, r.desc(i).Status()))
	}
	for i := 0; i < r.n; i++ {
		r.shadow[i] = SlotData{}
		r.desc(i).Clear()
	}
	r.head, r.tail = 0, 0
	return out
}
