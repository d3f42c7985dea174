// Package dma provides device-visible buffer memory for the ring engine:
// a page-aligned arena, fixed-size packet buffer pools carved from it, and
// a mapper that hands out device addresses with an explicit lifetime.
package dma

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMappings is returned by Map when the mapping table is full.
	ErrNoMappings = errors.New("dma: no mapping resources left")
	// ErrPoolExhausted is returned by Pool.Get when every buffer is in use.
	ErrPoolExhausted = errors.New("dma: buffer pool exhausted")
	// ErrArenaFull is returned when an arena cannot satisfy an allocation.
	ErrArenaFull = errors.New("dma: arena full")
	// ErrUnknownHandle is returned by Unmap for handles it did not issue.
	ErrUnknownHandle = errors.New("dma: unknown handle")
)

// Direction describes which side writes a mapped buffer.
type Direction uint8

const (
	ToDevice Direction = iota + 1
	FromDevice
	Bidirectional
)

func (d Direction) String() string {
	switch d {
	case ToDevice:
		return "to-device"
	case FromDevice:
		return "from-device"
	case Bidirectional:
		return "bidirectional"
	}
	return fmt.Sprintf("direction(%d)", uint8(d))
}

// Handle is a device-visible mapping of a buffer. It is valid from Map until
// Unmap and must not be used after.
type Handle struct {
	Addr uint64
	Size int
	Dir  Direction
}

// Valid reports whether h refers to a mapping.
func (h Handle) Valid() bool {
	return h.Addr != 0
}

// Mapper translates CPU buffers into device addresses.
type Mapper interface {
	Map(buf []byte, dir Direction) (Handle, error)
	Unmap(h Handle) error
}
