// Package pcap records frames crossing the DMA rings as a classic libpcap
// stream so they can be inspected with tcpdump or Wireshark.
package pcap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// LinkTypeEthernet is the DLT value for Ethernet captures.
const LinkTypeEthernet uint32 = 1

// DefaultSnapLen captures a full jumbo frame.
const DefaultSnapLen = 9216

// ErrClosed is returned after Close.
var ErrClosed = errors.New("pcap: tap closed")

// Direction tags a captured frame. Classic pcap has no direction field;
// it is only used for the tap's own counters.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

// Tap writes frames to a pcap stream. The 24-byte global header is emitted
// with the first frame. A Tap is safe for concurrent use.
type Tap struct {
	mu      sync.Mutex
	w       io.Writer
	snapLen uint32
	now     func() time.Time
	started bool
	closed  bool
	counts  [2]uint64
}

// NewTap returns a tap writing to w, truncating frames to snapLen bytes.
// A zero snapLen selects DefaultSnapLen.
func NewTap(w io.Writer, snapLen uint32) *Tap {
	if snapLen == 0 {
		snapLen = DefaultSnapLen
	}
	return &Tap{w: w, snapLen: snapLen, now: time.Now}
}

func (t *Tap) writeHeader() error {
	var hdr [24]byte
	binary.LittleEndian.PutUint32(hdr[0:4], 0xa1b2c3d4)
	binary.LittleEndian.PutUint16(hdr[4:6], 2)
	binary.LittleEndian.PutUint16(hdr[6:8], 4)
	binary.LittleEndian.PutUint32(hdr[16:20], t.snapLen)
	binary.LittleEndian.PutUint32(hdr[20:24], LinkTypeEthernet)
	if _, err := t.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("pcap: write header: %w", err)
	}
	t.started = true
	return nil
}

// Capture appends one frame record.
func (t *Tap) Capture(dir Direction, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if !t.started {
		if err := t.writeHeader(); err != nil {
			return err
		}
	}

	capLen := len(frame)
	if uint32(capLen) > t.snapLen {
		capLen = int(t.snapLen)
	}
	ts := t.now()
	var rec [16]byte
	binary.LittleEndian.PutUint32(rec[0:4], uint32(ts.Unix()))
	binary.LittleEndian.PutUint32(rec[4:8], uint32(ts.Nanosecond()/1_000))
	binary.LittleEndian.PutUint32(rec[8:12], uint32(capLen))
	binary.LittleEndian.PutUint32(rec[12:16], uint32(len(frame)))
	if _, err := t.w.Write(rec[:]); err != nil {
		return fmt.Errorf("pcap: write record header: %w", err)
	}
	if _, err := t.w.Write(frame[:capLen]); err != nil {
		return fmt.Errorf("pcap: write frame: %w", err)
	}
	t.counts[dir&1]++
	return nil
}

// Count returns the number of frames captured in dir.
func (t *Tap) Count(dir Direction) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[dir&1]
}

// Close stops the tap and closes the underlying writer if it is an
// io.Closer.
func (t *Tap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if c, ok := t.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
