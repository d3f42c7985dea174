package dwmac

import (
	"fmt"
	"slices"

	"github.com/sophgo/dwmac/internal/dma"
	"github.com/sophgo/dwmac/internal/pcap"
	"github.com/sophgo/dwmac/internal/regs"
	"github.com/sophgo/dwmac/internal/ring"
	"github.com/sophgo/dwmac/internal/status"
)

// Transmit queues one frame. When hdr is nil, payload must already start
// with an Ethernet header; otherwise the header is built from hdr and
// prepended. The payload is copied, so the caller may reuse it at once.
// The same slice is handed back by Reap or GetStatus once the controller
// has finished with the frame.
func (d *Device) Transmit(hdr *Header, payload []byte) error {
	if err := d.checkState("transmit"); err != nil {
		return err
	}
	if err := d.awaitLink(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Initialized {
		return stateError("transmit", d.state)
	}

	total := len(payload)
	if hdr != nil {
		total += HeaderSize
	}
	switch {
	case len(payload) == 0:
		return fmt.Errorf("%w: empty payload", ErrInvalidFrame)
	case total < HeaderSize:
		return fmt.Errorf("%w: %d bytes is shorter than an Ethernet header", ErrInvalidFrame, total)
	case total > d.cfg.BufferSize:
		return fmt.Errorf("%w: %d byte frame exceeds buffer size %d", ErrInvalidFrame, total, d.cfg.BufferSize)
	}

	d.pollStatusLocked()
	if faults := d.takeFaultsLocked(status.Tx); faults != nil {
		return &DeviceError{Dir: status.Tx, Conditions: []status.Condition{status.FatalBus}, Faults: faults}
	}
	d.reclaimTxLocked()
	if d.tx.InFlight() == d.tx.Cap() {
		d.counters.inc(TxRingFullEvents, 1)
		return ErrRingFull
	}

	buf, err := d.pool.Get()
	if err != nil {
		return fmt.Errorf("%w: transmit buffer: %v", ErrResourceExhausted, err)
	}
	off := 0
	if hdr != nil {
		if err := encodeHeader(buf, hdr, d.station); err != nil {
			_ = d.pool.Put(buf)
			return err
		}
		off = HeaderSize
	}
	dma.CopyUnits(buf[off:total], payload, d.cfg.width())
	frame := buf[:total]

	h, err := d.mapper.Map(frame, dma.ToDevice)
	if err != nil {
		_ = d.pool.Put(buf)
		d.counters.inc(TxMapFailures, 1)
		return fmt.Errorf("%w: map transmit buffer: %v", ErrResourceExhausted, err)
	}
	idx, err := d.tx.Push(ring.SlotData{
		Handle: h,
		Buffer: buf,
		Length: total,
		Flags:  ring.Whole,
		Cookie: payload,
	})
	if err != nil {
		_ = d.mapper.Unmap(h)
		_ = d.pool.Put(buf)
		return fmt.Errorf("dwmac: queue transmit: %w", err)
	}
	regs.Doorbell(d.regs, regs.DMAChTxTail, uint32(d.tx.Addr(d.tx.Head())))

	d.capture(pcap.Outbound, frame)
	d.counters.inc(TxQueuedFrames, 1)
	d.counters.inc(TxQueuedBytes, total)
	d.counters.txInFlight.Update(int64(d.tx.InFlight()))
	d.log.Debug("dwmac: transmit queued", "slot", idx, "len", total)
	return nil
}

// Reap returns the oldest payload whose transmission has completed, or nil
// when there is none.
func (d *Device) Reap() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Initialized {
		return nil, stateError("reap", d.state)
	}
	d.reclaimTxLocked()
	return d.popRecycledLocked(), nil
}

func (d *Device) checkState(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Initialized {
		return stateError(op, d.state)
	}
	return nil
}

// reclaimTxLocked releases every completed transmit slot in ring order and
// queues the caller's payload for recycling.
func (d *Device) reclaimTxLocked() {
	for {
		s, ok := d.tx.Peek()
		if !ok || s.Owner == ring.Hardware {
			break
		}
		s, err := d.tx.Advance()
		if err != nil {
			break
		}
		if c := status.DecodeTx(s.Status); !c.OK() {
			d.counters.inc(TxErrorFrames, 1)
			d.log.Warn("dwmac: transmit completed with errors", "slot", s.Index, "conditions", c.Conditions)
			if slices.Contains(c.Conditions, status.CarrierLoss) {
				d.linkLostLocked()
			}
		}
		d.releaseSlot(s)
		d.pushRecycledLocked(s.Cookie)
	}
	d.counters.txInFlight.Update(int64(d.tx.InFlight()))
}

// drainTxLocked drops every in-flight transmit slot. The DMA engine must be
// stopped. Payloads of dropped frames are still recycled.
func (d *Device) drainTxLocked() {
	for _, s := range d.tx.Reset() {
		d.releaseSlot(s)
		d.pushRecycledLocked(s.Cookie)
	}
	d.counters.txInFlight.Update(0)
}

func (d *Device) pushRecycledLocked(cookie any) {
	if b, ok := cookie.([]byte); ok {
		d.recycle = append(d.recycle, b)
	}
}

func (d *Device) popRecycledLocked() []byte {
	if len(d.recycle) == 0 {
		return nil
	}
	b := d.recycle[0]
	d.recycle[0] = nil
	d.recycle = d.recycle[1:]
	if len(d.recycle) == 0 {
		d.recycle = nil
	}
	return b
}

func (d *Device) capture(dir pcap.Direction, frame []byte) {
	if d.tap == nil {
		return
	}
	if err := d.tap.Capture(dir, frame); err != nil {
		d.log.Warn("dwmac: capture failed", "error", err)
	}
}
