package dwmac

import (
	"fmt"

	"github.com/sophgo/dwmac/internal/dma"
	"github.com/sophgo/dwmac/internal/pcap"
	"github.com/sophgo/dwmac/internal/regs"
	"github.com/sophgo/dwmac/internal/ring"
	"github.com/sophgo/dwmac/internal/status"
)

// Receive copies the oldest completed frame into buf.
//
// It returns ErrNoFrame when nothing has arrived, and a
// *BufferTooSmallError when buf cannot hold the frame; in both cases the
// ring is left as it was. A frame completed with errors is consumed and
// reported as a *DeviceError. Frames the exact address filter rejects are
// consumed and skipped before the buffer size is checked.
func (d *Device) Receive(buf []byte) (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Initialized {
		return Frame{}, stateError("receive", d.state)
	}

	d.pollStatusLocked()
	if faults := d.takeFaultsLocked(status.Rx); faults != nil {
		return Frame{}, &DeviceError{Dir: status.Rx, Conditions: []status.Condition{status.FatalBus}, Faults: faults}
	}
	if d.rx.InFlight() < d.rx.Cap() {
		// An earlier replenish failed; try again before looking for work.
		if err := d.fillRxLocked(); err == nil {
			regs.Doorbell(d.regs, regs.DMAChRxTail, uint32(d.rx.Addr(d.rx.Head())))
		}
	}

	for {
		s, ok := d.rx.Peek()
		if !ok || s.Owner == ring.Hardware {
			return Frame{}, ErrNoFrame
		}
		c := status.DecodeRx(s.Status)
		if c.OK() && (!(c.First && c.Last) || c.Length > len(s.Buffer)) {
			// Buffers are sized for a whole frame; a split or a length
			// past the buffer means the frame was larger than that.
			c.Conditions = append(c.Conditions, status.Oversize)
		}
		if !c.OK() {
			d.counters.inc(RxErrorFrames, 1)
			d.consumeRxLocked()
			return Frame{}, &DeviceError{Dir: status.Rx, Conditions: c.Conditions}
		}

		data := s.Buffer[:c.Length]
		if d.filter != nil && !d.filter.Match(data) {
			d.counters.inc(RxDroppedFrames, 1)
			d.consumeRxLocked()
			continue
		}
		if len(buf) < c.Length {
			return Frame{}, &BufferTooSmallError{Required: c.Length, Have: len(buf)}
		}
		n := dma.CopyUnits(buf, data, d.cfg.width())
		d.capture(pcap.Inbound, buf[:n])
		d.consumeRxLocked()

		d.counters.inc(RxDeliveredFrames, 1)
		d.counters.inc(RxDeliveredBytes, n)
		return parseFrame(buf[:n]), nil
	}
}

// consumeRxLocked releases the tail slot and posts a fresh buffer in its
// place. The ring's spare descriptor takes the new buffer and the consumed
// descriptor becomes the spare, so the slot count handed to hardware stays
// constant.
func (d *Device) consumeRxLocked() {
	s, err := d.rx.Advance()
	if err != nil {
		d.log.Error("dwmac: advance receive ring", "error", err)
		return
	}
	d.releaseSlot(s)
	if err := d.postRxLocked(); err != nil {
		d.counters.inc(RxReplenishFailures, 1)
		d.log.Warn("dwmac: receive replenish failed", "error", err)
		return
	}
	regs.Doorbell(d.regs, regs.DMAChRxTail, uint32(d.rx.Addr(d.rx.Head())))
}

// postRxLocked maps a pool buffer and hands it to hardware at the ring head.
func (d *Device) postRxLocked() error {
	buf, err := d.pool.Get()
	if err != nil {
		return fmt.Errorf("%w: receive buffer: %v", ErrResourceExhausted, err)
	}
	h, err := d.mapper.Map(buf, dma.FromDevice)
	if err != nil {
		_ = d.pool.Put(buf)
		return fmt.Errorf("%w: map receive buffer: %v", ErrResourceExhausted, err)
	}
	if _, err := d.rx.Push(ring.SlotData{Handle: h, Buffer: buf, Length: len(buf), Flags: ring.Whole}); err != nil {
		_ = d.mapper.Unmap(h)
		_ = d.pool.Put(buf)
		return err
	}
	d.counters.rxPosted.Update(int64(d.rx.InFlight()))
	return nil
}

// fillRxLocked posts buffers until the ring is full.
func (d *Device) fillRxLocked() error {
	for d.rx.InFlight() < d.rx.Cap() {
		if err := d.postRxLocked(); err != nil {
			return err
		}
	}
	return nil
}

// drainRxLocked unmaps every posted receive buffer. The DMA engine must be
// stopped.
func (d *Device) drainRxLocked() {
	for _, s := range d.rx.Reset() {
		d.releaseSlot(s)
	}
	d.counters.rxPosted.Update(0)
}
